package handling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"screentimed/internal/domain"
)

func TestAnonymizeNetworkID(t *testing.T) {
	first := AnonymizeNetworkID("salt", "home-wifi")
	second := AnonymizeNetworkID("salt", "home-wifi")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// A different salt or id yields a different hash.
	assert.NotEqual(t, first, AnonymizeNetworkID("other", "home-wifi"))
	assert.NotEqual(t, first, AnonymizeNetworkID("salt", "cafe-wifi"))
}

func TestMatchesAnyNetwork(t *testing.T) {
	items := []domain.CategoryNetwork{
		{ItemID: "a", Salt: "s1", HashedID: AnonymizeNetworkID("s1", "home")},
		{ItemID: "b", Salt: "s2", HashedID: AnonymizeNetworkID("s2", "office")},
	}

	assert.True(t, matchesAnyNetwork(items, "home"))
	assert.True(t, matchesAnyNetwork(items, "office"))
	assert.False(t, matchesAnyNetwork(items, "cafe"))
	assert.False(t, matchesAnyNetwork(nil, "home"))
}
