package handling

import (
	"strings"

	"screentimed/internal/domain"
)

// AppHandlingKind tags the policy outcome for one running app.
type AppHandlingKind int

const (
	// AppHandlingPause: the foreground loop is paused, nothing applies.
	AppHandlingPause AppHandlingKind = iota
	// AppHandlingIdle: no app is running.
	AppHandlingIdle
	// AppHandlingWhitelist: the app is exempt (launcher, system image,
	// or explicitly whitelisted).
	AppHandlingWhitelist
	// AppHandlingTemporarilyAllowed: the app was manually allowed for
	// now.
	AppHandlingTemporarilyAllowed
	// AppHandlingBlockNoCategory: the app has no assigned category and
	// the policy is to block such apps.
	AppHandlingBlockNoCategory
	// AppHandlingUseCategories: the app counts against the carried
	// category ids; the only variant that participates in time counting
	// and blocking evaluation.
	AppHandlingUseCategories
)

func (k AppHandlingKind) String() string {
	switch k {
	case AppHandlingPause:
		return "paused"
	case AppHandlingIdle:
		return "idle"
	case AppHandlingWhitelist:
		return "whitelisted"
	case AppHandlingTemporarilyAllowed:
		return "temporarily allowed"
	case AppHandlingBlockNoCategory:
		return "blocked (no category)"
	case AppHandlingUseCategories:
		return "counted by categories"
	default:
		return "unknown"
	}
}

// AppHandling is the classification of one running app for one tick. It
// is computed fresh every tick and discarded after use.
type AppHandling struct {
	Kind        AppHandlingKind
	PackageName string

	// CategoryIDs is populated for AppHandlingUseCategories only.
	CategoryIDs []string

	// ShouldCount is false while counting is globally paused; blocking
	// still applies.
	ShouldCount bool
}

// NeedsCategories reports whether this handling participates in category
// evaluation.
func (h AppHandling) NeedsCategories() bool {
	return h.Kind == AppHandlingUseCategories
}

// BlocksOutright reports whether this handling blocks without any
// category verdict.
func (h AppHandling) BlocksOutright() bool {
	return h.Kind == AppHandlingBlockNoCategory
}

// launcher-ish packages are never blocked; blocking the launcher would
// brick the device.
func isLauncherApp(packageName string) bool {
	return strings.HasSuffix(packageName, ".launcher") ||
		packageName == "com.android.systemui"
}

// ClassifyAppParams are the inputs of one app classification.
type ClassifyAppParams struct {
	App                 *domain.App // nil when nothing is running
	PauseForegroundLoop bool
	User                *domain.UserRelatedData
	Device              *domain.DeviceRelatedData
	PauseCounting       bool
	IsSystemImageApp    bool
}

// ClassifyApp maps a running app to its policy outcome. First match wins.
func ClassifyApp(params ClassifyAppParams) AppHandling {
	if params.PauseForegroundLoop {
		return AppHandling{Kind: AppHandlingPause}
	}
	if params.App == nil || params.App.PackageName == "" {
		return AppHandling{Kind: AppHandlingIdle}
	}

	packageName := params.App.PackageName

	if params.IsSystemImageApp {
		return AppHandling{Kind: AppHandlingWhitelist, PackageName: packageName}
	}
	if params.User.TemporarilyAllowedApps[packageName] {
		return AppHandling{Kind: AppHandlingTemporarilyAllowed, PackageName: packageName}
	}
	if isLauncherApp(packageName) || params.User.WhitelistedApps[packageName] {
		return AppHandling{Kind: AppHandlingWhitelist, PackageName: packageName}
	}

	categoryIDs := params.User.CategoryIDsForApp(packageName)
	if len(categoryIDs) == 0 {
		// Fall back to the catch-all category when configured.
		if fallback := params.User.User.CategoryForNotAssignedApps; fallback != "" {
			if _, ok := params.User.CategoryByID[fallback]; ok {
				categoryIDs = []string{fallback}
			}
		}
	}
	if len(categoryIDs) == 0 {
		return AppHandling{Kind: AppHandlingBlockNoCategory, PackageName: packageName}
	}

	return AppHandling{
		Kind:        AppHandlingUseCategories,
		PackageName: packageName,
		CategoryIDs: categoryIDs,
		ShouldCount: !params.PauseCounting,
	}
}
