package loop

import (
	"fmt"

	"screentimed/internal/domain"
	"screentimed/internal/handling"
)

// statusPageSlice is how long one status page stays visible before the
// display rotates to the next.
const statusPageSlice = 3 * 1000

// updateStatusMessage composes the rotating status display: one page per
// active app/category combination, cycling on a fixed time slice.
func (l *Loop) updateStatusMessage(
	apps []domain.App,
	appHandlings []handling.AppHandling,
	categoryHandlings map[string]*handling.CategoryHandling,
	uptime int64,
) {
	pages := l.composeStatusPages(apps, appHandlings, categoryHandlings)
	if len(pages) == 0 {
		pages = []string{"nothing running"}
	}

	page := pages[(uptime/statusPageSlice)%int64(len(pages))]
	if page == l.st.lastStatusPage {
		return
	}
	l.st.lastStatusPage = page
	l.platform.SetStatusMessage(page)
}

func (l *Loop) composeStatusPages(
	apps []domain.App,
	appHandlings []handling.AppHandling,
	categoryHandlings map[string]*handling.CategoryHandling,
) []string {
	var pages []string

	for i, ah := range appHandlings {
		switch ah.Kind {
		case handling.AppHandlingIdle:
			pages = append(pages, "idle")
		case handling.AppHandlingPause:
			pages = append(pages, "paused")
		case handling.AppHandlingWhitelist:
			pages = append(pages, fmt.Sprintf("%s: allowed", apps[i].PackageName))
		case handling.AppHandlingTemporarilyAllowed:
			pages = append(pages, fmt.Sprintf("%s: temporarily allowed", apps[i].PackageName))
		case handling.AppHandlingBlockNoCategory:
			pages = append(pages, fmt.Sprintf("%s: blocked, no category assigned", apps[i].PackageName))
		case handling.AppHandlingUseCategories:
			for _, categoryID := range ah.CategoryIDs {
				h, ok := categoryHandlings[categoryID]
				if !ok {
					continue
				}
				title := categoryID
				if category, found := l.st.userData.CategoryByID[categoryID]; found {
					title = category.Title
				}
				pages = append(pages, l.categoryStatusPage(title, categoryID, h))
			}
		}
	}

	return pages
}

func (l *Loop) categoryStatusPage(title, categoryID string, h *handling.CategoryHandling) string {
	if h.ShouldBlockActivities {
		return fmt.Sprintf("%s: %s", title, h.Reason)
	}
	if h.RemainingTime == nil {
		return fmt.Sprintf("%s: no time limit", title)
	}

	remaining := h.RemainingTime.IncludingExtraTime - l.batcher.PendingFor(categoryID)
	if remaining < 0 {
		remaining = 0
	}
	if h.UsingExtraTime {
		return fmt.Sprintf("%s: %s extra time left", title, formatDuration(remaining))
	}
	return fmt.Sprintf("%s: %s left", title, formatDuration(remaining))
}

// formatDuration renders milliseconds as a compact "1h 05m" style string.
func formatDuration(millis int64) string {
	if millis < 0 {
		millis = 0
	}
	totalMinutes := millis / (60 * 1000)
	hours := totalMinutes / 60
	minutes := totalMinutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	}
	if totalMinutes == 0 {
		return fmt.Sprintf("%ds", millis/1000)
	}
	return fmt.Sprintf("%dm", minutes)
}
