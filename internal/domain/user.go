package domain

import "time"

// UserType distinguishes child accounts (enforced) from parents.
type UserType string

const (
	UserTypeChild  UserType = "child"
	UserTypeParent UserType = "parent"
)

// User is one account of the family.
type User struct {
	ID       string
	Name     string
	Type     UserType
	TimeZone string

	// DisableLimitsUntil suspends all rule-based restrictions for every
	// category of this user until the given timestamp.
	DisableLimitsUntil int64

	// CategoryForNotAssignedApps, when set, counts apps without an
	// assigned category against this category instead of blocking them.
	CategoryForNotAssignedApps string
}

// Location resolves the user's time zone, falling back to UTC.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.TimeZone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// Device is one managed device of the family.
type Device struct {
	ID            string
	Name          string
	CurrentUserID string

	// IsUsedTimeDevice marks the authoritative device for time counting
	// of its current user.
	IsUsedTimeDevice bool

	// ConsiderIdle suppresses counting while the screen is off.
	ConsiderIdle bool
}

// UserRelatedData bundles the value snapshot of one user's configuration
// that a single evaluation works on. It is replaced wholesale when the
// configuration changes; evaluators never mutate it.
type UserRelatedData struct {
	User            *User
	CategoryByID    map[string]*Category
	RulesByCategory map[string][]*TimeLimitRule
	// CategoryByApp maps a package name to the ids of the categories the
	// app is assigned to.
	CategoryByApp          map[string][]string
	WhitelistedApps        map[string]bool
	TemporarilyAllowedApps map[string]bool
}

// CategoryIDsForApp resolves the categories an app counts against,
// following the parent-category reference one level for inherited
// settings.
func (d *UserRelatedData) CategoryIDsForApp(packageName string) []string {
	direct := d.CategoryByApp[packageName]
	if len(direct) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(direct)+1)
	result := make([]string, 0, len(direct)+1)
	for _, id := range direct {
		category, ok := d.CategoryByID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		if category.ParentCategoryID != "" && !seen[category.ParentCategoryID] {
			if _, ok := d.CategoryByID[category.ParentCategoryID]; ok {
				seen[category.ParentCategoryID] = true
				result = append(result, category.ParentCategoryID)
			}
		}
	}
	return result
}

// DeviceRelatedData bundles the device configuration snapshot.
type DeviceRelatedData struct {
	Device *Device

	// Experimental flags observed by the loop.
	SlowMainLoop         bool
	MultiAppDetection    bool
	PauseForegroundLoop  bool
	AppDetectionInterval int64
}

// BatteryStatus is the current battery snapshot.
type BatteryStatus struct {
	Level    int
	Charging bool
}

// NetworkIDState describes the outcome of probing the network identity.
type NetworkIDState int

const (
	// NetworkIDMissingPermission means the OS denied reading the
	// network identity.
	NetworkIDMissingPermission NetworkIDState = iota
	// NetworkIDNoNetwork means no identifiable network is connected.
	NetworkIDNoNetwork
	// NetworkIDConnected carries a raw network identifier.
	NetworkIDConnected
)

// NetworkID is the probed network identity of the device.
type NetworkID struct {
	State NetworkIDState
	ID    string
}

// App identifies one running app.
type App struct {
	PackageName  string
	ActivityName string
}
