package state

import (
	"strings"
	"time"

	"github.com/espkit/esphub/internal/api"
)

// Tab is the active dashboard pane.
type Tab string

const (
	TabProjects Tab = "projects"
	TabDevices  Tab = "devices"
	TabEditor   Tab = "editor"
	TabLogs     Tab = "logs"
)

// Tabs lists every tab in display order.
var Tabs = []Tab{TabProjects, TabDevices, TabEditor, TabLogs}

func ValidTab(tab Tab) bool {
	switch tab {
	case TabProjects, TabDevices, TabEditor, TabLogs:
		return true
	}
	return false
}

func CanonicalTab(raw string) (Tab, bool) {
	tab := Tab(strings.ToLower(strings.TrimSpace(raw)))
	return tab, ValidTab(tab)
}

// OpenFile is an in-memory editable buffer for one project file. The
// Modified flag is true iff Content differs from the last loaded or saved
// content; it is derived, never set directly.
type OpenFile struct {
	Project  string
	Path     string
	Content  string
	Modified bool
	OpenedAt time.Time

	// saved is the baseline the Modified flag is computed against.
	saved string
}

// ProgressStatus is the last known progress message derived from the
// build channel. It is display state only; authoritative build outcomes
// come from snapshots.
type ProgressStatus struct {
	Kind    api.ProgressKind
	Project string
	Message string
	Busy    bool
	At      time.Time
}
