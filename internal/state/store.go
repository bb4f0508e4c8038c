package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/espkit/esphub/internal/api"
)

// ErrInvalidState marks a local precondition violation, e.g. opening a
// file with an empty path or activating an unknown tab.
var ErrInvalidState = errors.New("invalid state")

// Store is the single source of truth for the session. All writes go
// through the mutation methods below; all reads return copies so callers
// cannot mutate shared state behind the store's back.
type Store struct {
	mu sync.Mutex

	projects []api.Project
	devices  []api.Device

	open []*OpenFile // insertion order = tab order

	activeProject string
	activeFile    fileKey
	tab           Tab

	progress ProgressStatus

	now func() time.Time
}

func NewStore() *Store {
	return &Store{tab: TabProjects, now: time.Now}
}

// WithClock overrides the time source; tests use a fixed clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

// ReplaceProjects swaps the project list wholesale, keyed by name.
func (s *Store) ReplaceProjects(projects []api.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append([]api.Project(nil), projects...)
}

// ReplaceDevices swaps the device list wholesale, keyed by port.
func (s *Store) ReplaceDevices(devices []api.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append([]api.Device(nil), devices...)
}

// fileKey identifies one open buffer. Paths repeat across projects
// (every project has a main.py), so a buffer is scoped to its project.
type fileKey struct {
	project string
	path    string
}

// OpenFile inserts or overwrites the buffer for (project, path) with
// Modified=false. A same-named file in another project is a different
// buffer and is left alone. Opening a file from a different project
// switches the active project first; the opened file becomes active.
func (s *Store) OpenFile(project, path, content string) error {
	if path == "" {
		return fmt.Errorf("%w: open file with empty path", ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if project != "" && project != s.activeProject {
		s.activeProject = project
	}
	if f := s.findLocked(project, path); f != nil {
		f.Content = content
		f.saved = content
		f.Modified = false
	} else {
		s.open = append(s.open, &OpenFile{
			Project:  project,
			Path:     path,
			Content:  content,
			saved:    content,
			OpenedAt: s.now(),
		})
	}
	s.activeFile = fileKey{project: project, path: path}
	return nil
}

// EditActiveFile replaces the active buffer's content. The modified flag
// tracks whether the buffer differs from the last loaded or saved content,
// so editing back to the baseline clears it. No-op without an active file.
func (s *Store) EditActiveFile(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findLocked(s.activeFile.project, s.activeFile.path)
	if f == nil {
		return
	}
	f.Content = content
	f.Modified = content != f.saved
}

// MarkSaved records a successful persist. Content is untouched.
func (s *Store) MarkSaved(project, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findLocked(project, path)
	if f == nil {
		return fmt.Errorf("%w: mark saved for unopened file %s/%s", ErrInvalidState, project, path)
	}
	f.saved = f.Content
	f.Modified = false
	return nil
}

// CloseFile removes the buffer. Closing the active file activates the
// most recently opened remaining file, or clears the active file. The
// store performs no unsaved-change confirmation; that is the caller's job.
func (s *Store) CloseFile(project, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fileKey{project: project, path: path}
	for i, f := range s.open {
		if f.Project == project && f.Path == path {
			s.open = append(s.open[:i], s.open[i+1:]...)
			break
		}
	}
	if s.activeFile == key {
		if n := len(s.open); n > 0 {
			last := s.open[n-1]
			s.activeFile = fileKey{project: last.Project, path: last.Path}
		} else {
			s.activeFile = fileKey{}
		}
	}
}

// SetActiveFile switches focus to an already open buffer without
// touching its content or saved baseline.
func (s *Store) SetActiveFile(project, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findLocked(project, path)
	if f == nil {
		return fmt.Errorf("%w: no open buffer for %s/%s", ErrInvalidState, project, path)
	}
	s.activeFile = fileKey{project: project, path: path}
	s.activeProject = f.Project
	return nil
}

func (s *Store) SetActiveProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeProject = name
}

func (s *Store) SetActiveTab(tab Tab) error {
	if !ValidTab(tab) {
		return fmt.Errorf("%w: unknown tab %q", ErrInvalidState, tab)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tab = tab
	return nil
}

func (s *Store) SetProgress(progress ProgressStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
}

func (s *Store) Projects() []api.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Project(nil), s.projects...)
}

func (s *Store) Devices() []api.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Device(nil), s.devices...)
}

func (s *Store) Project(name string) (api.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			return p, true
		}
	}
	return api.Project{}, false
}

func (s *Store) Device(port string) (api.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Port == port {
			return d, true
		}
	}
	return api.Device{}, false
}

// OpenFiles returns buffer copies in insertion (tab) order.
func (s *Store) OpenFiles() []OpenFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OpenFile, 0, len(s.open))
	for _, f := range s.open {
		out = append(out, *f)
	}
	return out
}

func (s *Store) File(project, path string) (OpenFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := s.findLocked(project, path); f != nil {
		return *f, true
	}
	return OpenFile{}, false
}

func (s *Store) ActiveFile() (OpenFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := s.findLocked(s.activeFile.project, s.activeFile.path); f != nil {
		return *f, true
	}
	return OpenFile{}, false
}

func (s *Store) ActiveProject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeProject
}

func (s *Store) ActiveTab() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

func (s *Store) Progress() ProgressStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// HasModifiedFor reports whether any open buffer for project carries
// unsaved edits.
func (s *Store) HasModifiedFor(project string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.open {
		if f.Project == project && f.Modified {
			return true
		}
	}
	return false
}

func (s *Store) ModifiedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.open {
		if f.Modified {
			n++
		}
	}
	return n
}

func (s *Store) findLocked(project, path string) *OpenFile {
	if path == "" {
		return nil
	}
	for _, f := range s.open {
		if f.Project == project && f.Path == path {
			return f
		}
	}
	return nil
}
