package state

import (
	"errors"
	"testing"
	"time"

	"github.com/espkit/esphub/internal/api"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	s := NewStore()
	err := s.OpenFile("blinky", "", "x")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestOpenFileSwitchesActiveProject(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	s.SetActiveProject("blinky")
	if err := s.OpenFile("weather", "main.py", "print(1)"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.ActiveProject(); got != "weather" {
		t.Fatalf("expected active project weather, got %q", got)
	}
	f, ok := s.ActiveFile()
	if !ok || f.Path != "main.py" || f.Modified {
		t.Fatalf("unexpected active file: %+v ok=%v", f, ok)
	}
}

func TestModifiedTracksBaseline(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	if err := s.OpenFile("blinky", "main.py", "print(1)"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.EditActiveFile("print(2)")
	if f, _ := s.ActiveFile(); !f.Modified {
		t.Fatal("expected modified after edit")
	}
	s.EditActiveFile("print(1)")
	if f, _ := s.ActiveFile(); f.Modified {
		t.Fatal("editing back to baseline should clear modified")
	}
	s.EditActiveFile("print(3)")
	if err := s.MarkSaved("blinky", "main.py"); err != nil {
		t.Fatalf("mark saved: %v", err)
	}
	f, _ := s.ActiveFile()
	if f.Modified || f.Content != "print(3)" {
		t.Fatalf("save should keep content and clear modified: %+v", f)
	}
}

func TestMarkSavedUnknownPath(t *testing.T) {
	s := NewStore()
	if err := s.MarkSaved("blinky", "nope.py"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEditWithoutActiveFileIsNoop(t *testing.T) {
	s := NewStore()
	s.EditActiveFile("anything")
	if files := s.OpenFiles(); len(files) != 0 {
		t.Fatalf("expected no buffers, got %d", len(files))
	}
}

func TestCloseFileActivatesMostRecentlyOpened(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	for _, path := range []string{"a.py", "b.py", "c.py"} {
		if err := s.OpenFile("blinky", path, ""); err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
	}
	s.CloseFile("blinky", "c.py")
	if f, ok := s.ActiveFile(); !ok || f.Path != "b.py" {
		t.Fatalf("expected b.py active, got %+v ok=%v", f, ok)
	}
	s.CloseFile("blinky", "a.py")
	if f, ok := s.ActiveFile(); !ok || f.Path != "b.py" {
		t.Fatalf("closing inactive file must not change active, got %+v ok=%v", f, ok)
	}
	s.CloseFile("blinky", "b.py")
	if _, ok := s.ActiveFile(); ok {
		t.Fatal("expected no active file after closing everything")
	}
	if files := s.OpenFiles(); len(files) != 0 {
		t.Fatalf("expected empty buffer list, got %d", len(files))
	}
}

func TestActiveFileAlwaysValid(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	if err := s.OpenFile("blinky", "a.py", ""); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.OpenFile("blinky", "b.py", ""); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.CloseFile("blinky", "b.py")
	f, ok := s.ActiveFile()
	if !ok {
		t.Fatal("expected an active file")
	}
	found := false
	for _, open := range s.OpenFiles() {
		if open.Path == f.Path {
			found = true
		}
	}
	if !found {
		t.Fatalf("active file %q not in open set", f.Path)
	}
}

func TestReopenResetsBaselineInPlace(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	if err := s.OpenFile("blinky", "a.py", "old"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.OpenFile("blinky", "b.py", ""); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.EditActiveFile("dirty")
	if err := s.OpenFile("blinky", "a.py", "new"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	files := s.OpenFiles()
	if len(files) != 2 || files[0].Path != "a.py" {
		t.Fatalf("reopen must keep tab order, got %+v", files)
	}
	if files[0].Modified || files[0].Content != "new" {
		t.Fatalf("reopen must reset buffer: %+v", files[0])
	}
}

func TestSetActiveTabValidation(t *testing.T) {
	s := NewStore()
	if err := s.SetActiveTab(TabEditor); err != nil {
		t.Fatalf("set tab: %v", err)
	}
	if got := s.ActiveTab(); got != TabEditor {
		t.Fatalf("expected editor tab, got %s", got)
	}
	if err := s.SetActiveTab(Tab("simulate")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := s.ActiveTab(); got != TabEditor {
		t.Fatalf("invalid transition must not change tab, got %s", got)
	}
}

func TestReplaceListsAreCopies(t *testing.T) {
	s := NewStore()
	in := []api.Project{{Name: "blinky"}}
	s.ReplaceProjects(in)
	in[0].Name = "mutated"
	if p, ok := s.Project("blinky"); !ok || p.Name != "blinky" {
		t.Fatalf("store must not alias caller slice: %+v ok=%v", p, ok)
	}
	out := s.Projects()
	out[0].Name = "mutated"
	if p, _ := s.Project("blinky"); p.Name != "blinky" {
		t.Fatal("reads must return copies")
	}
}

func TestHasModifiedFor(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	if err := s.OpenFile("blinky", "a.py", "x"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.HasModifiedFor("blinky") {
		t.Fatal("fresh buffer is not modified")
	}
	s.EditActiveFile("y")
	if !s.HasModifiedFor("blinky") {
		t.Fatal("expected modified buffer for blinky")
	}
	if s.HasModifiedFor("weather") {
		t.Fatal("unrelated project must not report modified")
	}
	if s.ModifiedCount() != 1 {
		t.Fatalf("expected one modified buffer, got %d", s.ModifiedCount())
	}
}

func TestSetActiveFileKeepsBaseline(t *testing.T) {
	s := NewStore()
	if err := s.OpenFile("blinky", "main.py", "x"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.OpenFile("blinky", "boot.py", "y"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.EditActiveFile("y2")

	if err := s.SetActiveFile("blinky", "main.py"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if f, _ := s.ActiveFile(); f.Path != "main.py" {
		t.Fatalf("expected main.py active, got %+v", f)
	}
	if f, _ := s.File("blinky", "boot.py"); f.Content != "y2" || !f.Modified {
		t.Fatalf("switching focus must not touch buffers: %+v", f)
	}
	if err := s.SetActiveFile("blinky", "nope.py"); err == nil {
		t.Fatal("expected error for unknown buffer")
	}
}

func TestSamePathInAnotherProjectIsASeparateBuffer(t *testing.T) {
	s := NewStore().WithClock(fixedClock())
	if err := s.OpenFile("alpha", "main.py", "print(1)"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.EditActiveFile("print(2)")

	if err := s.OpenFile("beta", "main.py", "import beta"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := len(s.OpenFiles()); got != 2 {
		t.Fatalf("expected two buffers, got %d", got)
	}
	if !s.HasModifiedFor("alpha") {
		t.Fatal("alpha's unsaved buffer must survive opening beta's main.py")
	}
	f, ok := s.File("alpha", "main.py")
	if !ok || f.Content != "print(2)" || !f.Modified {
		t.Fatalf("alpha buffer touched: %+v ok=%v", f, ok)
	}
	if active, _ := s.ActiveFile(); active.Project != "beta" {
		t.Fatalf("expected beta's buffer active, got %+v", active)
	}

	s.CloseFile("beta", "main.py")
	if f, _ := s.File("alpha", "main.py"); f.Content != "print(2)" {
		t.Fatalf("closing beta's buffer touched alpha's: %+v", f)
	}
}

func TestCanonicalTab(t *testing.T) {
	if tab, ok := CanonicalTab(" Devices "); !ok || tab != TabDevices {
		t.Fatalf("expected devices, got %q ok=%v", tab, ok)
	}
	if _, ok := CanonicalTab("info"); ok {
		t.Fatal("info is not a tab")
	}
}
