// Package tui is the dashboard: a single update loop that owns every
// state mutation. Push events arrive through the connection supervisor,
// user actions fan out as async commands, and both re-enter the loop as
// messages. Nothing outside this loop writes the session store.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/espkit/esphub/internal/api"
	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/config"
	"github.com/espkit/esphub/internal/hubclient"
	"github.com/espkit/esphub/internal/notify"
	"github.com/espkit/esphub/internal/reconcile"
	"github.com/espkit/esphub/internal/state"
)

type promptKind int

const (
	promptNone promptKind = iota
	promptNewProject
	promptOpenFile
	promptDeleteProject
)

const maxLogLines = 500

// Deps carries the long-lived collaborators the dashboard drives.
type Deps struct {
	Client     *hubclient.Client
	Supervisor *channel.Supervisor
	Store      *state.Store
	Sink       *notify.Sink
	Reconciler *reconcile.Reconciler
	Config     config.Config
	Logger     *slog.Logger
}

type Model struct {
	ctx  context.Context
	deps Deps
	log  *slog.Logger

	projectTable table.Model
	deviceTable  table.Model
	editor       textarea.Model
	logView      viewport.Model
	prompt       textinput.Model
	spin         spinner.Model

	promptMode promptKind
	liveState  channel.ConnState
	logLines   []string
	width      int
	height     int
	ready      bool
	quitting   bool
}

func NewModel(ctx context.Context, deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	projects := table.New(
		table.WithColumns(projectColumns(80)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	devices := table.New(
		table.WithColumns(deviceColumns(80)),
		table.WithHeight(12),
	)
	for _, t := range []*table.Model{&projects, &devices} {
		styles := table.DefaultStyles()
		styles.Header = styles.Header.Bold(true).BorderBottom(true)
		styles.Selected = styles.Selected.Reverse(true)
		t.SetStyles(styles)
	}

	editor := textarea.New()
	editor.Placeholder = "no file open"
	editor.CharLimit = 0

	prompt := textinput.New()
	prompt.CharLimit = 128

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		ctx:          ctx,
		deps:         deps,
		log:          deps.Logger,
		projectTable: projects,
		deviceTable:  devices,
		editor:       editor,
		logView:      viewport.New(80, 20),
		prompt:       prompt,
		spin:         spin,
		liveState:    channel.StateConnecting,
	}
}

func (m Model) Init() tea.Cmd {
	m.deps.Supervisor.StartLiveUpdates(m.ctx)
	return tea.Batch(
		m.spin.Tick,
		waitForChannelEvent(m.deps.Supervisor.Events()),
		loadSnapshotCmd(m.ctx, m.deps.Client),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case channelEventMsg:
		cmds = append(cmds, m.applyChannelEvent(msg.event)...)
		cmds = append(cmds, waitForChannelEvent(m.deps.Supervisor.Events()))

	case snapshotLoadedMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelWarn, fmt.Sprintf("refresh failed: %v", msg.err))
		} else {
			m.deps.Reconciler.ApplySnapshot(msg.snapshot)
		}
		m.syncTables()

	case fileLoadedMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("open %s: %v", msg.path, msg.err))
			break
		}
		if err := m.deps.Store.OpenFile(msg.project, msg.path, msg.content); err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("open %s: %v", msg.path, err))
			break
		}
		m.editor.SetValue(msg.content)
		cmds = append(cmds, m.setTab(state.TabEditor))

	case fileSavedMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("save %s: %v", msg.path, msg.err))
			break
		}
		if err := m.deps.Store.MarkSaved(msg.project, msg.path); err == nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, fmt.Sprintf("saved %s", msg.path))
		}

	case buildTriggeredMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("build %s: %v", msg.project, msg.err))
			break
		}
		// Progress arrives on a dedicated socket scoped to this build.
		m.deps.Supervisor.OpenBuildChannel(m.ctx, msg.project)
		m.deps.Sink.Post(notify.ClassProgress, notify.LevelInfo, fmt.Sprintf("build of %s requested", msg.project))

	case deployTriggeredMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("deploy %s: %v", msg.project, msg.err))
			break
		}
		m.deps.Supervisor.OpenBuildChannel(m.ctx, msg.project)
		m.deps.Sink.Post(notify.ClassProgress, notify.LevelInfo,
			fmt.Sprintf("deploy of %s to %s requested", msg.project, msg.port))

	case projectCreatedMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("create %s: %v", msg.name, msg.err))
			break
		}
		m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, fmt.Sprintf("created %s", msg.name))
		cmds = append(cmds, loadSnapshotCmd(m.ctx, m.deps.Client))

	case projectDeletedMsg:
		if msg.err != nil {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelError, fmt.Sprintf("delete %s: %v", msg.name, msg.err))
			break
		}
		m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, fmt.Sprintf("deleted %s", msg.name))
		cmds = append(cmds, loadSnapshotCmd(m.ctx, m.deps.Client))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// applyChannelEvent routes one push event through the reconciler. Only
// terminal progress events need a follow-up command; the refresh happens
// off the update loop so a slow hub never freezes the UI.
func (m *Model) applyChannelEvent(ev channel.Event) []tea.Cmd {
	var cmds []tea.Cmd
	switch ev := ev.(type) {
	case channel.ProgressEvent:
		if m.deps.Reconciler.ApplyProgress(m.ctx, ev.Event) {
			cmds = append(cmds, loadSnapshotCmd(m.ctx, m.deps.Client))
		}
	case channel.LogLineEvent:
		m.deps.Reconciler.ApplyLogLine(m.ctx, ev.Port, ev.Line)
		m.appendLogLine(ev.Line)
	case channel.StatusEvent:
		if ev.Source == channel.SourceLive {
			m.liveState = ev.State
		}
		m.deps.Reconciler.Apply(m.ctx, ev)
	default:
		m.deps.Reconciler.Apply(m.ctx, ev)
	}
	m.syncTables()
	return cmds
}

func (m *Model) appendLogLine(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	atBottom := m.logView.AtBottom()
	m.logView.SetContent(strings.Join(m.logLines, "\n"))
	if atBottom {
		m.logView.GotoBottom()
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.promptMode != promptNone {
		return m.handlePromptKey(msg)
	}
	if m.deps.Store.ActiveTab() == state.TabEditor && m.editor.Focused() {
		return m.handleEditorKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		m.deps.Supervisor.CloseAll()
		return tea.Quit
	case "tab":
		return m.cycleTab(1)
	case "shift+tab":
		return m.cycleTab(-1)
	case "r":
		return loadSnapshotCmd(m.ctx, m.deps.Client)
	}

	switch m.deps.Store.ActiveTab() {
	case state.TabProjects:
		return m.handleProjectsKey(msg)
	case state.TabDevices:
		return m.handleDevicesKey(msg)
	case state.TabEditor:
		return m.handleEditorTabKey(msg)
	case state.TabLogs:
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return cmd
	}
	return nil
}

func (m *Model) handleProjectsKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		if name := m.selectedProject(); name != "" {
			m.deps.Store.SetActiveProject(name)
			m.openPrompt(promptOpenFile, "file path (e.g. main.py)")
		}
		return nil
	case "b":
		if name := m.selectedProject(); name != "" {
			m.deps.Store.SetActiveProject(name)
			return triggerBuildCmd(m.ctx, m.deps.Client, name)
		}
		return nil
	case "d":
		name := m.selectedProject()
		if name == "" {
			return nil
		}
		port, ok := m.firstConnectedPort()
		if !ok {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelWarn, "no connected device to deploy to")
			return nil
		}
		m.deps.Store.SetActiveProject(name)
		return triggerDeployCmd(m.ctx, m.deps.Client, name, port)
	case "n":
		m.openPrompt(promptNewProject, "new project name")
		return nil
	case "x":
		if name := m.selectedProject(); name != "" {
			m.openPrompt(promptDeleteProject, fmt.Sprintf("type %s to delete", name))
		}
		return nil
	}
	var cmd tea.Cmd
	m.projectTable, cmd = m.projectTable.Update(msg)
	return cmd
}

func (m *Model) handleDevicesKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter", "l":
		port := m.selectedDevicePort()
		if port == "" {
			return nil
		}
		if m.deps.Supervisor.ToggleLogChannel(m.ctx, port) {
			m.logLines = nil
			m.logView.SetContent("")
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, fmt.Sprintf("tailing %s", port))
			return m.setTab(state.TabLogs)
		}
		m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, fmt.Sprintf("stopped tailing %s", port))
		return nil
	}
	var cmd tea.Cmd
	m.deviceTable, cmd = m.deviceTable.Update(msg)
	return cmd
}

// handleEditorTabKey handles the editor tab while the buffer is unfocused.
func (m *Model) handleEditorTabKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "e", "enter":
		if _, ok := m.deps.Store.ActiveFile(); ok {
			return m.editor.Focus()
		}
		return nil
	case "o":
		if m.deps.Store.ActiveProject() == "" {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelWarn, "select a project first")
			return nil
		}
		m.openPrompt(promptOpenFile, "file path (e.g. main.py)")
		return nil
	case "w":
		if file, ok := m.deps.Store.ActiveFile(); ok {
			m.deps.Store.CloseFile(file.Project, file.Path)
			m.reloadEditor()
		}
		return nil
	case "]", "[":
		m.cycleOpenFile(msg.String() == "]")
		return nil
	case "ctrl+s":
		return m.saveActiveFile()
	}
	return nil
}

// handleEditorKey handles keys while the buffer is focused: everything
// feeds the textarea except save and unfocus.
func (m *Model) handleEditorKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.editor.Blur()
		return nil
	case "ctrl+s":
		return m.saveActiveFile()
	case "ctrl+c":
		m.quitting = true
		m.deps.Supervisor.CloseAll()
		return tea.Quit
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	m.deps.Store.EditActiveFile(m.editor.Value())
	return cmd
}

func (m *Model) openPrompt(mode promptKind, placeholder string) {
	m.promptMode = mode
	m.prompt.Placeholder = placeholder
	m.prompt.SetValue("")
	m.prompt.Focus()
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.promptMode = promptNone
		m.prompt.Blur()
		return nil
	case "enter":
		value := strings.TrimSpace(m.prompt.Value())
		mode := m.promptMode
		m.promptMode = promptNone
		m.prompt.Blur()
		return m.submitPrompt(mode, value)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return cmd
}

func (m *Model) submitPrompt(mode promptKind, value string) tea.Cmd {
	if value == "" {
		return nil
	}
	switch mode {
	case promptNewProject:
		req := hubclient.CreateProjectRequest{Name: value, Template: m.deps.Config.DefaultTemplate}
		return createProjectCmd(m.ctx, m.deps.Client, req)
	case promptOpenFile:
		project := m.deps.Store.ActiveProject()
		if project == "" {
			return nil
		}
		// Re-opening an already loaded buffer must not refetch over an
		// unsaved edit.
		if _, ok := m.deps.Store.File(project, value); ok {
			if err := m.deps.Store.SetActiveFile(project, value); err == nil {
				m.reloadEditor()
				return m.setTab(state.TabEditor)
			}
			return nil
		}
		return loadFileCmd(m.ctx, m.deps.Client, project, value)
	case promptDeleteProject:
		if value != m.selectedProject() {
			m.deps.Sink.Post(notify.ClassNotice, notify.LevelWarn, "delete aborted: name mismatch")
			return nil
		}
		return deleteProjectCmd(m.ctx, m.deps.Client, value)
	}
	return nil
}

func (m *Model) saveActiveFile() tea.Cmd {
	file, ok := m.deps.Store.ActiveFile()
	if !ok {
		return nil
	}
	if !file.Modified {
		m.deps.Sink.Post(notify.ClassNotice, notify.LevelInfo, "no changes to save")
		return nil
	}
	return saveFileCmd(m.ctx, m.deps.Client, file.Project, file.Path, file.Content)
}

func (m *Model) cycleOpenFile(forward bool) {
	files := m.deps.Store.OpenFiles()
	if len(files) < 2 {
		return
	}
	active, _ := m.deps.Store.ActiveFile()
	idx := 0
	for i, f := range files {
		if f.Project == active.Project && f.Path == active.Path {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(files)
	} else {
		idx = (idx - 1 + len(files)) % len(files)
	}
	next := files[idx]
	if err := m.deps.Store.SetActiveFile(next.Project, next.Path); err == nil {
		m.reloadEditor()
	}
}

// reloadEditor repoints the textarea at the active buffer.
func (m *Model) reloadEditor() {
	if file, ok := m.deps.Store.ActiveFile(); ok {
		m.editor.SetValue(file.Content)
	} else {
		m.editor.SetValue("")
		m.editor.Blur()
	}
}

func (m *Model) cycleTab(step int) tea.Cmd {
	current := m.deps.Store.ActiveTab()
	idx := 0
	for i, tab := range state.Tabs {
		if tab == current {
			idx = i
			break
		}
	}
	idx = (idx + step + len(state.Tabs)) % len(state.Tabs)
	return m.setTab(state.Tabs[idx])
}

// setTab switches the visible tab. Entering a server-backed tab also
// requests a fresh snapshot, so a switch while the live stream is down
// does not show stale data.
func (m *Model) setTab(tab state.Tab) tea.Cmd {
	if err := m.deps.Store.SetActiveTab(tab); err != nil {
		return nil
	}
	m.projectTable.Blur()
	m.deviceTable.Blur()
	switch tab {
	case state.TabProjects:
		m.projectTable.Focus()
		return loadSnapshotCmd(m.ctx, m.deps.Client)
	case state.TabDevices:
		m.deviceTable.Focus()
		return loadSnapshotCmd(m.ctx, m.deps.Client)
	case state.TabEditor:
		m.reloadEditor()
	}
	return nil
}

func (m *Model) selectedProject() string {
	row := m.projectTable.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSuffix(row[0], "*")
}

func (m *Model) selectedDevicePort() string {
	row := m.deviceTable.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func (m *Model) firstConnectedPort() (string, bool) {
	if port := m.selectedDevicePort(); port != "" {
		if dev, ok := m.deps.Store.Device(port); ok && dev.State == api.DeviceConnected {
			return port, true
		}
	}
	for _, dev := range m.deps.Store.Devices() {
		if dev.State == api.DeviceConnected {
			return dev.Port, true
		}
	}
	return "", false
}

func (m *Model) syncTables() {
	projects := m.deps.Store.Projects()
	rows := make([]table.Row, 0, len(projects))
	for _, p := range projects {
		last := "never"
		if p.LastSuccess != nil {
			last = p.LastSuccess.Local().Format("15:04:05")
		}
		marker := ""
		if m.deps.Store.HasModifiedFor(p.Name) {
			marker = "*"
		}
		rows = append(rows, table.Row{
			p.Name + marker,
			p.Template,
			strconv.Itoa(p.Stats.Files),
			last,
			strconv.Itoa(len(p.BuildErrors)),
			strconv.Itoa(len(p.BuildWarnings)),
		})
	}
	m.projectTable.SetRows(rows)

	devices := m.deps.Store.Devices()
	devRows := make([]table.Row, 0, len(devices))
	tailing, _ := m.deps.Supervisor.TailingPort()
	for _, d := range devices {
		tail := ""
		if d.Port == tailing {
			tail = "tailing"
		}
		devRows = append(devRows, table.Row{
			d.Port,
			d.Name,
			d.ChipType,
			string(d.State),
			strconv.Itoa(d.BaudRate),
			tail,
		})
	}
	m.deviceTable.SetRows(devRows)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	bodyHeight := height - 6
	if bodyHeight < 4 {
		bodyHeight = 4
	}
	m.projectTable.SetColumns(projectColumns(width))
	m.projectTable.SetHeight(bodyHeight)
	m.deviceTable.SetColumns(deviceColumns(width))
	m.deviceTable.SetHeight(bodyHeight)
	m.editor.SetWidth(width - 2)
	m.editor.SetHeight(bodyHeight)
	m.logView.Width = width - 2
	m.logView.Height = bodyHeight
	m.ready = true
}

func projectColumns(width int) []table.Column {
	name := width - 56
	if name < 16 {
		name = 16
	}
	return []table.Column{
		{Title: "project", Width: name},
		{Title: "template", Width: 8},
		{Title: "files", Width: 5},
		{Title: "last success", Width: 12},
		{Title: "errors", Width: 6},
		{Title: "warnings", Width: 8},
	}
}

func deviceColumns(width int) []table.Column {
	port := width - 48
	if port < 16 {
		port = 16
	}
	return []table.Column{
		{Title: "port", Width: port},
		{Title: "name", Width: 12},
		{Title: "chip", Width: 8},
		{Title: "state", Width: 12},
		{Title: "baud", Width: 7},
		{Title: "", Width: 7},
	}
}

// Run wires the dashboard into a bubbletea program and blocks until the
// user quits.
func Run(ctx context.Context, deps Deps) error {
	model := NewModel(ctx, deps)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	start := time.Now()
	_, err := program.Run()
	deps.Logger.Info("dashboard closed", "uptime", time.Since(start))
	return err
}
