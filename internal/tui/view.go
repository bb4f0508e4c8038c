package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/notify"
	"github.com/espkit/esphub/internal/state"
)

var (
	tabStyle       = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("245"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 2).Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle    = lipgloss.NewStyle().Faint(true)
	noticeInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	noticeWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	noticeError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting dashboard..."
	}

	var b strings.Builder
	b.WriteString(m.tabBar())
	b.WriteString("\n")
	b.WriteString(m.body())
	b.WriteString("\n")
	if m.promptMode != promptNone {
		b.WriteString(promptStyle.Render(m.prompt.View()))
		b.WriteString("\n")
	}
	b.WriteString(m.statusBar())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	return b.String()
}

func (m Model) tabBar() string {
	active := m.deps.Store.ActiveTab()
	parts := make([]string, 0, len(state.Tabs))
	for _, tab := range state.Tabs {
		label := string(tab)
		if tab == state.TabEditor {
			if n := m.deps.Store.ModifiedCount(); n > 0 {
				label = fmt.Sprintf("%s (%d*)", label, n)
			}
		}
		if tab == active {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) body() string {
	switch m.deps.Store.ActiveTab() {
	case state.TabProjects:
		return m.projectTable.View()
	case state.TabDevices:
		return m.deviceTable.View()
	case state.TabEditor:
		return m.editorBody()
	case state.TabLogs:
		return m.logsBody()
	}
	return ""
}

func (m Model) editorBody() string {
	file, ok := m.deps.Store.ActiveFile()
	if !ok {
		return helpStyle.Render("no file open; press o to open one")
	}
	marker := ""
	if file.Modified {
		marker = " *"
	}
	header := fmt.Sprintf("%s / %s%s", file.Project, file.Path, marker)
	return header + "\n" + m.editor.View()
}

func (m Model) logsBody() string {
	port, ok := m.deps.Supervisor.TailingPort()
	if !ok {
		return helpStyle.Render("no log tail; pick a device and press enter")
	}
	return fmt.Sprintf("tailing %s\n%s", port, m.logView.View())
}

func (m Model) statusBar() string {
	parts := []string{m.connIndicator()}
	if progress := m.deps.Store.Progress(); progress.Busy {
		parts = append(parts, m.spin.View()+progress.Message)
	}
	for _, msg := range m.deps.Sink.Active() {
		parts = append(parts, renderNotice(msg))
	}
	return statusStyle.Render(strings.Join(parts, "  |  "))
}

func (m Model) connIndicator() string {
	switch m.liveState {
	case channel.StateOpen:
		return noticeInfo.Render("● live")
	case channel.StateRetrying, channel.StateConnecting:
		return noticeWarn.Render("◌ " + string(m.liveState))
	default:
		return noticeError.Render("○ offline")
	}
}

func renderNotice(msg notify.Message) string {
	switch msg.Level {
	case notify.LevelError:
		return noticeError.Render(msg.Text)
	case notify.LevelWarn:
		return noticeWarn.Render(msg.Text)
	default:
		return noticeInfo.Render(msg.Text)
	}
}

func (m Model) helpLine() string {
	switch m.deps.Store.ActiveTab() {
	case state.TabProjects:
		return "enter open  b build  d deploy  n new  x delete  r refresh  tab switch  q quit"
	case state.TabDevices:
		return "enter toggle tail  r refresh  tab switch  q quit"
	case state.TabEditor:
		if m.editor.Focused() {
			return "esc stop editing  ctrl+s save"
		}
		return "e edit  o open  w close  [/] cycle  ctrl+s save  tab switch  q quit"
	case state.TabLogs:
		return "↑/↓ scroll  tab switch  q quit"
	}
	return ""
}
