package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/espkit/esphub/internal/api"
	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/hubclient"
)

// Message types bridging async work into the update loop.
type (
	// channelEventMsg wraps one inbound push event from the supervisor.
	channelEventMsg struct {
		event channel.Event
	}

	// snapshotLoadedMsg carries the result of an on-demand refresh.
	snapshotLoadedMsg struct {
		snapshot api.Snapshot
		err      error
	}

	// fileLoadedMsg carries a file fetched for the editor.
	fileLoadedMsg struct {
		project string
		path    string
		content string
		err     error
	}

	// fileSavedMsg reports a completed save.
	fileSavedMsg struct {
		project string
		path    string
		err     error
	}

	// buildTriggeredMsg reports the build request ack.
	buildTriggeredMsg struct {
		project string
		ack     api.BuildAck
		err     error
	}

	// deployTriggeredMsg reports the deploy request ack.
	deployTriggeredMsg struct {
		project string
		port    string
		err     error
	}

	// projectCreatedMsg reports a completed create.
	projectCreatedMsg struct {
		name string
		err  error
	}

	// projectDeletedMsg reports a completed delete.
	projectDeletedMsg struct {
		name string
		err  error
	}
)

// waitForChannelEvent blocks on the supervisor's outbound stream and
// re-arms itself from Update after every delivery.
func waitForChannelEvent(events <-chan channel.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return channelEventMsg{event: ev}
	}
}

func loadSnapshotCmd(ctx context.Context, client *hubclient.Client) tea.Cmd {
	return func() tea.Msg {
		snap, err := client.Snapshot(ctx)
		return snapshotLoadedMsg{snapshot: snap, err: err}
	}
}

func loadFileCmd(ctx context.Context, client *hubclient.Client, project, path string) tea.Cmd {
	return func() tea.Msg {
		content, err := client.LoadFile(ctx, project, path)
		return fileLoadedMsg{project: project, path: path, content: content, err: err}
	}
}

func saveFileCmd(ctx context.Context, client *hubclient.Client, project, path, content string) tea.Cmd {
	return func() tea.Msg {
		err := client.SaveFile(ctx, project, path, content)
		return fileSavedMsg{project: project, path: path, err: err}
	}
}

func triggerBuildCmd(ctx context.Context, client *hubclient.Client, project string) tea.Cmd {
	return func() tea.Msg {
		ack, err := client.TriggerBuild(ctx, project)
		return buildTriggeredMsg{project: project, ack: ack, err: err}
	}
}

func triggerDeployCmd(ctx context.Context, client *hubclient.Client, project, port string) tea.Cmd {
	return func() tea.Msg {
		_, err := client.TriggerDeploy(ctx, project, port)
		return deployTriggeredMsg{project: project, port: port, err: err}
	}
}

func createProjectCmd(ctx context.Context, client *hubclient.Client, req hubclient.CreateProjectRequest) tea.Cmd {
	return func() tea.Msg {
		_, err := client.CreateProject(ctx, req)
		return projectCreatedMsg{name: req.Name, err: err}
	}
}

func deleteProjectCmd(ctx context.Context, client *hubclient.Client, name string) tea.Cmd {
	return func() tea.Msg {
		err := client.DeleteProject(ctx, name)
		return projectDeletedMsg{name: name, err: err}
	}
}
