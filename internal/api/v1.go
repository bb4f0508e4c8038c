package api

import (
	"encoding/json"
	"fmt"
	"time"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes defined by the server API contract.
const (
	ErrProjectNotFound = "E_PROJECT_NOT_FOUND"
	ErrProjectExists   = "E_PROJECT_EXISTS"
	ErrNameInvalid     = "E_NAME_INVALID"
	ErrDeviceNotFound  = "E_DEVICE_NOT_FOUND"
	ErrFileNotFound    = "E_FILE_NOT_FOUND"
	ErrBuildFailed     = "E_BUILD_FAILED"
	ErrDeployFailed    = "E_DEPLOY_FAILED"
)

type FileStats struct {
	Files       int   `json:"files"`
	LinesOfCode int   `json:"lines_of_code"`
	SizeBytes   int64 `json:"size_bytes"`
}

// Project is the server's view of one managed project. Snapshots replace
// projects wholesale; there is no partial patch on this type.
type Project struct {
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Template      string     `json:"template,omitempty"`
	Author        string     `json:"author,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Stats         FileStats  `json:"stats"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	BuildErrors   []string   `json:"build_errors,omitempty"`
	BuildWarnings []string   `json:"build_warnings,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
}

type DeviceState string

const (
	DeviceConnected    DeviceState = "connected"
	DeviceDisconnected DeviceState = "disconnected"
)

// Device identity is the serial port path.
type Device struct {
	Port     string      `json:"port"`
	Name     string      `json:"name"`
	ChipType string      `json:"chip_type,omitempty"`
	State    DeviceState `json:"state"`
	BaudRate int         `json:"baud_rate,omitempty"`
	LastSeen *time.Time  `json:"last_seen,omitempty"`
}

// Snapshot is the complete replacement view pushed on the live-updates
// stream and returned by the combined snapshot fetch.
type Snapshot struct {
	Projects []Project `json:"projects"`
	Devices  []Device  `json:"devices"`
}

type ProjectsEnvelope struct {
	Projects []Project `json:"projects"`
}

type DevicesEnvelope struct {
	Devices []Device `json:"devices"`
}

type FileEnvelope struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type BuildAck struct {
	RequestRef string `json:"request_ref"`
	Project    string `json:"project"`
	Accepted   bool   `json:"accepted"`
}

type DeployAck struct {
	RequestRef string `json:"request_ref"`
	Project    string `json:"project"`
	Port       string `json:"port"`
	Accepted   bool   `json:"accepted"`
}

type ProgressKind string

const (
	BuildStart     ProgressKind = "build_start"
	BuildComplete  ProgressKind = "build_complete"
	DeployStart    ProgressKind = "deploy_start"
	DeployComplete ProgressKind = "deploy_complete"
	BuildError     ProgressKind = "build_error"
	DeployError    ProgressKind = "deploy_error"
)

func (k ProgressKind) Valid() bool {
	switch k {
	case BuildStart, BuildComplete, DeployStart, DeployComplete, BuildError, DeployError:
		return true
	}
	return false
}

// Terminal reports whether the event ends the build or deploy it belongs to.
func (k ProgressKind) Terminal() bool {
	switch k {
	case BuildComplete, DeployComplete, BuildError, DeployError:
		return true
	}
	return false
}

// ProgressEvent is the tagged union carried on the build-progress socket.
// Type is the discriminator; the remaining fields are kind-specific.
type ProgressEvent struct {
	Type           ProgressKind `json:"type"`
	Timestamp      time.Time    `json:"timestamp"`
	Project        string       `json:"project,omitempty"`
	Success        bool         `json:"success,omitempty"`
	Port           string       `json:"port,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	FilesProcessed int          `json:"files_processed,omitempty"`
	TotalSize      int64        `json:"total_size,omitempty"`
	BuildSeconds   float64      `json:"build_time,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// ParseProgressEvent decodes one progress message and rejects anything
// outside the enumerated kind set.
func ParseProgressEvent(data []byte) (ProgressEvent, error) {
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ProgressEvent{}, fmt.Errorf("decode progress event: %w", err)
	}
	if !ev.Type.Valid() {
		return ProgressEvent{}, fmt.Errorf("unknown progress event type %q", ev.Type)
	}
	return ev, nil
}
