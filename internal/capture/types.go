// Package capture implements the capture-and-write pipeline: device
// selection, the recording session state machine, frame routing into a
// container writer, and delegate reporting on the owner's context.
//
// Hardware, permission prompts and muxing stay behind the interfaces in
// platform.go and writer.go so the state machine can run against any backend.
package capture

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Camera is a logical camera choice, independent of device identity.
type Camera int

const (
	CameraBack Camera = iota
	CameraFront
)

func (c Camera) String() string {
	switch c {
	case CameraBack:
		return "back"
	case CameraFront:
		return "front"
	default:
		return fmt.Sprintf("camera(%d)", int(c))
	}
}

// ParseCamera maps "back" / "front" (case-insensitive) to a Camera.
func ParseCamera(s string) (Camera, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return CameraBack, nil
	case "front":
		return CameraFront, nil
	default:
		return CameraBack, fmt.Errorf("capture: unknown camera %q", s)
	}
}

// Position is the physical mounting reported by a device.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// Quality is the coarse session preset. Only the preset itself is applied;
// finer tiers are accepted for future use.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

func (q Quality) valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	default:
		return false
	}
}

// ParseQuality maps a config string to a Quality.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if !q.valid() {
		return QualityHigh, fmt.Errorf("capture: unknown quality %q", s)
	}
	return q, nil
}

// ContainerType selects the output container and its file extension.
type ContainerType string

const (
	ContainerMOV ContainerType = "mov"
	ContainerMP4 ContainerType = "mp4"
)

// Extension returns the conventional file extension, including the dot.
func (c ContainerType) Extension() string {
	switch c {
	case ContainerMP4:
		return ".mp4"
	default:
		return ".mov"
	}
}

// ParseContainer maps a config string to a ContainerType.
func ParseContainer(s string) (ContainerType, error) {
	switch ContainerType(strings.ToLower(strings.TrimSpace(s))) {
	case ContainerMOV:
		return ContainerMOV, nil
	case ContainerMP4:
		return ContainerMP4, nil
	default:
		return ContainerMOV, fmt.Errorf("capture: unknown container %q", s)
	}
}

// MediaKind tags a frame as audio or video.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

func (k MediaKind) String() string {
	if k == MediaAudio {
		return "audio"
	}
	return "video"
}

// Orientation is applied to the video output connection.
type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationLandscapeRight
	OrientationLandscapeLeft
	OrientationPortraitUpsideDown
)

// Connection identifies the output a frame was delivered on. Backends hand
// one out per registered output and stamp it on every frame from that output.
type Connection uint64

// Frame is a timestamped media buffer as delivered by the backend.
type Frame struct {
	Data       []byte
	PTS        time.Duration // presentation time on the backend clock
	Connection Connection
}

// Artifact is the finished recording handed to the delegate.
type Artifact struct {
	Path      string
	Duration  time.Duration
	Thumbnail image.Image // nil when no still frame could be extracted
}

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateSettingUp
	StateReady
	StateRecording
	StatePaused
	StateStopping
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSettingUp:
		return "setting_up"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// active reports whether devices are claimed and commands are accepted.
func (s State) active() bool {
	return s == StateReady || s == StateRecording || s == StatePaused
}
