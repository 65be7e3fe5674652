package capture

import (
	"image"
	"time"
)

// Device is an OS media device. Video devices report a physical position;
// audio devices report PositionUnspecified.
type Device interface {
	ID() string
	Name() string
	Position() Position
}

// DeviceSource enumerates the devices the platform exposes.
type DeviceSource interface {
	// VideoDevices returns every video-capable device in platform order.
	VideoDevices() []Device
	// DefaultAudioDevice returns the default microphone, or nil if none.
	DefaultAudioDevice() Device
}

// Permissions answers the OS capture authorization questions. Prompting the
// user, if the platform does that, happens behind these calls.
type Permissions interface {
	CameraAuthorized() bool
	MicrophoneAuthorized() bool
}

// Input is a device opened for capture.
type Input interface {
	Device() Device
}

// FrameSink receives frames on the backend's delivery context. The backend
// calls DeliverFrame from a single goroutine and waits for it to return.
type FrameSink interface {
	DeliverFrame(f Frame)
}

// Backend is the live capture pipeline. Inputs and outputs attach to it and
// it runs the delivery loop between Start and Stop.
type Backend interface {
	NewInput(d Device) (Input, error)
	CanAddInput(in Input) bool
	AddInput(in Input)
	RemoveInput(in Input)

	SupportsPreset(q Quality) bool
	SetPreset(q Quality)

	// AttachPreview connects the preview surface. Rendering is the
	// platform's concern.
	AttachPreview()

	// AddOutput registers a data output of the given kind whose frames are
	// delivered to sink. The returned Connection is stamped on every frame
	// from that output.
	AddOutput(kind MediaKind, sink FrameSink) (Connection, error)
	RemoveOutput(c Connection)
	SetVideoOrientation(o Orientation)

	// BeginConfiguration and CommitConfiguration bracket an atomic change
	// to inputs. Delivery does not run while a configuration is open.
	BeginConfiguration()
	CommitConfiguration()

	Start() error
	Stop()
}

// ArtifactInspector reads back a finished container file.
type ArtifactInspector interface {
	Duration(path string) (time.Duration, error)
	// StillFrame returns a representative image near offset at.
	StillFrame(path string, at time.Duration) (image.Image, error)
}
