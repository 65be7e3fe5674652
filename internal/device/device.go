// Package device provides capture backends: a synthetic rig with virtual
// cameras and a microphone, and on Linux a V4L2/ALSA rig driven by ffmpeg.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/camrec/internal/capture"
	"github.com/breeze-rmm/camrec/internal/logging"
)

var log = logging.L("device")

var (
	ErrNotSupported   = errors.New("device: backend not supported on this platform")
	ErrUnknownBackend = errors.New("device: unknown backend")
	ErrOutputExists   = errors.New("device: output already registered for media kind")
	ErrForeignInput   = errors.New("device: input does not belong to this backend")
	ErrNoInputs       = errors.New("device: no inputs attached")
)

const (
	defaultFPS        = 30
	defaultWidth      = 320
	defaultHeight     = 240
	defaultAudioChunk = 20 * time.Millisecond

	// AudioSampleRate is the PCM rate of every audio chunk (16-bit mono).
	AudioSampleRate = 48000
)

// Rig is a complete platform: permission answers, device enumeration and
// the capture pipeline.
type Rig interface {
	capture.Permissions
	capture.DeviceSource
	capture.Backend
}

// Options configure a backend. Fields a backend has no use for are ignored.
type Options struct {
	FPS        int
	Width      int
	Height     int
	AudioChunk time.Duration

	// Synthetic hardware.
	Cameras        []capture.Position
	Microphone     bool
	DenyCamera     bool
	DenyMicrophone bool

	// Failure injection for the synthetic rig, keyed by device ID.
	FailInput   map[string]error
	RefuseInput map[string]bool
	FailStart   error
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = defaultFPS
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = defaultWidth, defaultHeight
	}
	if o.AudioChunk <= 0 {
		o.AudioChunk = defaultAudioChunk
	}
	return o
}

type backendFactory func(opts Options) (Rig, error)

var (
	backendsMu sync.Mutex
	backends   = map[string]backendFactory{}
)

func registerBackend(name string, factory backendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

func init() {
	registerBackend("synthetic", func(opts Options) (Rig, error) {
		return NewSynthetic(opts), nil
	})
}

// Open builds the named backend.
func Open(name string, opts Options) (Rig, error) {
	backendsMu.Lock()
	factory, ok := backends[name]
	backendsMu.Unlock()
	if !ok {
		if name == "v4l2" {
			return nil, fmt.Errorf("%w: %s on %s", ErrNotSupported, name, runtime.GOOS)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(opts.withDefaults())
}

// Backends lists the backend names available on this platform.
func Backends() []string {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsePosition maps a config string onto a device position.
func ParsePosition(s string) (capture.Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return capture.PositionBack, nil
	case "front":
		return capture.PositionFront, nil
	case "", "unspecified", "external":
		return capture.PositionUnspecified, nil
	default:
		return capture.PositionUnspecified, fmt.Errorf("device: unknown position %q", s)
	}
}

// Info is a printable device description.
type Info struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Position string `yaml:"position" json:"position"`
	Camera   string `yaml:"camera,omitempty" json:"camera,omitempty"`
}

// Describe lists the video devices with the logical camera each maps to,
// followed by the default microphone.
func Describe(src capture.DeviceSource) []Info {
	sel := capture.DeviceSelector{Source: src}
	cams := sel.LogicalCameras()
	var out []Info
	for i, d := range src.VideoDevices() {
		out = append(out, Info{ID: d.ID(), Name: d.Name(), Position: d.Position().String(), Camera: cams[i].String()})
	}
	if mic, ok := sel.Microphone(); ok {
		out = append(out, Info{ID: mic.ID(), Name: mic.Name(), Position: mic.Position().String()})
	}
	return out
}

// basicDevice is the Device implementation shared by both backends.
type basicDevice struct {
	id   string
	name string
	pos  capture.Position
}

func (d *basicDevice) ID() string                 { return d.id }
func (d *basicDevice) Name() string               { return d.name }
func (d *basicDevice) Position() capture.Position { return d.pos }

type basicInput struct {
	dev   capture.Device
	audio bool
}

func (in *basicInput) Device() capture.Device { return in.dev }

// output is one registered data output.
type output struct {
	kind capture.MediaKind
	sink capture.FrameSink
}
