package device

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/breeze-rmm/camrec/internal/capture"
	"github.com/breeze-rmm/camrec/internal/logging"
)

// Synthetic is an in-process rig. Each attached camera produces JPEG test
// pattern frames tinted by its position and the microphone produces PCM
// silence. One goroutine delivers both streams.
type Synthetic struct {
	opts    Options
	cameras []capture.Device
	mic     capture.Device

	// deliverMu is held for every delivery and for the whole of an open
	// configuration, so switches never interleave with frames.
	deliverMu sync.Mutex

	mu          sync.Mutex
	inputs      []*basicInput
	outputs     map[capture.Connection]output
	nextConn    capture.Connection
	preset      capture.Quality
	orientation capture.Orientation
	previewed   bool
	running     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	start       time.Time
	frames      uint64
}

// NewSynthetic builds a rig with one camera per position in opts.Cameras.
func NewSynthetic(opts Options) *Synthetic {
	opts = opts.withDefaults()
	s := &Synthetic{
		opts:    opts,
		outputs: make(map[capture.Connection]output),
	}
	for i, pos := range opts.Cameras {
		s.cameras = append(s.cameras, &basicDevice{
			id:   fmt.Sprintf("synthetic-%s-%d", pos, i),
			name: fmt.Sprintf("Synthetic %s Camera %d", positionLabel(pos), i),
			pos:  pos,
		})
	}
	if opts.Microphone {
		s.mic = &basicDevice{id: "synthetic-mic-0", name: "Synthetic Microphone"}
	}
	return s
}

func positionLabel(p capture.Position) string {
	switch p {
	case capture.PositionBack:
		return "Back"
	case capture.PositionFront:
		return "Front"
	default:
		return "External"
	}
}

func (s *Synthetic) CameraAuthorized() bool     { return !s.opts.DenyCamera }
func (s *Synthetic) MicrophoneAuthorized() bool { return !s.opts.DenyMicrophone }

func (s *Synthetic) VideoDevices() []capture.Device {
	return append([]capture.Device(nil), s.cameras...)
}

func (s *Synthetic) DefaultAudioDevice() capture.Device {
	if s.mic == nil {
		return nil
	}
	return s.mic
}

func (s *Synthetic) NewInput(d capture.Device) (capture.Input, error) {
	if err := s.opts.FailInput[d.ID()]; err != nil {
		return nil, err
	}
	if d == s.mic && s.mic != nil {
		return &basicInput{dev: d, audio: true}, nil
	}
	for _, cam := range s.cameras {
		if cam == d {
			return &basicInput{dev: d}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrForeignInput, d.ID())
}

func (s *Synthetic) CanAddInput(in capture.Input) bool {
	bi, ok := in.(*basicInput)
	if !ok || s.opts.RefuseInput[in.Device().ID()] {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.inputs {
		if cur.audio == bi.audio {
			return false
		}
	}
	return true
}

func (s *Synthetic) AddInput(in capture.Input) {
	bi, ok := in.(*basicInput)
	if !ok {
		return
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, bi)
	s.mu.Unlock()
}

func (s *Synthetic) RemoveInput(in capture.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.inputs {
		if capture.Input(cur) == in {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			return
		}
	}
}

// Inputs returns the IDs of the attached devices.
func (s *Synthetic) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inputs))
	for _, in := range s.inputs {
		ids = append(ids, in.dev.ID())
	}
	return ids
}

func (s *Synthetic) SupportsPreset(q capture.Quality) bool {
	switch q {
	case capture.QualityLow, capture.QualityMedium, capture.QualityHigh:
		return true
	}
	return false
}

func (s *Synthetic) SetPreset(q capture.Quality) {
	s.mu.Lock()
	s.preset = q
	s.mu.Unlock()
}

func (s *Synthetic) Preset() capture.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

func (s *Synthetic) AttachPreview() {
	s.mu.Lock()
	s.previewed = true
	s.mu.Unlock()
	log.Debug("preview attached", "backend", "synthetic")
}

func (s *Synthetic) AddOutput(kind capture.MediaKind, sink capture.FrameSink) (capture.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.outputs {
		if o.kind == kind {
			return 0, fmt.Errorf("%w: %s", ErrOutputExists, kind)
		}
	}
	s.nextConn++
	s.outputs[s.nextConn] = output{kind: kind, sink: sink}
	return s.nextConn, nil
}

func (s *Synthetic) RemoveOutput(c capture.Connection) {
	s.mu.Lock()
	delete(s.outputs, c)
	s.mu.Unlock()
}

func (s *Synthetic) SetVideoOrientation(o capture.Orientation) {
	s.mu.Lock()
	s.orientation = o
	s.mu.Unlock()
}

func (s *Synthetic) Orientation() capture.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

func (s *Synthetic) BeginConfiguration()  { s.deliverMu.Lock() }
func (s *Synthetic) CommitConfiguration() { s.deliverMu.Unlock() }

func (s *Synthetic) Start() error {
	if s.opts.FailStart != nil {
		return s.opts.FailStart
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.start = time.Now()
	s.wg.Add(1)
	go s.deliverLoop(s.stop)
	return nil
}

// Stop ends delivery and waits for the delivery goroutine to return.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

// Frames returns how many video frames were delivered.
func (s *Synthetic) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Synthetic) deliverLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	video := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer video.Stop()
	audio := time.NewTicker(s.opts.AudioChunk)
	defer audio.Stop()
	silence := make([]byte, pcmBytes(s.opts.AudioChunk))

	for {
		select {
		case <-stop:
			return
		case <-video.C:
			s.deliver(capture.MediaVideo, nil)
		case <-audio.C:
			s.deliver(capture.MediaAudio, silence)
		}
	}
}

// deliver hands one frame of kind to its output, if an input of that kind
// is attached.
func (s *Synthetic) deliver(kind capture.MediaKind, data []byte) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	var cam capture.Device
	hasMic := false
	for _, in := range s.inputs {
		if in.audio {
			hasMic = true
		} else {
			cam = in.dev
		}
	}
	var conn capture.Connection
	var sink capture.FrameSink
	for c, o := range s.outputs {
		if o.kind == kind {
			conn, sink = c, o.sink
		}
	}
	pts := time.Since(s.start)
	seq := s.frames
	if kind == capture.MediaVideo && cam != nil && sink != nil {
		s.frames++
	}
	s.mu.Unlock()

	if sink == nil {
		return
	}
	switch kind {
	case capture.MediaVideo:
		if cam == nil {
			return
		}
		jpg, err := testPattern(cam.Position(), seq, s.opts.Width, s.opts.Height)
		if err != nil {
			log.Warn("test pattern encode failed", logging.KeyError, err.Error())
			return
		}
		data = jpg
	case capture.MediaAudio:
		if !hasMic {
			return
		}
	}
	sink.DeliverFrame(capture.Frame{Data: data, PTS: pts, Connection: conn})
}

// pcmBytes is the size of d worth of 16-bit mono PCM.
func pcmBytes(d time.Duration) int {
	return int(int64(AudioSampleRate)*int64(d)/int64(time.Second)) * 2
}

var patternTints = map[capture.Position]color.RGBA{
	capture.PositionBack:        {R: 32, G: 96, B: 200, A: 255},
	capture.PositionFront:       {R: 200, G: 64, B: 48, A: 255},
	capture.PositionUnspecified: {R: 64, G: 160, B: 64, A: 255},
}

// testPattern renders a tinted frame with a bar that moves one step per
// frame, encoded as JPEG.
func testPattern(pos capture.Position, seq uint64, w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	tint := patternTints[pos]
	bar := int(seq*4) % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := tint
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 240, G: 240, B: 240, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
