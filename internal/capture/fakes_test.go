package capture

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDevice struct {
	id   string
	name string
	pos  Position
}

func (d *fakeDevice) ID() string         { return d.id }
func (d *fakeDevice) Name() string       { return d.name }
func (d *fakeDevice) Position() Position { return d.pos }

type fakeSource struct {
	video []Device
	audio Device
}

func (s *fakeSource) VideoDevices() []Device     { return s.video }
func (s *fakeSource) DefaultAudioDevice() Device { return s.audio }

type fakePerms struct {
	camera bool
	mic    bool
}

func (p fakePerms) CameraAuthorized() bool     { return p.camera }
func (p fakePerms) MicrophoneAuthorized() bool { return p.mic }

type fakeInput struct {
	dev Device
	seq int
}

func (in *fakeInput) Device() Device { return in.dev }

type fakeBackend struct {
	mu sync.Mutex

	inputs       []Input
	sinks        map[MediaKind]FrameSink
	conns        map[MediaKind]Connection
	nextConn     Connection
	preset       Quality
	orientations []Orientation
	configDepth  int
	begins       int
	newInputs    int
	started      bool
	stopped      bool
	previewed    bool

	noPresets   bool
	inputErr    map[string]error
	refuseInput map[string]bool
	outputErr   map[MediaKind]error
	startErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sinks:       make(map[MediaKind]FrameSink),
		conns:       make(map[MediaKind]Connection),
		nextConn:    100,
		inputErr:    make(map[string]error),
		refuseInput: make(map[string]bool),
		outputErr:   make(map[MediaKind]error),
	}
}

func (b *fakeBackend) NewInput(d Device) (Input, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newInputs++
	if err := b.inputErr[d.ID()]; err != nil {
		return nil, err
	}
	return &fakeInput{dev: d, seq: b.newInputs}, nil
}

func (b *fakeBackend) CanAddInput(in Input) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.refuseInput[in.Device().ID()]
}

func (b *fakeBackend) AddInput(in Input) {
	b.mu.Lock()
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
}

func (b *fakeBackend) RemoveInput(in Input) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.inputs {
		if cur == in {
			b.inputs = append(b.inputs[:i], b.inputs[i+1:]...)
			return
		}
	}
}

func (b *fakeBackend) SupportsPreset(Quality) bool { return !b.noPresets }

func (b *fakeBackend) SetPreset(q Quality) {
	b.mu.Lock()
	b.preset = q
	b.mu.Unlock()
}

func (b *fakeBackend) AttachPreview() {
	b.mu.Lock()
	b.previewed = true
	b.mu.Unlock()
}

func (b *fakeBackend) AddOutput(kind MediaKind, sink FrameSink) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.outputErr[kind]; err != nil {
		return 0, err
	}
	b.nextConn++
	b.sinks[kind] = sink
	b.conns[kind] = b.nextConn
	return b.nextConn, nil
}

func (b *fakeBackend) RemoveOutput(c Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, cur := range b.conns {
		if cur == c {
			delete(b.conns, kind)
			delete(b.sinks, kind)
		}
	}
}

func (b *fakeBackend) SetVideoOrientation(o Orientation) {
	b.mu.Lock()
	b.orientations = append(b.orientations, o)
	b.mu.Unlock()
}

func (b *fakeBackend) BeginConfiguration() {
	b.mu.Lock()
	b.configDepth++
	b.begins++
	b.mu.Unlock()
}

func (b *fakeBackend) CommitConfiguration() {
	b.mu.Lock()
	b.configDepth--
	b.mu.Unlock()
}

func (b *fakeBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = true
	return nil
}

func (b *fakeBackend) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// deliver plays the delivery goroutine: it hands one frame to the sink
// registered for kind and returns once the sink does.
func (b *fakeBackend) deliver(kind MediaKind, data string, pts time.Duration) {
	b.mu.Lock()
	sink, conn := b.sinks[kind], b.conns[kind]
	b.mu.Unlock()
	if sink == nil {
		return
	}
	sink.DeliverFrame(Frame{Data: []byte(data), PTS: pts, Connection: conn})
}

func (b *fakeBackend) deliverOn(conn Connection, data string) {
	b.mu.Lock()
	sink := b.sinks[MediaVideo]
	b.mu.Unlock()
	sink.DeliverFrame(Frame{Data: []byte(data), Connection: conn})
}

func (b *fakeBackend) inputIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.inputs))
	for _, in := range b.inputs {
		ids = append(ids, in.Device().ID())
	}
	return ids
}

func (b *fakeBackend) counts() (newInputs, begins int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newInputs, b.begins
}

type fakeWriter struct {
	mu       sync.Mutex
	path     string
	events   WriterEvents
	writes   []string
	pauses   int
	stops    int
	discards int

	// silentStop suppresses the Finished event from Stop.
	silentStop bool
}

func (w *fakeWriter) Write(kind MediaKind, f Frame) {
	w.mu.Lock()
	w.writes = append(w.writes, kind.String()+":"+string(f.Data))
	w.mu.Unlock()
}

func (w *fakeWriter) Pause() {
	w.mu.Lock()
	w.pauses++
	w.mu.Unlock()
}

func (w *fakeWriter) Stop() {
	w.mu.Lock()
	w.stops++
	silent := w.silentStop
	w.mu.Unlock()
	if !silent {
		w.events.Finished()
	}
}

func (w *fakeWriter) Discard() {
	w.mu.Lock()
	w.discards++
	w.mu.Unlock()
}

func (w *fakeWriter) writeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *fakeWriter) snapshot() (writes []string, pauses, stops, discards int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.writes...), w.pauses, w.stops, w.discards
}

type fakeInspector struct {
	duration time.Duration
	stillErr error
}

func (i fakeInspector) Duration(string) (time.Duration, error) { return i.duration, nil }

func (i fakeInspector) StillFrame(string, time.Duration) (image.Image, error) {
	if i.stillErr != nil {
		return nil, i.stillErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)
	return img, nil
}

// inlineExecutor runs notifications on the posting goroutine and marks
// them so the delegate can tell it was reached through the executor.
type inlineExecutor struct {
	posts  atomic.Int64
	inside atomic.Int32
}

func (e *inlineExecutor) Post(task func()) {
	e.posts.Add(1)
	e.inside.Add(1)
	defer e.inside.Add(-1)
	task()
}

type recordingDelegate struct {
	mu           sync.Mutex
	exec         *inlineExecutor
	cameraDenied int
	micDenied    int
	failed       []error
	elapsed      []float64
	finished     []Artifact
	outside      int

	finishedCh chan Artifact
	failedCh   chan error
}

func newRecordingDelegate(exec *inlineExecutor) *recordingDelegate {
	return &recordingDelegate{
		exec:       exec,
		finishedCh: make(chan Artifact, 4),
		failedCh:   make(chan error, 4),
	}
}

func (d *recordingDelegate) check() {
	if d.exec != nil && d.exec.inside.Load() == 0 {
		d.outside++
	}
}

func (d *recordingDelegate) CameraDenied() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.check()
	d.cameraDenied++
}

func (d *recordingDelegate) MicrophoneDenied() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.check()
	d.micDenied++
}

func (d *recordingDelegate) Failed(err error) {
	d.mu.Lock()
	d.check()
	d.failed = append(d.failed, err)
	d.mu.Unlock()
	d.failedCh <- err
}

func (d *recordingDelegate) Elapsed(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.check()
	d.elapsed = append(d.elapsed, seconds)
}

func (d *recordingDelegate) Finished(a Artifact) {
	d.mu.Lock()
	d.check()
	d.finished = append(d.finished, a)
	d.mu.Unlock()
	d.finishedCh <- a
}

type counts struct {
	cameraDenied, micDenied, failed, finished, outside int
}

func (d *recordingDelegate) counts() counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return counts{d.cameraDenied, d.micDenied, len(d.failed), len(d.finished), d.outside}
}

// fixture wires a session to fakes. Adjust the fields before calling start.
type fixture struct {
	t        *testing.T
	opts     Options
	perms    fakePerms
	source   *fakeSource
	backend  *fakeBackend
	exec     *inlineExecutor
	delegate *recordingDelegate
	inspect  fakeInspector

	writerErr  error
	silentStop bool

	mu     sync.Mutex
	writer *fakeWriter
}

var (
	backCam  = &fakeDevice{id: "cam-back", name: "Back Camera", pos: PositionBack}
	frontCam = &fakeDevice{id: "cam-front", name: "Front Camera", pos: PositionFront}
	mic      = &fakeDevice{id: "mic-0", name: "Built-in Microphone"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exec := &inlineExecutor{}
	return &fixture{
		t: t,
		opts: Options{
			Camera:    CameraBack,
			Quality:   QualityHigh,
			Container: ContainerMOV,
			OutputDir: t.TempDir(),
		},
		perms:    fakePerms{camera: true, mic: true},
		source:   &fakeSource{video: []Device{backCam, frontCam}, audio: mic},
		backend:  newFakeBackend(),
		exec:     exec,
		delegate: newRecordingDelegate(exec),
		inspect:  fakeInspector{duration: 2 * time.Second},
	}
}

func (f *fixture) start() *Session {
	f.t.Helper()
	deps := Dependencies{
		Permissions: f.perms,
		Devices:     f.source,
		Backend:     f.backend,
		Inspector:   f.inspect,
		Executor:    f.exec,
		NewWriter: func(path string, _ ContainerType, events WriterEvents) (ContainerWriter, error) {
			if f.writerErr != nil {
				return nil, f.writerErr
			}
			w := &fakeWriter{path: path, events: events, silentStop: f.silentStop}
			f.mu.Lock()
			f.writer = w
			f.mu.Unlock()
			return w, nil
		},
	}
	return NewSession(f.opts, deps, f.delegate)
}

func (f *fixture) w() *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writer == nil {
		f.t.Fatal("no writer was constructed")
	}
	return f.writer
}

func waitFinished(t *testing.T, d *recordingDelegate) Artifact {
	t.Helper()
	select {
	case a := <-d.finishedCh:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Finished")
		return Artifact{}
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

// checkReadyInvariant asserts Ready() agrees with the resource record.
func checkReadyInvariant(t *testing.T, s *Session) {
	t.Helper()
	s.mu.Lock()
	want := s.state.active() && s.err == nil && s.rig.complete()
	s.mu.Unlock()
	if got := s.Ready(); got != want {
		t.Fatalf("Ready() = %v in state %s, resources say %v", got, s.State(), want)
	}
}

var errBoom = errors.New("boom")
