package capture

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/camrec/internal/dispatch"
	"github.com/breeze-rmm/camrec/internal/logging"
)

var log = logging.L("capture")

const (
	// DefaultThumbnailOffset is where the still frame is taken from.
	DefaultThumbnailOffset = time.Second / 60

	writerQueueDepth = 4
	ownerQueueDepth  = 64
	releaseTimeout   = 5 * time.Second
)

// Options configures one recording attempt.
type Options struct {
	Camera    Camera
	Quality   Quality
	Container ContainerType

	// OutputDir defaults to os.TempDir(). OutputName, when set, replaces the
	// per-session generated file name.
	OutputDir  string
	OutputName string

	// MaxDuration stops the recording once the writer reports this much
	// elapsed time. Zero disables the cap.
	MaxDuration     time.Duration
	ThumbnailOffset time.Duration
}

// Dependencies are the platform collaborators a session drives.
type Dependencies struct {
	Permissions Permissions
	Devices     DeviceSource
	Backend     Backend
	NewWriter   WriterFactory
	Inspector   ArtifactInspector

	// Executor receives every delegate notification. When nil the session
	// runs its own serial queue.
	Executor Executor
}

// rig holds every resource claimed by setup. It exists from the start of
// setup until cleanup.
type rig struct {
	backend Backend

	videoDev Device
	audioDev Device
	videoIn  Input
	audioIn  Input

	videoConn    Connection
	audioConn    Connection
	hasVideoConn bool
	hasAudioConn bool

	outputPath string
	writer     ContainerWriter
	queue      *dispatch.Queue
	running    bool
}

func (r *rig) complete() bool {
	return r != nil &&
		r.backend != nil &&
		r.videoDev != nil && r.audioDev != nil &&
		r.videoIn != nil && r.audioIn != nil &&
		r.hasVideoConn && r.hasAudioConn &&
		r.outputPath != "" &&
		r.writer != nil &&
		r.queue != nil &&
		r.running
}

// Session records one audio/video file from the selected camera and the
// default microphone. Construct it with NewSession; setup runs immediately.
type Session struct {
	id       string
	opts     Options
	deps     Dependencies
	selector DeviceSelector
	metrics  *Metrics
	log      *slog.Logger

	executor  Executor
	ownedExec *dispatch.Queue
	execOnce  sync.Once

	// configMu serializes backend reconfiguration (camera switch) against
	// teardown. It is never taken while holding mu.
	configMu sync.Mutex

	mu               sync.Mutex
	state            State
	camera           Camera
	startedRecording bool
	err              error
	rig              *rig
	delegate         Delegate

	autoStopped atomic.Bool
}

// NewSession claims the devices and prepares the writer. Failures are
// reported through the delegate and leave the session in StateError; check
// Ready before calling Record.
func NewSession(opts Options, deps Dependencies, delegate Delegate) *Session {
	if opts.ThumbnailOffset <= 0 {
		opts.ThumbnailOffset = DefaultThumbnailOffset
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	if !opts.Quality.valid() {
		opts.Quality = QualityHigh
	}
	if opts.Container == "" {
		opts.Container = ContainerMOV
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		opts:     opts,
		deps:     deps,
		selector: DeviceSelector{Source: deps.Devices},
		metrics:  newMetrics(),
		log:      logging.WithSession(log, id),
		camera:   opts.Camera,
		delegate: delegate,
		state:    StateUninitialized,
	}
	if deps.Executor != nil {
		s.executor = deps.Executor
	} else {
		s.ownedExec = dispatch.New("owner-"+id[:8], ownerQueueDepth)
		s.executor = s.ownedExec
	}

	s.setup()
	return s
}

// ID returns the session identifier used in logs and generated file names.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether every resource is claimed, no error has occurred,
// and the session accepts commands.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Session) readyLocked() bool {
	return s.state.active() && s.err == nil && s.rig.complete()
}

func (s *Session) Camera() Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *Session) StartedRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedRecording
}

// Err returns the error that moved the session to StateError, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OutputPath returns the destination file, or "" before it was resolved
// and after cleanup.
func (s *Session) OutputPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rig == nil {
		return ""
	}
	return s.rig.outputPath
}

func (s *Session) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// SetDelegate replaces the delegate. Passing nil silences notifications
// that have not run yet.
func (s *Session) SetDelegate(d Delegate) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

// Record starts or resumes writing frames. Calling it while recording is a
// no-op. Calling it in any other state than Ready or Paused is a caller bug
// and panics with *PreconditionError.
func (s *Session) Record() {
	s.mu.Lock()
	st := s.state
	switch {
	case st == StateRecording:
		s.mu.Unlock()
		return
	case (st == StateReady || st == StatePaused) && s.readyLocked():
		s.state = StateRecording
		s.startedRecording = true
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		panic(&PreconditionError{Op: "Record", State: st})
	}
	s.metrics.markRecording()
	s.log.Info("recording", logging.KeyCamera, s.Camera().String())
}

// Pause stops forwarding frames and tells the writer to close the gap.
// It does nothing unless the session is recording.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state != StateRecording || s.rig == nil {
		s.mu.Unlock()
		return
	}
	s.state = StatePaused
	w, q := s.rig.writer, s.rig.queue
	s.mu.Unlock()

	q.Sync(w.Pause)
	s.log.Info("paused")
}

// Stop finalizes the recording. Completion is reported through the
// delegate's Finished. When nothing was ever recorded, or the session
// failed, Stop releases the devices without touching the output path.
func (s *Session) Stop() {
	s.mu.Lock()
	st := s.state
	r := s.rig
	if r == nil || st == StateStopping || st == StateFinished || st == StateUninitialized {
		s.mu.Unlock()
		if r == nil && st == StateError {
			s.closeOwnedExec()
		}
		return
	}
	if st == StateError || !s.startedRecording || r.writer == nil || r.queue == nil {
		s.mu.Unlock()
		s.cleanup(StateFinished, false)
		return
	}
	s.state = StateStopping
	w, q := r.writer, r.queue
	s.mu.Unlock()

	if st == StateRecording {
		q.Sync(w.Pause)
	}
	s.log.Info("stopping")
	// No deadline: a writer that never reports back leaves the session in
	// StateStopping until the process exits.
	q.Sync(w.Stop)
}

// notify posts fn to the owner executor. The delegate is read when the
// task runs so SetDelegate(nil) takes effect for queued notifications.
func (s *Session) notify(fn func(d Delegate)) {
	s.executor.Post(func() {
		s.mu.Lock()
		d := s.delegate
		s.mu.Unlock()
		if d != nil {
			fn(d)
		}
	})
}

// fail records err as the terminal session error and reports it.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	partial := s.state == StateSettingUp && s.rig != nil
	released := s.rig == nil
	s.state = StateError
	s.mu.Unlock()

	s.log.Error("session failed", logging.KeyError, err.Error())
	if partial {
		s.log.Warn("devices claimed by setup stay attached until Stop")
	}
	s.notify(func(d Delegate) { d.Failed(err) })
	if released {
		s.closeOwnedExec()
	}
}

// cleanup releases the rig. finalized reports whether the writer completed
// its Stop; otherwise a Discarder writer is discarded.
func (s *Session) cleanup(final State, finalized bool) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.mu.Lock()
	r := s.rig
	s.rig = nil
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.release(finalized)

	s.mu.Lock()
	if s.state != StateError {
		s.state = final
	}
	st := s.state
	s.mu.Unlock()
	s.log.Info("session released", logging.KeyState, st.String())

	s.closeOwnedExec()
}

// closeOwnedExec shuts down the session's own notification queue once
// nothing can post to it any more. Close drains what is already posted,
// including Finished, and runs in the background because the caller may
// itself be running on that queue.
func (s *Session) closeOwnedExec() {
	if s.ownedExec == nil {
		return
	}
	s.execOnce.Do(func() {
		go s.ownedExec.Close(context.Background())
	})
}

func (r *rig) release(finalized bool) {
	if r.running {
		r.backend.Stop()
	}
	if r.hasVideoConn {
		r.backend.RemoveOutput(r.videoConn)
	}
	if r.hasAudioConn {
		r.backend.RemoveOutput(r.audioConn)
	}
	if r.videoIn != nil {
		r.backend.RemoveInput(r.videoIn)
	}
	if r.audioIn != nil {
		r.backend.RemoveInput(r.audioIn)
	}
	if r.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		r.queue.Close(ctx)
		cancel()
	}
	if !finalized && r.writer != nil {
		if d, ok := r.writer.(Discarder); ok {
			d.Discard()
		}
	}
}
