//go:build linux

package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/camrec/internal/capture"
	"github.com/breeze-rmm/camrec/internal/logging"
)

func init() {
	registerBackend("v4l2", func(opts Options) (Rig, error) {
		r, err := newV4L2(opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}

const (
	ffmpegBinary    = "ffmpeg"
	alsaDefault     = "default"
	rawFrameBacklog = 8
	probeTimeout    = 5 * time.Second
)

var videoNodePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

type rawFrame struct {
	kind capture.MediaKind
	data []byte
	pts  time.Duration
}

// v4l2Rig captures from /dev/video* and the default ALSA device through
// ffmpeg child processes. Devices report no position, so every camera is
// a logical front camera.
type v4l2Rig struct {
	opts     Options
	ffmpeg   string
	cameras  []capture.Device
	mic      capture.Device
	devGlob  string
	sndDir   string
	lookPath func(string) (string, error)

	deliverMu sync.Mutex

	mu      sync.Mutex
	video   *basicInput
	audio   *basicInput
	outputs map[capture.Connection]output
	next    capture.Connection
	preset  capture.Quality

	running     bool
	start       time.Time
	frames      chan rawFrame
	stop        chan struct{}
	videoCancel context.CancelFunc
	audioCancel context.CancelFunc
	videoOn     capture.Device // device the running video process reads
	wg          sync.WaitGroup
}

func newV4L2(opts Options) (*v4l2Rig, error) {
	r := &v4l2Rig{
		opts:     opts,
		ffmpeg:   ffmpegBinary,
		devGlob:  "/dev/video*",
		sndDir:   "/dev/snd",
		lookPath: exec.LookPath,
		outputs:  make(map[capture.Connection]output),
	}
	if _, err := r.lookPath(r.ffmpeg); err != nil {
		return nil, fmt.Errorf("device: v4l2 backend needs %s: %w", r.ffmpeg, err)
	}
	r.discover()
	return r, nil
}

// discover enumerates video nodes in numeric order and the ALSA default
// capture device.
func (r *v4l2Rig) discover() {
	matches, _ := filepath.Glob(r.devGlob)
	sort.Slice(matches, func(i, j int) bool {
		return nodeNumber(matches[i]) < nodeNumber(matches[j])
	})
	r.cameras = r.cameras[:0]
	for _, path := range matches {
		if !videoNodePattern.MatchString(path) {
			continue
		}
		r.cameras = append(r.cameras, &basicDevice{id: path, name: cardName(path)})
	}
	if st, err := os.Stat(r.sndDir); err == nil && st.IsDir() {
		r.mic = &basicDevice{id: "alsa:" + alsaDefault, name: "ALSA default capture"}
	}
	log.Debug("v4l2 discovery", "cameras", len(r.cameras), "microphone", r.mic != nil)
}

func nodeNumber(path string) int {
	m := videoNodePattern.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// cardName asks v4l2-ctl for the card type, falling back to the node name.
func cardName(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--info").Output()
	if err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "Card type") {
				continue
			}
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				if name := strings.TrimSpace(parts[1]); name != "" {
					return name
				}
			}
		}
	}
	return "Camera " + strconv.Itoa(nodeNumber(path))
}

// CameraAuthorized reports whether any video node is readable and writable
// by this process.
func (r *v4l2Rig) CameraAuthorized() bool {
	for _, cam := range r.cameras {
		if unix.Access(cam.ID(), unix.R_OK|unix.W_OK) == nil {
			return true
		}
	}
	return false
}

// MicrophoneAuthorized reports whether any ALSA capture PCM is accessible.
func (r *v4l2Rig) MicrophoneAuthorized() bool {
	pcms, _ := filepath.Glob(filepath.Join(r.sndDir, "pcmC*D*c"))
	for _, p := range pcms {
		if unix.Access(p, unix.R_OK|unix.W_OK) == nil {
			return true
		}
	}
	return false
}

func (r *v4l2Rig) VideoDevices() []capture.Device {
	return append([]capture.Device(nil), r.cameras...)
}

func (r *v4l2Rig) DefaultAudioDevice() capture.Device {
	if r.mic == nil {
		return nil
	}
	return r.mic
}

func (r *v4l2Rig) NewInput(d capture.Device) (capture.Input, error) {
	if r.mic != nil && d == r.mic {
		return &basicInput{dev: d, audio: true}, nil
	}
	for _, cam := range r.cameras {
		if cam == d {
			if err := unix.Access(d.ID(), unix.R_OK|unix.W_OK); err != nil {
				return nil, fmt.Errorf("device: open %s: %w", d.ID(), err)
			}
			return &basicInput{dev: d}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrForeignInput, d.ID())
}

func (r *v4l2Rig) CanAddInput(in capture.Input) bool {
	bi, ok := in.(*basicInput)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bi.audio {
		return r.audio == nil
	}
	return r.video == nil
}

func (r *v4l2Rig) AddInput(in capture.Input) {
	bi, ok := in.(*basicInput)
	if !ok {
		return
	}
	r.mu.Lock()
	if bi.audio {
		r.audio = bi
	} else {
		r.video = bi
	}
	r.mu.Unlock()
}

func (r *v4l2Rig) RemoveInput(in capture.Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.video != nil && capture.Input(r.video) == in:
		r.video = nil
	case r.audio != nil && capture.Input(r.audio) == in:
		r.audio = nil
	}
}

func (r *v4l2Rig) SupportsPreset(q capture.Quality) bool {
	_, ok := presetSizes[q]
	return ok
}

// presetSizes maps the session preset onto a capture size.
var presetSizes = map[capture.Quality][2]int{
	capture.QualityLow:    {320, 240},
	capture.QualityMedium: {640, 480},
	capture.QualityHigh:   {1280, 720},
}

func (r *v4l2Rig) SetPreset(q capture.Quality) {
	r.mu.Lock()
	r.preset = q
	r.mu.Unlock()
}

func (r *v4l2Rig) AttachPreview() {}

func (r *v4l2Rig) AddOutput(kind capture.MediaKind, sink capture.FrameSink) (capture.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		if o.kind == kind {
			return 0, fmt.Errorf("%w: %s", ErrOutputExists, kind)
		}
	}
	r.next++
	r.outputs[r.next] = output{kind: kind, sink: sink}
	return r.next, nil
}

func (r *v4l2Rig) RemoveOutput(c capture.Connection) {
	r.mu.Lock()
	delete(r.outputs, c)
	r.mu.Unlock()
}

// SetVideoOrientation is accepted for interface parity; V4L2 sensors have
// a fixed orientation.
func (r *v4l2Rig) SetVideoOrientation(capture.Orientation) {}

func (r *v4l2Rig) BeginConfiguration() { r.deliverMu.Lock() }

// CommitConfiguration restarts the video process when the attached camera
// changed while running.
func (r *v4l2Rig) CommitConfiguration() {
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	var want capture.Device
	if r.video != nil {
		want = r.video.dev
	}
	if want == r.videoOn {
		return
	}
	if r.videoCancel != nil {
		r.videoCancel()
		r.videoCancel = nil
	}
	r.videoOn = nil
	if want != nil {
		if err := r.startVideoLocked(want); err != nil {
			// Video stays down until the next successful commit or restart.
			log.Error("video restart failed", "device", want.ID(), logging.KeyError, err.Error())
		}
	}
}

// Start spawns one ffmpeg process per attached input. If any of them cannot
// be started, the ones already running are stopped and the error returned.
func (r *v4l2Rig) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	if r.video == nil && r.audio == nil {
		r.mu.Unlock()
		return ErrNoInputs
	}
	r.running = true
	r.start = time.Now()
	r.frames = make(chan rawFrame, rawFrameBacklog)
	r.stop = make(chan struct{})

	var err error
	if r.video != nil {
		err = r.startVideoLocked(r.video.dev)
	}
	if err == nil && r.audio != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.audioCancel = cancel
		err = r.spawn(ctx, capture.MediaAudio, r.audioArgs(), r.readPCM)
	}
	if err != nil {
		r.haltLocked()
		r.mu.Unlock()
		r.wg.Wait()
		return err
	}
	r.wg.Add(1)
	go r.deliverLoop(r.frames, r.stop)
	r.mu.Unlock()
	return nil
}

func (r *v4l2Rig) startVideoLocked(d capture.Device) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.spawn(ctx, capture.MediaVideo, r.videoArgs(d.ID()), func(rd io.Reader, push func([]byte)) error {
		return splitMJPEG(rd, push)
	}); err != nil {
		cancel()
		return err
	}
	r.videoCancel = cancel
	r.videoOn = d
	return nil
}

func (r *v4l2Rig) videoArgs(node string) []string {
	w, h := r.opts.Width, r.opts.Height
	if size, ok := presetSizes[r.preset]; ok {
		w, h = size[0], size[1]
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-framerate", strconv.Itoa(r.opts.FPS),
		"-i", node,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	}
}

func (r *v4l2Rig) audioArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa",
		"-i", alsaDefault,
		"-ac", "1",
		"-ar", strconv.Itoa(AudioSampleRate),
		"-f", "s16le",
		"-",
	}
}

func (r *v4l2Rig) readPCM(rd io.Reader, push func([]byte)) error {
	size := pcmBytes(r.opts.AudioChunk)
	for {
		chunk := make([]byte, size)
		if _, err := io.ReadFull(rd, chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		push(chunk)
	}
}

// spawn runs one ffmpeg process and feeds what read extracts into the
// shared frame channel until ctx is cancelled or the process exits.
func (r *v4l2Rig) spawn(ctx context.Context, kind capture.MediaKind, args []string, read func(io.Reader, func([]byte)) error) error {
	frames, stop, start := r.frames, r.stop, r.start
	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("device: ffmpeg %s pipe: %w", kind, err)
	}
	cmd.Stderr = &logWriter{kind: kind}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("device: ffmpeg %s start: %w", kind, err)
	}
	log.Info("ffmpeg started", "kind", kind.String(), "pid", cmd.Process.Pid)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		push := func(data []byte) {
			select {
			case frames <- rawFrame{kind: kind, data: data, pts: time.Since(start)}:
			case <-stop:
			case <-ctx.Done():
			}
		}
		if err := read(stdout, push); err != nil && ctx.Err() == nil {
			log.Warn("ffmpeg stream ended", "kind", kind.String(), logging.KeyError, err.Error())
		}
		_ = cmd.Wait()
	}()
	return nil
}

func (r *v4l2Rig) deliverLoop(frames <-chan rawFrame, stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stop:
			return
		case f := <-frames:
			r.deliver(f)
		}
	}
}

func (r *v4l2Rig) deliver(f rawFrame) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	var conn capture.Connection
	var sink capture.FrameSink
	for c, o := range r.outputs {
		if o.kind == f.kind {
			conn, sink = c, o.sink
		}
	}
	r.mu.Unlock()
	if sink != nil {
		sink.DeliverFrame(capture.Frame{Data: f.data, PTS: f.pts, Connection: conn})
	}
}

func (r *v4l2Rig) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.haltLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

// haltLocked cancels every ffmpeg process and ends delivery. The caller
// waits on r.wg after releasing r.mu.
func (r *v4l2Rig) haltLocked() {
	r.running = false
	if r.videoCancel != nil {
		r.videoCancel()
		r.videoCancel = nil
	}
	if r.audioCancel != nil {
		r.audioCancel()
		r.audioCancel = nil
	}
	r.videoOn = nil
	close(r.stop)
}

// logWriter forwards ffmpeg stderr lines to the device logger.
type logWriter struct {
	kind capture.MediaKind
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line != "" {
			log.Warn("ffmpeg", "kind", w.kind.String(), "line", line)
		}
	}
	return len(p), nil
}
