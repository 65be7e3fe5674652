package mediawriter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/breeze-rmm/camrec/internal/capture"
	"github.com/breeze-rmm/camrec/internal/logging"
)

var log = logging.L("mediawriter")

const (
	// DefaultProgressInterval is how often Elapsed fires on the output timeline.
	DefaultProgressInterval = time.Second

	lowDiskThreshold = 64 << 20
	commandBuffer    = 64
)

// Options tune a FileWriter.
type Options struct {
	ProgressInterval time.Duration
}

// Factory returns a capture.WriterFactory producing FileWriters.
func Factory(opts Options) capture.WriterFactory {
	return func(path string, container capture.ContainerType, events capture.WriterEvents) (capture.ContainerWriter, error) {
		return NewFileWriter(path, container, events, opts)
	}
}

type commandKind int

const (
	cmdWrite commandKind = iota
	cmdPause
	cmdStop
	cmdDiscard
)

type command struct {
	kind  commandKind
	media capture.MediaKind
	frame capture.Frame
}

// FileWriter implements capture.ContainerWriter on a single goroutine. The
// file is created on the first frame, so a writer that is discarded before
// recording leaves nothing behind.
type FileWriter struct {
	path     string
	brand    string
	events   capture.WriterEvents
	interval time.Duration

	cmds chan command
	done chan struct{}

	// owned by run
	f        *os.File
	bw       *bufio.Writer
	started  bool
	base     time.Duration
	gap      time.Duration
	last     time.Duration
	resuming bool
	nextTick time.Duration
	failed   bool
	written  int64
}

// NewFileWriter validates the destination directory and starts the writer
// goroutine. Events are delivered from that goroutine.
func NewFileWriter(path string, container capture.ContainerType, events capture.WriterEvents, opts Options) (*FileWriter, error) {
	dir := filepath.Dir(path)
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mediawriter: output directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("mediawriter: output directory %s is not a directory", dir)
	}
	checkHeadroom(dir)

	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	w := &FileWriter{
		path:     path,
		brand:    brandFor(container),
		events:   events,
		interval: interval,
		nextTick: interval,
		cmds:     make(chan command, commandBuffer),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func checkHeadroom(dir string) {
	usage, err := disk.Usage(dir)
	if err != nil {
		log.Debug("disk usage unavailable", logging.KeyPath, dir, logging.KeyError, err.Error())
		return
	}
	if usage.Free < lowDiskThreshold {
		log.Warn("low disk space for recording",
			logging.KeyPath, dir,
			"freeMB", usage.Free>>20)
	}
}

// Path returns the output file path.
func (w *FileWriter) Path() string { return w.path }

// Write queues one frame. The frame data is copied.
func (w *FileWriter) Write(kind capture.MediaKind, f capture.Frame) {
	f.Data = append([]byte(nil), f.Data...)
	w.send(command{kind: cmdWrite, media: kind, frame: f})
}

func (w *FileWriter) Pause() { w.send(command{kind: cmdPause}) }

// Stop flushes and closes the file, then fires Finished.
func (w *FileWriter) Stop() { w.send(command{kind: cmdStop}) }

// Discard ends the writer without finalizing. No file is created.
func (w *FileWriter) Discard() { w.send(command{kind: cmdDiscard}) }

// Done is closed when the writer goroutine has exited.
func (w *FileWriter) Done() <-chan struct{} { return w.done }

func (w *FileWriter) send(c command) {
	select {
	case w.cmds <- c:
	case <-w.done:
	}
}

func (w *FileWriter) run() {
	defer close(w.done)
	for c := range w.cmds {
		switch c.kind {
		case cmdWrite:
			w.write(c.media, c.frame)
		case cmdPause:
			if w.started {
				w.resuming = true
			}
		case cmdStop:
			w.finish()
			return
		case cmdDiscard:
			w.closeFile()
			return
		}
	}
}

func (w *FileWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.bw = bufio.NewWriterSize(f, 256<<10)
	return writeHeader(w.bw, w.brand, time.Now())
}

// timeline maps a backend pts onto the output timeline. The first frame
// starts it at zero and the first frame after a pause continues at the
// last written position.
func (w *FileWriter) timeline(pts time.Duration) time.Duration {
	if !w.started {
		w.started = true
		w.base = pts
		return 0
	}
	if w.resuming {
		w.resuming = false
		w.gap = pts - w.base - w.last
	}
	out := pts - w.base - w.gap
	if out < 0 {
		out = 0
	}
	return out
}

func (w *FileWriter) write(kind capture.MediaKind, f capture.Frame) {
	if w.failed {
		return
	}
	if w.f == nil {
		if err := w.open(); err != nil {
			w.fail(err)
			return
		}
	}
	out := w.timeline(f.PTS)
	n, err := writeRecord(w.bw, kind, out, f.Data)
	if err != nil {
		w.fail(err)
		return
	}
	w.written += int64(n)
	if out > w.last {
		w.last = out
	}
	if w.last >= w.nextTick {
		for w.nextTick <= w.last {
			w.nextTick += w.interval
		}
		w.events.Elapsed(w.last.Seconds())
	}
}

func (w *FileWriter) finish() {
	if w.failed {
		return
	}
	if w.f == nil {
		if err := w.open(); err != nil {
			w.fail(err)
			return
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.fail(err)
		return
	}
	if err := w.f.Sync(); err != nil {
		w.fail(err)
		return
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		w.fail(err)
		return
	}
	log.Info("container finalized",
		logging.KeyPath, w.path,
		logging.KeyDurationMs, w.last.Milliseconds(),
		"bytes", w.written)
	w.events.Finished()
}

func (w *FileWriter) fail(err error) {
	w.failed = true
	w.closeFile()
	log.Error("container write failed", logging.KeyPath, w.path, logging.KeyError, err.Error())
	w.events.Failed(err.Error())
}

func (w *FileWriter) closeFile() {
	if w.f == nil {
		return
	}
	if w.bw != nil {
		_ = w.bw.Flush()
	}
	_ = w.f.Close()
	w.f = nil
}
