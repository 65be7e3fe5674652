package mediawriter

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/camrec/internal/capture"
)

type recordedEvents struct {
	mu       sync.Mutex
	elapsed  []float64
	finished int
	failed   []string
}

func (e *recordedEvents) Elapsed(s float64) {
	e.mu.Lock()
	e.elapsed = append(e.elapsed, s)
	e.mu.Unlock()
}

func (e *recordedEvents) Finished() {
	e.mu.Lock()
	e.finished++
	e.mu.Unlock()
}

func (e *recordedEvents) Failed(msg string) {
	e.mu.Lock()
	e.failed = append(e.failed, msg)
	e.mu.Unlock()
}

func (e *recordedEvents) snapshot() ([]float64, int, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.elapsed...), e.finished, append([]string(nil), e.failed...)
}

func newTestWriter(t *testing.T, container capture.ContainerType, interval time.Duration) (*FileWriter, *recordedEvents, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out"+container.Extension())
	ev := &recordedEvents{}
	w, err := NewFileWriter(path, container, ev, Options{ProgressInterval: interval})
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	return w, ev, path
}

func waitDone(t *testing.T, w *FileWriter) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit")
	}
}

func frame(data string, pts time.Duration) capture.Frame {
	return capture.Frame{Data: []byte(data), PTS: pts}
}

func readRecords(t *testing.T, path string) (Header, []Record) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var recs []Record
	h, err := Scan(f, func(r Record) error {
		recs = append(recs, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return h, recs
}

func TestTimelineStartsAtFirstFrameAndSkipsPauses(t *testing.T) {
	w, ev, path := newTestWriter(t, capture.ContainerMOV, time.Hour)
	base := 40 * time.Second

	w.Write(capture.MediaAudio, frame("a0", base))
	w.Write(capture.MediaVideo, frame("v0", base+10*time.Millisecond))
	w.Write(capture.MediaVideo, frame("v1", base+50*time.Millisecond))
	w.Pause()
	w.Write(capture.MediaVideo, frame("v2", base+5*time.Second))
	w.Write(capture.MediaAudio, frame("a1", base+5*time.Second+20*time.Millisecond))
	w.Stop()
	waitDone(t, w)

	if _, finished, failed := ev.snapshot(); finished != 1 || len(failed) != 0 {
		t.Fatalf("finished=%d failed=%v", finished, failed)
	}

	h, recs := readRecords(t, path)
	if h.Brand != "qt  " || h.Container() != capture.ContainerMOV {
		t.Fatalf("header = %+v", h)
	}
	var got []time.Duration
	for _, r := range recs {
		got = append(got, r.PTS)
	}
	want := []time.Duration{0, 10 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond, 70 * time.Millisecond}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pts = %v, want %v", got, want)
	}
	if recs[0].Kind != capture.MediaAudio || string(recs[3].Data) != "v2" {
		t.Fatalf("records = %+v", recs)
	}

	d, err := Inspector{}.Duration(path)
	if err != nil || d != 70*time.Millisecond {
		t.Fatalf("Duration = %v, %v", d, err)
	}
}

func TestElapsedFiresOnInterval(t *testing.T) {
	w, ev, _ := newTestWriter(t, capture.ContainerMP4, 100*time.Millisecond)
	for _, ms := range []int{0, 50, 100, 150, 250} {
		w.Write(capture.MediaVideo, frame("v", time.Duration(ms)*time.Millisecond))
	}
	w.Stop()
	waitDone(t, w)

	elapsed, _, _ := ev.snapshot()
	if want := []float64{0.1, 0.25}; !reflect.DeepEqual(elapsed, want) {
		t.Fatalf("elapsed = %v, want %v", elapsed, want)
	}
}

func TestDiscardLeavesNoFile(t *testing.T) {
	w, ev, path := newTestWriter(t, capture.ContainerMOV, 0)
	w.Discard()
	waitDone(t, w)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("discarded writer left %s: %v", path, err)
	}
	if _, finished, failed := ev.snapshot(); finished != 0 || len(failed) != 0 {
		t.Fatal("discard fired events")
	}
	// Calls after exit must not block.
	w.Write(capture.MediaVideo, frame("late", 0))
	w.Stop()
}

func TestStopWithoutFramesWritesHeader(t *testing.T) {
	w, ev, path := newTestWriter(t, capture.ContainerMP4, 0)
	w.Stop()
	waitDone(t, w)

	if _, finished, _ := ev.snapshot(); finished != 1 {
		t.Fatal("Finished not fired")
	}
	h, recs := readRecords(t, path)
	if h.Brand != "mp42" || len(recs) != 0 {
		t.Fatalf("header = %+v records = %d", h, len(recs))
	}
	if _, err := (Inspector{}).StillFrame(path, 0); !errors.Is(err, ErrNoVideo) {
		t.Fatalf("StillFrame = %v, want ErrNoVideo", err)
	}
}

func TestOpenFailureFiresFailedOnce(t *testing.T) {
	w, ev, path := newTestWriter(t, capture.ContainerMOV, 0)
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	w.Write(capture.MediaVideo, frame("v", 0))
	w.Write(capture.MediaVideo, frame("v", time.Millisecond))
	w.Stop()
	waitDone(t, w)

	_, finished, failed := ev.snapshot()
	if len(failed) != 1 || finished != 0 {
		t.Fatalf("failed=%v finished=%d", failed, finished)
	}
}

func TestNewFileWriterRejectsMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.mov")
	if _, err := NewFileWriter(path, capture.ContainerMOV, &recordedEvents{}, Options{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStillFrameSelection(t *testing.T) {
	w, _, path := newTestWriter(t, capture.ContainerMOV, 0)
	w.Write(capture.MediaVideo, capture.Frame{Data: solidJPEG(t, 8, 8), PTS: 0})
	w.Write(capture.MediaAudio, frame("pcm", 5*time.Millisecond))
	w.Write(capture.MediaVideo, capture.Frame{Data: solidJPEG(t, 16, 16), PTS: 20 * time.Millisecond})
	w.Stop()
	waitDone(t, w)

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 8},
		{capture.DefaultThumbnailOffset, 16},
		{time.Second, 16},
	}
	for _, tt := range tests {
		img, err := Inspector{}.StillFrame(path, tt.at)
		if err != nil {
			t.Fatalf("StillFrame(%v): %v", tt.at, err)
		}
		if got := img.Bounds().Dx(); got != tt.want {
			t.Errorf("StillFrame(%v) width = %d, want %d", tt.at, got, tt.want)
		}
	}

	s, err := Inspector{}.Summarize(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.VideoFrames != 2 || s.AudioFrames != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestScanRejectsCorruptInput(t *testing.T) {
	if _, err := Scan(bytes.NewReader([]byte("RIFF0000000000000")), func(Record) error { return nil }); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("bad magic: %v", err)
	}

	var buf bytes.Buffer
	if err := writeHeader(&buf, brandFor(capture.ContainerMOV), time.Unix(1700000000, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := writeRecord(&buf, capture.MediaVideo, time.Millisecond, []byte("frame")); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()
	_, err := Scan(bytes.NewReader(full[:len(full)-2]), func(Record) error { return nil })
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("truncated: %v", err)
	}

	h, err := Scan(bytes.NewReader(full), func(Record) error { return nil })
	if err != nil || h.Created.Unix() != 1700000000 {
		t.Fatalf("header = %+v, %v", h, err)
	}
}

func TestThumbnailKeepsAspect(t *testing.T) {
	tests := []struct {
		w, h, maxDim int
		wantW, wantH int
	}{
		{640, 480, 320, 320, 240},
		{100, 200, 100, 50, 100},
		{40, 30, 320, 40, 30},
	}
	for _, tt := range tests {
		got := Thumbnail(image.NewRGBA(image.Rect(0, 0, tt.w, tt.h)), tt.maxDim).Bounds()
		if got.Dx() != tt.wantW || got.Dy() != tt.wantH {
			t.Errorf("Thumbnail(%dx%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.maxDim, got.Dx(), got.Dy(), tt.wantW, tt.wantH)
		}
	}
}

func TestSaveThumbnail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thumb.jpg")
	if err := SaveThumbnail(path, image.NewRGBA(image.Rect(0, 0, 64, 48)), 32); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil || cfg.Width != 32 || cfg.Height != 24 {
		t.Fatalf("thumbnail config = %+v, %v", cfg, err)
	}
}
