package capture

import (
	"time"

	"github.com/breeze-rmm/camrec/internal/dispatch"
)

// frameRouter is the FrameSink registered for both data outputs. It runs on
// the backend's delivery goroutine and hands each accepted frame to the
// writer queue synchronously.
type frameRouter struct {
	s *Session
}

func (r frameRouter) DeliverFrame(f Frame) {
	s := r.s
	kind, w, q, ok, released := s.route(f.Connection)
	switch {
	case released:
		s.metrics.RecordReleased()
		return
	case q == nil:
		s.metrics.RecordUnknown()
		return
	}
	s.metrics.RecordDelivered(kind)
	if !ok {
		s.metrics.RecordDrop(kind)
		return
	}

	start := time.Now()
	written := false
	accepted := q.Sync(func() {
		// Pause or Stop may have won the race while this task was queued.
		if !s.forwarding(w) {
			return
		}
		w.Write(kind, f)
		written = true
	})
	if !accepted || !written {
		s.metrics.RecordDrop(kind)
		return
	}
	s.metrics.RecordWritten(kind, len(f.Data), time.Since(start))
}

// route classifies conn against the registered outputs. released reports
// that the session has no writer queue (the rig was released); otherwise q
// is nil when conn belongs to neither output, and ok reports whether the
// frame may be forwarded.
func (s *Session) route(conn Connection) (kind MediaKind, w ContainerWriter, q *dispatch.Queue, ok, released bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rig
	if r == nil || r.queue == nil {
		return MediaVideo, nil, nil, false, true
	}
	switch {
	case r.hasVideoConn && conn == r.videoConn:
		kind = MediaVideo
	case r.hasAudioConn && conn == r.audioConn:
		kind = MediaAudio
	default:
		return MediaVideo, nil, nil, false, false
	}
	return kind, r.writer, r.queue, s.forwardingLocked(r.writer), false
}

func (s *Session) forwarding(w ContainerWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwardingLocked(w)
}

// forwardingLocked is the frame gate: the session is ready, recording, and
// w is still the session's writer.
func (s *Session) forwardingLocked(w ContainerWriter) bool {
	return s.state == StateRecording && s.readyLocked() && w != nil && s.rig.writer == w
}
