package capture

import (
	"github.com/breeze-rmm/camrec/internal/logging"
)

// writerEvents adapts the writer's callbacks onto the session. Writers may
// call these from their own goroutine or from inside Write and Stop, which
// run on the writer queue, so nothing here blocks on that queue.
type writerEvents struct {
	s *Session
}

func (e writerEvents) Elapsed(seconds float64) {
	s := e.s
	s.notify(func(d Delegate) { d.Elapsed(seconds) })

	limit := s.opts.MaxDuration
	if limit > 0 && seconds >= limit.Seconds() && s.autoStopped.CompareAndSwap(false, true) {
		s.log.Info("duration cap reached", "seconds", seconds)
		go s.Stop()
	}
}

func (e writerEvents) Finished() {
	go e.s.complete()
}

func (e writerEvents) Failed(message string) {
	s := e.s
	s.mu.Lock()
	if s.rig == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fail(&WriterError{Message: message})
}

// complete builds the artifact, reports it, then releases the rig.
func (s *Session) complete() {
	s.mu.Lock()
	if s.state != StateStopping || s.rig == nil {
		st := s.state
		s.mu.Unlock()
		s.log.Warn("writer finished outside of stop", logging.KeyState, st.String())
		return
	}
	path := s.rig.outputPath
	s.mu.Unlock()

	a := s.inspect(path)
	s.log.Info("recording finished",
		logging.KeyPath, a.Path,
		logging.KeyDurationMs, a.Duration.Milliseconds(),
		"thumbnail", a.Thumbnail != nil)
	s.notify(func(d Delegate) { d.Finished(a) })
	s.cleanup(StateFinished, true)
}

func (s *Session) inspect(path string) Artifact {
	a := Artifact{Path: path}
	in := s.deps.Inspector
	if in == nil {
		return a
	}
	if d, err := in.Duration(path); err != nil {
		s.log.Warn("artifact duration unavailable", logging.KeyPath, path, logging.KeyError, err.Error())
	} else {
		a.Duration = d
	}
	// A missing still frame only leaves the thumbnail empty.
	if img, err := in.StillFrame(path, s.opts.ThumbnailOffset); err != nil {
		s.log.Debug("thumbnail unavailable", logging.KeyPath, path, logging.KeyError, err.Error())
	} else {
		a.Thumbnail = img
	}
	return a
}
