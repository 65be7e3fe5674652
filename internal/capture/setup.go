package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/camrec/internal/dispatch"
	"github.com/breeze-rmm/camrec/internal/logging"
)

// setup claims devices and builds the pipeline. Steps run in a fixed order
// and the first failure ends the attempt. Resources attached before the
// failure stay in the rig until Stop.
func (s *Session) setup() {
	s.mu.Lock()
	s.state = StateSettingUp
	s.mu.Unlock()

	perms := s.deps.Permissions
	if perms == nil || !perms.CameraAuthorized() {
		s.deny(ErrCameraPermissionDenied, func(d Delegate) { d.CameraDenied() })
		return
	}
	if !perms.MicrophoneAuthorized() {
		s.deny(ErrMicrophonePermissionDenied, func(d Delegate) { d.MicrophoneDenied() })
		return
	}

	b := s.deps.Backend
	if b == nil {
		s.fail(fmt.Errorf("%w: no capture backend", ErrDeviceUnavailable))
		return
	}
	r := &rig{backend: b}
	s.mu.Lock()
	s.rig = r
	s.mu.Unlock()

	videoDev, ok := s.selector.Resolve(s.opts.Camera)
	if !ok {
		s.fail(fmt.Errorf("%w: no video device", ErrDeviceUnavailable))
		return
	}
	videoIn, err := s.attachInput(b, videoDev)
	if err != nil {
		s.fail(err)
		return
	}
	s.mu.Lock()
	r.videoDev, r.videoIn = videoDev, videoIn
	s.mu.Unlock()

	audioDev, ok := s.selector.Microphone()
	if !ok {
		s.fail(fmt.Errorf("%w: no audio device", ErrDeviceUnavailable))
		return
	}
	audioIn, err := s.attachInput(b, audioDev)
	if err != nil {
		s.fail(err)
		return
	}
	s.mu.Lock()
	r.audioDev, r.audioIn = audioDev, audioIn
	s.mu.Unlock()

	if b.SupportsPreset(s.opts.Quality) {
		b.SetPreset(s.opts.Quality)
	} else {
		s.log.Debug("quality preset not supported", "quality", string(s.opts.Quality))
	}
	b.AttachPreview()

	q := dispatch.New("writer-"+s.id[:8], writerQueueDepth)
	s.mu.Lock()
	r.queue = q
	s.mu.Unlock()

	sink := frameRouter{s: s}
	videoConn, err := b.AddOutput(MediaVideo, sink)
	if err != nil {
		s.fail(fmt.Errorf("%w: video: %w", ErrOutputAttachFailed, err))
		return
	}
	s.mu.Lock()
	r.videoConn, r.hasVideoConn = videoConn, true
	s.mu.Unlock()
	b.SetVideoOrientation(OrientationPortrait)

	audioConn, err := b.AddOutput(MediaAudio, sink)
	if err != nil {
		s.fail(fmt.Errorf("%w: audio: %w", ErrOutputAttachFailed, err))
		return
	}
	s.mu.Lock()
	r.audioConn, r.hasAudioConn = audioConn, true
	s.mu.Unlock()

	path := s.resolveOutputPath()
	if err := removeStale(path); err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrDuplicateOutputFileUndeletable, err))
		return
	}
	s.mu.Lock()
	r.outputPath = path
	s.mu.Unlock()

	if s.deps.NewWriter == nil {
		s.fail(&WriterError{Message: "no writer factory"})
		return
	}
	w, err := s.deps.NewWriter(path, s.opts.Container, writerEvents{s: s})
	if err != nil {
		s.fail(&WriterError{Message: err.Error()})
		return
	}
	s.mu.Lock()
	r.writer = w
	s.mu.Unlock()

	if err := b.Start(); err != nil {
		s.fail(fmt.Errorf("%w: start: %w", ErrInputAttachFailed, err))
		return
	}

	s.mu.Lock()
	r.running = true
	s.state = StateReady
	s.mu.Unlock()
	s.log.Info("session ready",
		logging.KeyCamera, s.opts.Camera.String(),
		"video", videoDev.Name(),
		"audio", audioDev.Name(),
		logging.KeyPath, path)
}

// deny handles a permission refusal. It is reported through the dedicated
// delegate callback, never through Failed.
func (s *Session) deny(err error, fn func(d Delegate)) {
	s.mu.Lock()
	s.err = err
	s.state = StateError
	s.mu.Unlock()
	s.log.Warn("permission denied", logging.KeyError, err.Error())
	s.notify(fn)
	// Nothing was claimed, so no later Stop has work to post.
	s.closeOwnedExec()
}

func (s *Session) attachInput(b Backend, d Device) (Input, error) {
	in, err := b.NewInput(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInputCreationFailed, d.Name(), err)
	}
	if !b.CanAddInput(in) {
		return nil, fmt.Errorf("%w: %s", ErrInputAttachFailed, d.Name())
	}
	b.AddInput(in)
	return in, nil
}

func (s *Session) resolveOutputPath() string {
	name := s.opts.OutputName
	if name == "" {
		name = "camrec-" + s.id + s.opts.Container.Extension()
	}
	return filepath.Join(s.opts.OutputDir, name)
}

// removeStale deletes a file left at path by an earlier run.
func removeStale(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}
