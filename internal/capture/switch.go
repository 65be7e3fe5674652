package capture

import (
	"fmt"

	"github.com/breeze-rmm/camrec/internal/logging"
)

// SwitchCamera toggles between the first two distinct logical cameras. It
// does nothing while recording, when no video input is attached, or when
// fewer than two logical cameras exist.
func (s *Session) SwitchCamera() error {
	s.mu.Lock()
	cur := s.camera
	skip := s.state == StateRecording || s.rig == nil || s.rig.videoIn == nil
	s.mu.Unlock()
	if skip {
		return nil
	}

	cams := distinctCameras(s.selector.LogicalCameras())
	if len(cams) < 2 {
		return nil
	}
	next := cams[0]
	if cur == cams[0] {
		next = cams[1]
	}
	return s.SetCamera(next)
}

// SetCamera moves the video input to the device for camera. The swap is a
// single backend configuration: on any failure the previous input stays
// attached and the camera is unchanged.
func (s *Session) SetCamera(camera Camera) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.mu.Lock()
	r := s.rig
	if s.state == StateRecording || s.state == StateStopping || r == nil || r.videoIn == nil || s.camera == camera {
		s.mu.Unlock()
		return nil
	}
	b, oldIn := r.backend, r.videoIn
	s.mu.Unlock()

	b.BeginConfiguration()
	dev, ok := s.selector.Resolve(camera)
	if !ok {
		b.CommitConfiguration()
		return fmt.Errorf("%w: no video device for %s camera", ErrDeviceUnavailable, camera)
	}
	in, err := b.NewInput(dev)
	if err != nil {
		b.CommitConfiguration()
		s.log.Warn("camera switch failed", logging.KeyCamera, camera.String(), logging.KeyError, err.Error())
		return fmt.Errorf("%w: %s: %w", ErrInputCreationFailed, dev.Name(), err)
	}
	b.RemoveInput(oldIn)
	if !b.CanAddInput(in) {
		b.AddInput(oldIn)
		b.CommitConfiguration()
		s.log.Warn("camera switch refused", logging.KeyCamera, camera.String())
		return fmt.Errorf("%w: %s", ErrInputAttachFailed, dev.Name())
	}
	b.AddInput(in)
	b.CommitConfiguration()
	b.SetVideoOrientation(OrientationPortrait)

	s.mu.Lock()
	r.videoIn, r.videoDev = in, dev
	s.camera = camera
	s.mu.Unlock()
	s.log.Info("camera switched", logging.KeyCamera, camera.String(), "device", dev.Name())
	return nil
}
