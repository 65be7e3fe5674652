package capture

// DeviceSelector maps logical cameras onto the devices a DeviceSource
// currently enumerates. It keeps no state, so hot-plugged devices are seen
// on the next call.
type DeviceSelector struct {
	Source DeviceSource
}

// Resolve returns the first video device mounted at the camera's position,
// falling back to the first device enumerated. ok is false when no video
// device exists at all.
func (s DeviceSelector) Resolve(camera Camera) (d Device, ok bool) {
	devices := s.videoDevices()
	if len(devices) == 0 {
		return nil, false
	}
	want := PositionBack
	if camera == CameraFront {
		want = PositionFront
	}
	for _, dev := range devices {
		if dev.Position() == want {
			return dev, true
		}
	}
	return devices[0], true
}

// LogicalCameras lists one camera per video device in enumeration order.
// Only PositionBack maps to CameraBack; front and unspecified devices both
// count as CameraFront.
func (s DeviceSelector) LogicalCameras() []Camera {
	devices := s.videoDevices()
	cams := make([]Camera, 0, len(devices))
	for _, dev := range devices {
		if dev.Position() == PositionBack {
			cams = append(cams, CameraBack)
		} else {
			cams = append(cams, CameraFront)
		}
	}
	return cams
}

// Microphone returns the default audio device.
func (s DeviceSelector) Microphone() (Device, bool) {
	if s.Source == nil {
		return nil, false
	}
	d := s.Source.DefaultAudioDevice()
	return d, d != nil
}

func (s DeviceSelector) videoDevices() []Device {
	if s.Source == nil {
		return nil
	}
	return s.Source.VideoDevices()
}

// distinctCameras returns the first two distinct logical cameras, in the
// order they were first seen.
func distinctCameras(cams []Camera) []Camera {
	out := make([]Camera, 0, 2)
	for _, c := range cams {
		if len(out) == 1 && out[0] == c {
			continue
		}
		out = append(out, c)
		if len(out) == 2 {
			break
		}
	}
	return out
}
