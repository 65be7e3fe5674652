package capture

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolvePrefersPosition(t *testing.T) {
	sel := DeviceSelector{Source: &fakeSource{video: []Device{frontCam, backCam}}}

	d, ok := sel.Resolve(CameraBack)
	if !ok || d.ID() != backCam.id {
		t.Fatalf("Resolve(back) = %v, %v", d, ok)
	}
	d, ok = sel.Resolve(CameraFront)
	if !ok || d.ID() != frontCam.id {
		t.Fatalf("Resolve(front) = %v, %v", d, ok)
	}
}

func TestResolveFallsBackToFirstDevice(t *testing.T) {
	usb := &fakeDevice{id: "usb", name: "USB"}
	sel := DeviceSelector{Source: &fakeSource{video: []Device{usb, frontCam}}}
	d, ok := sel.Resolve(CameraBack)
	if !ok || d.ID() != "usb" {
		t.Fatalf("Resolve(back) = %v, %v, want first device", d, ok)
	}
}

func TestResolveNoDevices(t *testing.T) {
	if _, ok := (DeviceSelector{Source: &fakeSource{}}).Resolve(CameraBack); ok {
		t.Fatal("Resolve found a device in an empty source")
	}
	if _, ok := (DeviceSelector{}).Resolve(CameraFront); ok {
		t.Fatal("Resolve found a device without a source")
	}
	if _, ok := (DeviceSelector{}).Microphone(); ok {
		t.Fatal("Microphone found a device without a source")
	}
}

func TestLogicalCamerasMapUnspecifiedToFront(t *testing.T) {
	usb := &fakeDevice{id: "usb"}
	sel := DeviceSelector{Source: &fakeSource{video: []Device{backCam, usb, frontCam}}}
	got := sel.LogicalCameras()
	want := []Camera{CameraBack, CameraFront, CameraFront}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LogicalCameras() = %v, want %v", got, want)
	}
}

func TestDistinctCameras(t *testing.T) {
	tests := []struct {
		in   []Camera
		want []Camera
	}{
		{nil, []Camera{}},
		{[]Camera{CameraFront}, []Camera{CameraFront}},
		{[]Camera{CameraFront, CameraFront}, []Camera{CameraFront}},
		{[]Camera{CameraFront, CameraFront, CameraBack}, []Camera{CameraFront, CameraBack}},
		{[]Camera{CameraBack, CameraFront, CameraBack}, []Camera{CameraBack, CameraFront}},
	}
	for _, tt := range tests {
		if got := distinctCameras(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("distinctCameras(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseOptions(t *testing.T) {
	if c, err := ParseCamera(" Front "); err != nil || c != CameraFront {
		t.Fatalf("ParseCamera = %v, %v", c, err)
	}
	if _, err := ParseCamera("side"); err == nil {
		t.Fatal("expected error for unknown camera")
	}
	if q, err := ParseQuality("LOW"); err != nil || q != QualityLow {
		t.Fatalf("ParseQuality = %v, %v", q, err)
	}
	if _, err := ParseQuality("ultra"); err == nil {
		t.Fatal("expected error for unknown quality")
	}
	c, err := ParseContainer("mp4")
	if err != nil || c.Extension() != ".mp4" {
		t.Fatalf("ParseContainer = %v, %v", c, err)
	}
	if ContainerMOV.Extension() != ".mov" {
		t.Fatal("mov extension")
	}
}

func TestErrorMatching(t *testing.T) {
	werr := &WriterError{Message: "encoder stalled"}
	if !errors.Is(werr, ErrWriter) {
		t.Fatal("WriterError does not match ErrWriter")
	}
	if werr.Error() != "capture: container writer failed: encoder stalled" {
		t.Fatalf("Error() = %q", werr.Error())
	}
	perr := &PreconditionError{Op: "Record", State: StateFinished}
	if !errors.Is(perr, ErrPreconditionViolation) {
		t.Fatal("PreconditionError does not unwrap")
	}
}
