package capture

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// feed delivers audio and video frames from its own goroutine, the way a
// backend delivery loop does, until the returned stop func is called.
func feed(b *fakeBackend) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			b.deliver(MediaVideo, "v", 0)
			b.deliver(MediaAudio, "a", 0)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestPauseFencesConcurrentDelivery(t *testing.T) {
	f := newFixture(t)
	s := f.start()
	s.Record()
	stop := feed(f.backend)
	defer stop()

	w := f.w()
	for i := 0; i < 200; i++ {
		s.Pause()
		before := w.writeCount()
		time.Sleep(200 * time.Microsecond)
		if after := w.writeCount(); after != before {
			t.Fatalf("iteration %d: %d writes landed after Pause returned", i, after-before)
		}
		s.Record()
	}
	if w.writeCount() == 0 {
		t.Fatal("no frames were written while recording")
	}
}

func TestStopFencesConcurrentDelivery(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		s := f.start()
		s.Record()
		stop := feed(f.backend)

		time.Sleep(100 * time.Microsecond)
		s.Stop()
		w := f.w()
		before := w.writeCount()
		waitFinished(t, f.delegate)
		waitState(t, s, StateFinished)
		time.Sleep(200 * time.Microsecond)
		stop()

		if after := w.writeCount(); after != before {
			t.Fatalf("iteration %d: %d writes landed after Stop returned", i, after-before)
		}
	}
}

func TestFramesAfterReleaseCountedSeparately(t *testing.T) {
	f := newFixture(t)
	s := f.start()
	f.backend.mu.Lock()
	sink, conn := f.backend.sinks[MediaVideo], f.backend.conns[MediaVideo]
	f.backend.mu.Unlock()

	s.Record()
	s.Stop()
	waitFinished(t, f.delegate)
	waitState(t, s, StateFinished)

	sink.DeliverFrame(Frame{Data: []byte("late"), Connection: conn})
	m := s.Metrics()
	if m.ReleasedDropped != 1 || m.UnknownDropped != 0 {
		t.Fatalf("released = %d unknown = %d, want 1 and 0", m.ReleasedDropped, m.UnknownDropped)
	}
}

func TestFailedSetupReleasesOwnerQueue(t *testing.T) {
	tests := []struct {
		name   string
		modify func(f *fixture, deps *Dependencies)
	}{
		{"camera denied", func(f *fixture, deps *Dependencies) { deps.Permissions = fakePerms{mic: true} }},
		{"microphone denied", func(f *fixture, deps *Dependencies) { deps.Permissions = fakePerms{camera: true} }},
		{"no backend", func(f *fixture, deps *Dependencies) { deps.Backend = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := runtime.NumGoroutine()
			for i := 0; i < 30; i++ {
				f := newFixture(t)
				deps := Dependencies{
					Permissions: f.perms,
					Devices:     f.source,
					Backend:     f.backend,
					Inspector:   f.inspect,
				}
				tt.modify(f, &deps)
				s := NewSession(f.opts, deps, newRecordingDelegate(nil))
				if s.State() != StateError {
					t.Fatalf("state = %s, want error", s.State())
				}
				s.Stop()
				select {
				case <-s.ownedExec.Done():
				case <-time.After(2 * time.Second):
					t.Fatal("owner queue still running after failed setup")
				}
			}

			deadline := time.Now().Add(2 * time.Second)
			for runtime.NumGoroutine() > baseline+2 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			if n := runtime.NumGoroutine(); n > baseline+2 {
				t.Fatalf("goroutines = %d, baseline %d", n, baseline)
			}
		})
	}
}
