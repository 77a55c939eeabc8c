package face

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDetector struct {
	mu     sync.Mutex
	dets   []Detection
	err    error
	calls  int
	opts   DetectOptions
	closed bool
}

func (d *fakeDetector) Detect(image []byte, opts DetectOptions) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.opts = opts
	return d.dets, d.err
}

func (d *fakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDetector) set(dets []Detection, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dets, d.err = dets, err
}

func (d *fakeDetector) snapshot() (int, DetectOptions, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.opts, d.closed
}

func loaderFor(d Detector) Loader {
	return func(context.Context) (Detector, error) { return d, nil }
}

func newLoadedMonitor(t *testing.T, source Source, det *fakeDetector, onChange func(bool)) *Monitor {
	t.Helper()
	m := NewMonitor(source, loaderFor(det), MonitorConfig{OnChange: onChange})
	m.loadModel(context.Background())
	return m
}

func TestFrameBufferReadiness(t *testing.T) {
	b := NewFrameBuffer(0)
	if _, ready := b.Frame(); ready {
		t.Fatal("empty buffer should not be ready")
	}

	b.Put([]byte{1}, 2)
	if _, ready := b.Frame(); ready {
		t.Fatal("readyState 2 should not be ready")
	}

	b.Put(nil, HaveEnoughData)
	frame, ready := b.Frame()
	if !ready || len(frame) != 1 {
		t.Fatalf("expected previous frame to be ready, got %v %v", frame, ready)
	}

	b.Clear()
	if _, ready := b.Frame(); ready {
		t.Fatal("cleared buffer should not be ready")
	}
}

func TestFrameBufferStaleFrame(t *testing.T) {
	b := NewFrameBuffer(10 * time.Millisecond)
	b.Put([]byte{1}, HaveEnoughData)
	time.Sleep(20 * time.Millisecond)
	if _, ready := b.Frame(); ready {
		t.Fatal("stale frame should not be ready")
	}
}

func TestTickSkipsWhenNotReady(t *testing.T) {
	det := &fakeDetector{dets: []Detection{{Confidence: 0.9}}}
	m := newLoadedMonitor(t, NewFrameBuffer(0), det, nil)

	m.tick()

	if calls, _, _ := det.snapshot(); calls != 0 {
		t.Fatalf("expected no detection on a not-ready frame, got %d calls", calls)
	}
	if m.Present() {
		t.Fatal("presence should stay false")
	}
}

func TestTickUpdatesPresence(t *testing.T) {
	frames := NewFrameBuffer(0)
	frames.Put([]byte("jpeg"), HaveEnoughData)

	det := &fakeDetector{dets: []Detection{{Confidence: 0.3}, {Confidence: 0.5}}}
	var changes []bool
	m := newLoadedMonitor(t, frames, det, func(p bool) { changes = append(changes, p) })

	m.tick()
	if !m.Present() {
		t.Fatal("expected presence with a detection at the threshold")
	}
	_, opts, _ := det.snapshot()
	if opts != DefaultDetectOptions() {
		t.Fatalf("unexpected detect options: %+v", opts)
	}

	det.set([]Detection{{Confidence: 0.49}}, nil)
	m.tick()
	if m.Present() {
		t.Fatal("expected absence when every detection is below threshold")
	}

	det.set(nil, nil)
	m.tick()

	if len(changes) != 2 || changes[0] != true || changes[1] != false {
		t.Fatalf("expected one change per flip, got %v", changes)
	}
}

func TestTickKeepsStateOnDetectorError(t *testing.T) {
	frames := NewFrameBuffer(0)
	frames.Put([]byte("jpeg"), HaveEnoughData)

	det := &fakeDetector{dets: []Detection{{Confidence: 0.9}}}
	m := newLoadedMonitor(t, frames, det, nil)
	m.tick()

	det.set(nil, errors.New("inference failed"))
	m.tick()

	if !m.Present() {
		t.Fatal("detector error must not change presence")
	}
}

func TestTickWithoutModel(t *testing.T) {
	frames := NewFrameBuffer(0)
	frames.Put([]byte("jpeg"), HaveEnoughData)

	m := NewMonitor(frames, func(context.Context) (Detector, error) {
		return nil, errors.New("model missing")
	}, MonitorConfig{})
	m.loadModel(context.Background())

	m.tick()
	if m.Present() {
		t.Fatal("presence must stay false without a model")
	}
}

func TestRunStopsAndReleasesDetector(t *testing.T) {
	frames := NewFrameBuffer(0)
	frames.Put([]byte("jpeg"), HaveEnoughData)

	det := &fakeDetector{dets: []Detection{{Confidence: 0.8}}}
	present := make(chan struct{}, 1)
	m := NewMonitor(frames, loaderFor(det), MonitorConfig{
		Interval: 5 * time.Millisecond,
		OnChange: func(p bool) {
			if p {
				present <- struct{}{}
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-present:
	case <-time.After(time.Second):
		t.Fatal("monitor never reported presence")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	calls, _, closed := det.snapshot()
	if !closed {
		t.Fatal("detector should be released when polling stops")
	}
	time.Sleep(20 * time.Millisecond)
	if after, _, _ := det.snapshot(); after != calls {
		t.Fatalf("polling continued after stop: %d -> %d", calls, after)
	}
}

func TestLateModelIsReleased(t *testing.T) {
	det := &fakeDetector{}
	release := make(chan struct{})
	m := NewMonitor(NewFrameBuffer(0), func(context.Context) (Detector, error) {
		<-release
		return det, nil
	}, MonitorConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	close(release)
	<-done

	if _, _, closed := det.snapshot(); !closed {
		t.Fatal("a model that finishes loading after stop must be closed")
	}
}
