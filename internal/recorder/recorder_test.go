package recorder_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"murmur/internal/recorder"
)

type fakeCapture struct {
	chunks  chan []byte
	termErr error
	closed  bool
}

func newFakeCapture(buffered int) *fakeCapture {
	return &fakeCapture{chunks: make(chan []byte, buffered)}
}

func (c *fakeCapture) Chunks() <-chan []byte { return c.chunks }

func (c *fakeCapture) Stop() error {
	if !c.closed {
		c.closed = true
		close(c.chunks)
	}
	return nil
}

func (c *fakeCapture) Err() error { return c.termErr }

type fakeRunner struct {
	capture  recorder.Capture
	startErr error
	starts   int
}

func (r *fakeRunner) Start(ctx context.Context, device string) (recorder.Capture, error) {
	r.starts++
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.capture, nil
}

type blockingRunner struct {
	entered chan struct{}
	release chan struct{}
	capture recorder.Capture
	starts  int32
}

func (r *blockingRunner) Start(ctx context.Context, device string) (recorder.Capture, error) {
	atomic.AddInt32(&r.starts, 1)
	r.entered <- struct{}{}
	<-r.release
	return r.capture, nil
}

func TestRecorderAssemblesChunksInOrder(t *testing.T) {
	capture := newFakeCapture(3)
	capture.chunks <- []byte("OggS-header")
	capture.chunks <- []byte("-frame-one")
	capture.chunks <- []byte("-frame-two")

	rec := recorder.New(recorder.Options{
		Runner: &fakeRunner{capture: capture},
		Device: "default",
	})

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := rec.State(); got != recorder.Recording {
		t.Fatalf("expected Recording state, got %v", got)
	}

	clip, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []byte("OggS-header-frame-one-frame-two")
	if !bytes.Equal(clip.Data, want) {
		t.Errorf("expected clip %q, got %q", want, clip.Data)
	}
	if clip.ContentType != "audio/ogg" {
		t.Errorf("unexpected content type %q", clip.ContentType)
	}
	if got := rec.State(); got != recorder.Idle {
		t.Errorf("expected Idle state after Stop, got %v", got)
	}
}

func TestRecorderStartDeniedDevice(t *testing.T) {
	rec := recorder.New(recorder.Options{
		Runner: &fakeRunner{startErr: fmt.Errorf("open default: %w", recorder.ErrPermission)},
		Device: "default",
	})

	err := rec.Start(context.Background())
	if !errors.Is(err, recorder.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if got := rec.State(); got != recorder.Idle {
		t.Errorf("expected Idle state after denial, got %v", got)
	}
}

func TestRecorderStartCaptureDiesSilently(t *testing.T) {
	capture := newFakeCapture(0)
	capture.termErr = fmt.Errorf("device busy: %w", recorder.ErrPermission)
	_ = capture.Stop() // stream ends before any audio arrives

	rec := recorder.New(recorder.Options{
		Runner: &fakeRunner{capture: capture},
		Device: "default",
	})

	err := rec.Start(context.Background())
	if !errors.Is(err, recorder.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if got := rec.State(); got != recorder.Idle {
		t.Errorf("expected Idle state, got %v", got)
	}
}

func TestRecorderStartDuringPendingStartStaysSingleFlight(t *testing.T) {
	capture := newFakeCapture(1)
	capture.chunks <- []byte("OggS")
	runner := &blockingRunner{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
		capture: capture,
	}
	rec := recorder.New(recorder.Options{Runner: runner, Device: "default"})

	firstDone := make(chan error, 1)
	go func() { firstDone <- rec.Start(context.Background()) }()
	<-runner.entered

	// The first Start is still opening the device; a second must bounce
	// without touching the runner.
	err := rec.Start(context.Background())
	if !errors.Is(err, recorder.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(runner.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := atomic.LoadInt32(&runner.starts); got != 1 {
		t.Errorf("expected a single capture launch, got %d", got)
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRecorderStartWhileRecording(t *testing.T) {
	capture := newFakeCapture(1)
	capture.chunks <- []byte("OggS")
	runner := &fakeRunner{capture: capture}

	rec := recorder.New(recorder.Options{Runner: runner, Device: "default"})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := rec.Start(context.Background())
	if !errors.Is(err, recorder.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if runner.starts != 1 {
		t.Errorf("expected a single capture launch, got %d", runner.starts)
	}

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRecorderStopWhileIdle(t *testing.T) {
	rec := recorder.New(recorder.Options{Runner: &fakeRunner{}, Device: "default"})

	_, err := rec.Stop()
	if !errors.Is(err, recorder.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestRecorderStopSurfacesCaptureFailure(t *testing.T) {
	capture := newFakeCapture(1)
	capture.chunks <- []byte("OggS")
	capture.termErr = errors.New("encoder crashed")

	rec := recorder.New(recorder.Options{
		Runner: &fakeRunner{capture: capture},
		Device: "default",
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := rec.Stop()
	if !errors.Is(err, recorder.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}
