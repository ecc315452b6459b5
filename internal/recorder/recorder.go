// Package recorder captures microphone input into an ordered chunk buffer
// and finalizes it into a single audio clip for publishing. Capture runs
// through an external process; the recorder owns the state machine and the
// buffer, never the encoding.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"murmur/internal/faults"
	"murmur/internal/logging"
)

var (
	// ErrPermission marks microphone access denials.
	ErrPermission = errors.New("microphone access denied")
	// ErrCapture marks other capture failures.
	ErrCapture = errors.New("capture error")
	// ErrNotRecording marks Stop calls without a running capture.
	ErrNotRecording = errors.New("not recording")
	// ErrBusy marks Start calls while a capture is already running.
	ErrBusy = errors.New("already recording")
)

// State enumerates the recorder machine. The Uploading phase belongs to the
// publish pipeline; the recorder returns to Idle on Stop.
type State int

const (
	Idle State = iota
	Recording
)

// Clip is the finalized recording: the ordered concatenation of every
// captured chunk.
type Clip struct {
	Data        []byte
	ContentType string
}

// Capture is a live microphone capture.
type Capture interface {
	// Chunks delivers encoded audio in arrival order. The channel closes
	// when the capture ends.
	Chunks() <-chan []byte
	// Stop terminates the capture and releases the input device.
	Stop() error
	// Err reports the terminal capture error once Chunks is closed.
	Err() error
}

// CaptureRunner opens the input device and starts a capture.
type CaptureRunner interface {
	Start(ctx context.Context, device string) (Capture, error)
}

// Recorder drives Idle -> Recording -> Idle transitions around one capture.
type Recorder struct {
	runner CaptureRunner
	device string
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	starting bool
	capture  Capture
	buffer   [][]byte
	drained  chan struct{}
}

// Options configures a Recorder.
type Options struct {
	Runner CaptureRunner
	Device string
	Logger *slog.Logger
}

// New builds an idle recorder.
func New(opts Options) *Recorder {
	return &Recorder{
		runner: opts.Runner,
		device: opts.Device,
		logger: logging.NewComponentLogger(opts.Logger, "recorder"),
	}
}

// State reports the current machine state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start requests the input device and begins accumulating chunks. A denied
// device fails with ErrPermission and leaves the recorder Idle.
func (r *Recorder) Start(ctx context.Context) error {
	// The starting flag keeps the Idle check and the runner call atomic so
	// concurrent Starts cannot both open a capture.
	r.mu.Lock()
	if r.state != Idle || r.starting {
		r.mu.Unlock()
		return faults.Wrap(ErrBusy, "recorder", "start", "", nil)
	}
	r.starting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}()

	capture, err := r.runner.Start(ctx, r.device)
	if err != nil {
		if errors.Is(err, ErrPermission) {
			return faults.Wrap(ErrPermission, "recorder", "start", r.device, err)
		}
		return faults.Wrap(ErrCapture, "recorder", "start", r.device, err)
	}

	r.mu.Lock()
	r.state = Recording
	r.capture = capture
	r.buffer = nil
	r.drained = make(chan struct{})
	drained := r.drained
	r.mu.Unlock()

	// Device denials surface through the capture's early termination: the
	// probe resolves once the stream produces data (the encoder emits header
	// bytes immediately) or ends before any arrived.
	probe := make(chan error, 1)
	go func() {
		sawChunk := false
		for chunk := range capture.Chunks() {
			if len(chunk) == 0 {
				continue
			}
			if !sawChunk {
				sawChunk = true
				probe <- nil
			}
			r.mu.Lock()
			r.buffer = append(r.buffer, chunk)
			r.mu.Unlock()
		}
		if !sawChunk {
			err := capture.Err()
			if err == nil {
				err = errors.New("capture ended before producing audio")
			}
			probe <- err
		}
		close(drained)
	}()

	select {
	case err := <-probe:
		if err != nil {
			r.reset()
			if errors.Is(err, ErrPermission) {
				return faults.Wrap(ErrPermission, "recorder", "start", r.device, err)
			}
			return faults.Wrap(ErrCapture, "recorder", "start", r.device, err)
		}
	case <-ctx.Done():
		_ = capture.Stop()
		<-drained
		r.reset()
		return faults.Wrap(ErrCapture, "recorder", "start", "", ctx.Err())
	}

	r.logger.Info("recording started", logging.String("device", r.device))
	return nil
}

func (r *Recorder) reset() {
	r.mu.Lock()
	r.state = Idle
	r.capture = nil
	r.buffer = nil
	r.mu.Unlock()
}

// Stop finalizes the buffer into a single clip and releases the device. The
// clip's content equals the ordered concatenation of every captured chunk.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return nil, faults.Wrap(ErrNotRecording, "recorder", "stop", "", nil)
	}
	capture := r.capture
	drained := r.drained
	r.state = Idle
	r.capture = nil
	r.mu.Unlock()

	if err := capture.Stop(); err != nil {
		return nil, faults.Wrap(ErrCapture, "recorder", "stop", "", err)
	}
	<-drained

	if err := capture.Err(); err != nil {
		return nil, faults.Wrap(ErrCapture, "recorder", "stop", "capture ended abnormally", err)
	}

	r.mu.Lock()
	chunks := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	clip := &Clip{
		Data:        bytes.Join(chunks, nil),
		ContentType: "audio/ogg",
	}
	r.logger.Info("recording finalized",
		logging.Int("chunks", len(chunks)),
		logging.Int("bytes", len(clip.Data)))
	return clip, nil
}
