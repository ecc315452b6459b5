package recorder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

const captureChunkSize = 32 * 1024

// ExecCaptureRunner records through an external capture binary that writes
// the encoded stream to stdout, ffmpeg with an ALSA input by default.
type ExecCaptureRunner struct {
	Binary     string
	MaxSeconds int
}

// Start launches the capture process. Device-open failures reported by the
// process map to ErrPermission so callers can surface the denial distinctly.
func (r ExecCaptureRunner) Start(ctx context.Context, device string) (Capture, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa", "-i", device,
	}
	if r.MaxSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(r.MaxSeconds))
	}
	args = append(args, "-f", "ogg", "pipe:1")

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Binary, err)
	}

	capture := &execCapture{
		cmd:    cmd,
		stderr: &stderr,
		chunks: make(chan []byte, 16),
	}
	go capture.read(stdout)
	return capture, nil
}

type execCapture struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	chunks chan []byte

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (c *execCapture) Chunks() <-chan []byte { return c.chunks }

func (c *execCapture) Stop() error {
	c.stopOnce.Do(func() {
		if c.cmd.Process != nil {
			// SIGTERM lets ffmpeg flush its container trailer.
			_ = c.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
	return nil
}

func (c *execCapture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *execCapture) read(stdout io.Reader) {
	defer close(c.chunks)

	sawData := false
	for {
		buf := make([]byte, captureChunkSize)
		n, readErr := stdout.Read(buf)
		if n > 0 {
			sawData = true
			c.chunks <- buf[:n]
		}
		if readErr != nil {
			break
		}
	}

	waitErr := c.cmd.Wait()
	if waitErr == nil || sawData {
		// A clean exit, or a stop after data flowed, is a normal end.
		return
	}

	detail := strings.TrimSpace(c.stderr.String())
	c.mu.Lock()
	defer c.mu.Unlock()
	if isDeviceDenied(detail) {
		c.err = fmt.Errorf("%w: %s", ErrPermission, detail)
		return
	}
	c.err = fmt.Errorf("capture process: %w: %s", waitErr, detail)
}

func isDeviceDenied(stderrOutput string) bool {
	lowered := strings.ToLower(stderrOutput)
	for _, marker := range []string{
		"permission denied",
		"device or resource busy",
		"no such device",
		"cannot open audio device",
	} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
