package player

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// ExecRunner plays audio through an external player binary such as mpv.
type ExecRunner struct {
	Binary string
	Args   []string
}

// Start launches the player process against the source URL.
func (r ExecRunner) Start(ctx context.Context, sourceURL string) (Handle, error) {
	args := append(append([]string{}, r.Args...), sourceURL)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Binary, err)
	}

	handle := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(handle.done)
	}()
	return handle, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	stopOnce sync.Once
}

func (h *execHandle) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		if h.cmd.Process != nil {
			err = h.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
	return err
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}
