// Package player owns the process-wide audio playback handle. At most one
// handle exists at any time; starting a new playback pauses and releases the
// previous one before the new source is resolved.
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"murmur/internal/faults"
	"murmur/internal/logging"
)

// ErrPlayback marks failures starting or controlling the playback handle.
var ErrPlayback = errors.New("playback error")

// State enumerates the playback machine: Idle -> Loading -> Playing -> Idle.
type State int

const (
	Idle State = iota
	Loading
	Playing
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	default:
		return "idle"
	}
}

// Handle is a live playback process.
type Handle interface {
	// Stop pauses and releases the handle. Idempotent.
	Stop() error
	// Done is closed when playback ends for any reason.
	Done() <-chan struct{}
}

// Runner starts playback of a resolved source URL.
type Runner interface {
	Start(ctx context.Context, sourceURL string) (Handle, error)
}

// Resolver turns a storage object key into a playable URL.
type Resolver interface {
	PublicURL(bucket, key string) string
}

// Player serializes all playback through one mutex-guarded state machine.
type Player struct {
	runner   Runner
	resolver Resolver
	bucket   string
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	currentID  string
	handle     Handle
	generation uint64
}

// Options configures a Player.
type Options struct {
	Runner   Runner
	Resolver Resolver
	Bucket   string
	Logger   *slog.Logger
}

// New builds an idle player.
func New(opts Options) *Player {
	return &Player{
		runner:   opts.Runner,
		resolver: opts.Resolver,
		bucket:   opts.Bucket,
		logger:   logging.NewComponentLogger(opts.Logger, "player"),
	}
}

// State reports the current state and the post it applies to.
func (p *Player) State() (State, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.currentID
}

// Toggle starts playback of the given post, or pauses it when it is already
// playing. Switching posts stops the previous handle before the new source is
// resolved. The returned state is the one reached by this call.
func (p *Player) Toggle(ctx context.Context, postID, audioKey string) (State, error) {
	p.mu.Lock()
	if p.currentID == postID && p.state != Idle {
		p.stopLocked()
		p.mu.Unlock()
		return Idle, nil
	}

	// Release the previous handle before touching the new source.
	p.stopLocked()
	p.state = Loading
	p.currentID = postID
	p.generation++
	generation := p.generation
	p.mu.Unlock()

	sourceURL := p.resolver.PublicURL(p.bucket, audioKey)

	handle, err := p.runner.Start(ctx, sourceURL)
	if err != nil {
		p.mu.Lock()
		if p.generation == generation {
			p.state = Idle
			p.currentID = ""
		}
		p.mu.Unlock()
		return Idle, faults.Wrap(ErrPlayback, "player", "start", postID, err)
	}

	p.mu.Lock()
	if p.generation != generation {
		// A newer toggle superseded this one while the handle was starting.
		p.mu.Unlock()
		_ = handle.Stop()
		return Idle, nil
	}
	p.handle = handle
	p.state = Playing
	p.mu.Unlock()

	go p.watch(handle, generation, postID)
	return Playing, nil
}

// Stop releases any active handle and returns to Idle.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Wait blocks until the handle for postID finishes, or returns immediately
// when that playback is no longer active.
func (p *Player) Wait(ctx context.Context, postID string) error {
	p.mu.Lock()
	handle := p.handle
	current := p.currentID
	p.mu.Unlock()
	if handle == nil || current != postID {
		return nil
	}
	select {
	case <-handle.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch drives the Playing -> Idle transition when the handle ends on its
// own. The generation guard keeps a stale watcher from clobbering a newer
// playback after this one was superseded.
func (p *Player) watch(handle Handle, generation uint64, postID string) {
	<-handle.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != generation {
		return
	}
	p.state = Idle
	p.currentID = ""
	p.handle = nil
	p.logger.Debug("playback ended", logging.String(logging.FieldPostID, postID))
}

func (p *Player) stopLocked() {
	if p.handle != nil {
		if err := p.handle.Stop(); err != nil {
			p.logger.Warn("stopping playback handle failed",
				logging.Error(err),
				logging.String(logging.FieldPostID, p.currentID),
				logging.String(logging.FieldEventType, "player_stop_failed"))
		}
		p.handle = nil
	}
	p.state = Idle
	p.currentID = ""
	p.generation++
}
