package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"murmur/internal/backend/auth"
	"murmur/internal/backend/rest"
	"murmur/internal/faults"
	"murmur/internal/localstore"
	"murmur/internal/logging"
)

var (
	// ErrAuth marks provider failures during sign-in or sign-out.
	ErrAuth = errors.New("auth error")
	// ErrUsernameTaken marks sign-up attempts against an occupied username.
	ErrUsernameTaken = errors.New("username taken")
	// ErrProfileCreation marks sign-ups where the identity was created but
	// the profile row could not be. The identity may survive server-side.
	ErrProfileCreation = errors.New("profile creation failed")
)

// EventType labels session change notifications.
type EventType string

const (
	SignedIn       EventType = "signed_in"
	SignedOut      EventType = "signed_out"
	TokenRefreshed EventType = "token_refreshed"
)

// Event is delivered to subscribers on every session transition.
type Event struct {
	Type    EventType
	Session *auth.Session
}

// identityProvider is the slice of the auth client the store depends on.
type identityProvider interface {
	SignUp(ctx context.Context, email, password string) (*auth.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// profileDirectory covers the profile rows the store touches at sign-up.
type profileDirectory interface {
	UsernameTaken(ctx context.Context, username string) (bool, error)
	CreateProfile(ctx context.Context, accessToken, userID, username string) error
}

// mirror is the slice of localstore the store uses for the session blob.
type mirror interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store owns the current session and its lifecycle: sign-in, sign-up,
// sign-out, restoration from the local mirror, and change notifications.
// All transitions funnel through its methods; nothing mutates the session
// directly.
type Store struct {
	provider identityProvider
	profiles profileDirectory
	local    mirror
	logger   *slog.Logger

	mu          sync.Mutex
	session     *auth.Session
	loading     bool
	subscribers map[int]chan Event
	nextSub     int
}

// Options configures a Store.
type Options struct {
	Provider identityProvider
	Profiles profileDirectory
	Local    mirror
	Logger   *slog.Logger
}

// NewStore builds a session store. The store starts in the loading state
// until Start resolves the initial session.
func NewStore(opts Options) *Store {
	return &Store{
		provider:    opts.Provider,
		profiles:    opts.Profiles,
		local:       opts.Local,
		logger:      logging.NewComponentLogger(opts.Logger, "session"),
		loading:     true,
		subscribers: make(map[int]chan Event),
	}
}

// Start resolves the initial session: the local mirror is consulted first so
// a stale-but-plausible session is visible immediately, then the provider
// confirms or rejects it. Loading turns false once confirmation completes,
// regardless of outcome.
func (s *Store) Start(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	blob, found, err := s.local.Get(ctx, localstore.SessionKey)
	if err != nil {
		s.logger.Warn("reading session mirror failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_mirror_read_failed"),
			logging.String(logging.FieldImpact, "starting signed out"))
		return
	}
	if !found {
		return
	}

	var mirrored auth.Session
	if err := json.Unmarshal([]byte(blob), &mirrored); err != nil {
		s.logger.Warn("session mirror is corrupt; discarding",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_mirror_corrupt"))
		_ = s.local.Delete(ctx, localstore.SessionKey)
		return
	}

	s.mu.Lock()
	s.session = &mirrored
	s.mu.Unlock()

	confirmed, err := s.provider.RefreshSession(ctx, mirrored.RefreshToken)
	if err != nil {
		s.logger.Info("mirrored session rejected by provider",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_restore_rejected"))
		s.clearSession(ctx)
		s.emit(Event{Type: SignedOut})
		return
	}
	s.setSession(ctx, confirmed)
	s.emit(Event{Type: TokenRefreshed, Session: confirmed})
}

// Loading reports whether the initial session resolution is still pending.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Current returns the active session, or nil when signed out.
func (s *Store) Current() *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe registers for session change events. The returned cancel func
// must be called to release the subscription.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 8)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
	}
}

// SignIn exchanges credentials for a session and mirrors it locally.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return faults.Wrap(ErrAuth, "session", "sign in", "", err)
	}
	s.setSession(ctx, session)
	s.emit(Event{Type: SignedIn, Session: session})
	return nil
}

// SignUp creates an identity and its profile row. The username availability
// pre-check is advisory; the backend's uniqueness constraint is authoritative
// and a conflict from the profile insert maps to ErrUsernameTaken as well.
func (s *Store) SignUp(ctx context.Context, email, password, username string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return faults.Wrap(ErrAuth, "session", "sign up", "username is required", nil)
	}

	taken, err := s.profiles.UsernameTaken(ctx, username)
	if err != nil {
		return faults.Wrap(ErrAuth, "session", "sign up", "username availability check failed", err)
	}
	if taken {
		return faults.Wrap(ErrUsernameTaken, "session", "sign up", fmt.Sprintf("username %q", username), nil)
	}

	session, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return faults.Wrap(ErrAuth, "session", "sign up", "identity creation failed", err)
	}

	if err := s.profiles.CreateProfile(ctx, session.AccessToken, session.User.ID, username); err != nil {
		// Best-effort rollback: sign the fresh identity out. The identity may
		// still exist server-side, an inconsistency the client cannot repair.
		if signOutErr := s.provider.SignOut(ctx, session.AccessToken); signOutErr != nil {
			s.logger.Warn("rollback sign-out after profile failure also failed",
				logging.Error(signOutErr),
				logging.String(logging.FieldEventType, "signup_rollback_failed"),
				logging.String(logging.FieldUserID, session.User.ID))
		}
		if errors.Is(err, rest.ErrConflict) {
			return faults.Wrap(ErrUsernameTaken, "session", "sign up", fmt.Sprintf("username %q", username), err)
		}
		return faults.Wrap(ErrProfileCreation, "session", "sign up", "", err)
	}

	s.setSession(ctx, session)
	s.emit(Event{Type: SignedIn, Session: session})
	return nil
}

// SignOut revokes the session with the provider and clears local state.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()
	if current == nil {
		return nil
	}
	if err := s.provider.SignOut(ctx, current.AccessToken); err != nil {
		return faults.Wrap(ErrAuth, "session", "sign out", "", err)
	}
	s.clearSession(ctx)
	s.emit(Event{Type: SignedOut})
	return nil
}

// NormalizeUsername trims and case-folds a username to its canonical stored
// form. Profile rows keep usernames lowercase so the uniqueness constraint
// covers case variants.
func NormalizeUsername(username string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(username))
}

func (s *Store) setSession(ctx context.Context, session *auth.Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	blob, err := json.Marshal(session)
	if err == nil {
		err = s.local.Put(ctx, localstore.SessionKey, string(blob))
	}
	if err != nil {
		// The mirror is a redundant cache; a failed write desynchronizes it
		// until the next successful one but must not fail the operation.
		s.logger.Warn("writing session mirror failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_mirror_write_failed"),
			logging.String(logging.FieldErrorHint, "check data_dir permissions"),
			logging.String(logging.FieldImpact, "session will not survive this process"))
	}
}

func (s *Store) clearSession(ctx context.Context) {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	if err := s.local.Delete(ctx, localstore.SessionKey); err != nil {
		s.logger.Warn("removing session mirror failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_mirror_delete_failed"))
	}
}

func (s *Store) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default: // slow subscriber; drop rather than block transitions
		}
	}
}
