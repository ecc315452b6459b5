package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"murmur/internal/backend/auth"
	"murmur/internal/backend/rest"
	"murmur/internal/localstore"
	"murmur/internal/session"
)

type fakeProvider struct {
	signUpCalls  int
	signOutCalls int

	signUpSession  *auth.Session
	signUpErr      error
	signInSession  *auth.Session
	signInErr      error
	refreshSession *auth.Session
	refreshErr     error
	signOutErr     error
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	f.signUpCalls++
	return f.signUpSession, f.signUpErr
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	return f.signInSession, f.signInErr
}

func (f *fakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return f.refreshSession, f.refreshErr
}

func (f *fakeProvider) SignOut(ctx context.Context, accessToken string) error {
	f.signOutCalls++
	return f.signOutErr
}

type fakeProfiles struct {
	taken     bool
	takenErr  error
	createErr error
	created   []string
}

func (f *fakeProfiles) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return f.taken, f.takenErr
}

func (f *fakeProfiles) CreateProfile(ctx context.Context, accessToken, userID, username string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, username)
	return nil
}

type memoryMirror struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{values: make(map[string]string)}
}

func (m *memoryMirror) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.values[key]
	return value, found, nil
}

func (m *memoryMirror) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func sessionFor(userID string) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		User:         auth.User{ID: userID, Email: userID + "@example.com"},
	}
}

func TestSignUpWithTakenUsernameCreatesNoIdentity(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{taken: true}
	store := session.NewStore(session.Options{Provider: provider, Profiles: profiles, Local: newMemoryMirror()})

	err := store.SignUp(context.Background(), "a@b.c", "pw", "occupied")
	if !errors.Is(err, session.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if provider.signUpCalls != 0 {
		t.Fatalf("expected no identity creation, got %d calls", provider.signUpCalls)
	}
}

func TestSignUpProfileFailureRollsBackIdentity(t *testing.T) {
	provider := &fakeProvider{signUpSession: sessionFor("u1")}
	profiles := &fakeProfiles{createErr: errors.New("insert failed")}
	store := session.NewStore(session.Options{Provider: provider, Profiles: profiles, Local: newMemoryMirror()})

	err := store.SignUp(context.Background(), "a@b.c", "pw", "newuser")
	if !errors.Is(err, session.ErrProfileCreation) {
		t.Fatalf("expected ErrProfileCreation, got %v", err)
	}
	if provider.signOutCalls != 1 {
		t.Fatalf("expected rollback sign-out, got %d calls", provider.signOutCalls)
	}
	if store.Current() != nil {
		t.Fatal("expected no session after failed sign-up")
	}
}

func TestSignUpProfileConflictMapsToUsernameTaken(t *testing.T) {
	provider := &fakeProvider{signUpSession: sessionFor("u1")}
	profiles := &fakeProfiles{createErr: rest.ErrConflict}
	store := session.NewStore(session.Options{Provider: provider, Profiles: profiles, Local: newMemoryMirror()})

	err := store.SignUp(context.Background(), "a@b.c", "pw", "Raced")
	if !errors.Is(err, session.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken from constraint race, got %v", err)
	}
}

func TestSignUpNormalizesUsername(t *testing.T) {
	provider := &fakeProvider{signUpSession: sessionFor("u1")}
	profiles := &fakeProfiles{}
	store := session.NewStore(session.Options{Provider: provider, Profiles: profiles, Local: newMemoryMirror()})

	if err := store.SignUp(context.Background(), "a@b.c", "pw", "  MixedCase "); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if len(profiles.created) != 1 || profiles.created[0] != "mixedcase" {
		t.Fatalf("expected folded username, got %v", profiles.created)
	}
}

func TestSignInMirrorsSessionAndEmitsEvent(t *testing.T) {
	provider := &fakeProvider{signInSession: sessionFor("u2")}
	mirror := newMemoryMirror()
	store := session.NewStore(session.Options{Provider: provider, Profiles: &fakeProfiles{}, Local: mirror})

	events, cancel := store.Subscribe()
	defer cancel()

	if err := store.SignIn(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if store.Current() == nil || store.Current().User.ID != "u2" {
		t.Fatalf("unexpected current session: %+v", store.Current())
	}

	blob, found, _ := mirror.Get(context.Background(), localstore.SessionKey)
	if !found {
		t.Fatal("expected session mirror to be written")
	}
	var mirrored auth.Session
	if err := json.Unmarshal([]byte(blob), &mirrored); err != nil {
		t.Fatalf("mirror is not valid JSON: %v", err)
	}
	if mirrored.User.ID != "u2" {
		t.Fatalf("unexpected mirrored user %q", mirrored.User.ID)
	}

	event := <-events
	if event.Type != session.SignedIn || event.Session.User.ID != "u2" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestSignInWrapsProviderFailure(t *testing.T) {
	provider := &fakeProvider{signInErr: auth.ErrInvalidCredentials}
	store := session.NewStore(session.Options{Provider: provider, Profiles: &fakeProfiles{}, Local: newMemoryMirror()})

	err := store.SignIn(context.Background(), "a@b.c", "bad")
	if !errors.Is(err, session.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected provider cause to survive wrapping, got %v", err)
	}
}

func TestSignOutClearsMirror(t *testing.T) {
	provider := &fakeProvider{signInSession: sessionFor("u3")}
	mirror := newMemoryMirror()
	store := session.NewStore(session.Options{Provider: provider, Profiles: &fakeProfiles{}, Local: mirror})

	if err := store.SignIn(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := store.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if store.Current() != nil {
		t.Fatal("expected signed-out state")
	}
	if _, found, _ := mirror.Get(context.Background(), localstore.SessionKey); found {
		t.Fatal("expected mirror to be removed")
	}
}

func TestStartRestoresMirroredSessionThenConfirms(t *testing.T) {
	refreshed := sessionFor("u4")
	provider := &fakeProvider{refreshSession: refreshed}
	mirror := newMemoryMirror()
	blob, _ := json.Marshal(sessionFor("u4"))
	mirror.Put(context.Background(), localstore.SessionKey, string(blob))

	store := session.NewStore(session.Options{Provider: provider, Profiles: &fakeProfiles{}, Local: mirror})
	if !store.Loading() {
		t.Fatal("expected loading before Start")
	}
	store.Start(context.Background())
	if store.Loading() {
		t.Fatal("expected loading resolved after Start")
	}
	if store.Current() == nil || store.Current().User.ID != "u4" {
		t.Fatalf("expected restored session, got %+v", store.Current())
	}
}

func TestStartDiscardsRejectedMirror(t *testing.T) {
	provider := &fakeProvider{refreshErr: auth.ErrSessionExpired}
	mirror := newMemoryMirror()
	blob, _ := json.Marshal(sessionFor("u5"))
	mirror.Put(context.Background(), localstore.SessionKey, string(blob))

	store := session.NewStore(session.Options{Provider: provider, Profiles: &fakeProfiles{}, Local: mirror})
	store.Start(context.Background())

	if store.Current() != nil {
		t.Fatal("expected session cleared after provider rejection")
	}
	if _, found, _ := mirror.Get(context.Background(), localstore.SessionKey); found {
		t.Fatal("expected rejected mirror to be removed")
	}
}
