package session

import (
	"context"
	"fmt"
	"time"

	"murmur/internal/backend/rest"
)

// RestProfiles adapts the relational gateway to the profileDirectory the
// store needs at sign-up.
type RestProfiles struct {
	Client *rest.Client
}

// UsernameTaken reports whether a profile row already claims the username.
// Read-then-check, not atomic: callers treat the answer as advisory.
func (p RestProfiles) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var rows []struct {
		Username string `json:"username"`
	}
	err := p.Client.From("profiles").
		Select("username").
		Eq("username", username).
		Limit(1).
		Get(ctx, "", &rows)
	if err != nil {
		return false, fmt.Errorf("query profiles: %w", err)
	}
	return len(rows) > 0, nil
}

// CreateProfile inserts the profile row immediately after identity creation.
func (p RestProfiles) CreateProfile(ctx context.Context, accessToken, userID, username string) error {
	row := map[string]string{
		"id":         userID,
		"username":   username,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.Client.Insert(ctx, accessToken, "profiles", []map[string]string{row}, nil); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}
