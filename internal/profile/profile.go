// Package profile reads and edits the signed-in user's profile row.
// Profiles are public to read; every mutation here is owner-only and the
// backend's row policies enforce that server side.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"murmur/internal/backend/auth"
	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/faults"
	"murmur/internal/logging"
	"murmur/internal/session"
)

var (
	// ErrValidation marks rejected profile edits.
	ErrValidation = errors.New("invalid profile change")
	// ErrUpdate marks failed profile mutations.
	ErrUpdate = errors.New("profile update failed")
)

// MaxAvatarBytes caps avatar images at 2 MiB.
const MaxAvatarBytes = 2 << 20

// Profile is a row from the profiles table joined with its public avatar URL.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Bio       string `json:"bio"`
	Website   string `json:"website"`
	AvatarKey string `json:"avatar_url"`
	CreatedAt string `json:"created_at"`

	AvatarURL string `json:"-"`
}

// Changes holds the edits to apply. Zero-value fields are left untouched.
type Changes struct {
	Username   string
	Bio        *string
	Website    *string `validate:"omitempty,url"`
	AvatarPath string
}

// Service performs profile reads and owner-only edits.
type Service struct {
	rest         *rest.Client
	storage      *storage.Client
	identity     *auth.Client
	avatarBucket string
	logger       *slog.Logger
	validate     *validator.Validate
	now          func() time.Time
}

// Options configures a Service.
type Options struct {
	Rest         *rest.Client
	Storage      *storage.Client
	Identity     *auth.Client
	AvatarBucket string
	Logger       *slog.Logger

	// Now overrides the clock used for avatar keys. Tests only.
	Now func() time.Time
}

// NewService builds a profile service.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		rest:         opts.Rest,
		storage:      opts.Storage,
		identity:     opts.Identity,
		avatarBucket: opts.AvatarBucket,
		logger:       logging.NewComponentLogger(opts.Logger, "profile"),
		validate:     validator.New(),
		now:          now,
	}
}

// Fetch reads one profile by user id.
func (s *Service) Fetch(ctx context.Context, accessToken, userID string) (*Profile, error) {
	var rows []Profile
	err := s.rest.From("profiles").
		Select("id,username,bio,website,avatar_url,created_at").
		Eq("id", userID).
		Limit(1).
		Get(ctx, accessToken, &rows)
	if err != nil {
		return nil, faults.Wrap(ErrUpdate, "profile", "fetch", userID, err)
	}
	if len(rows) == 0 {
		return nil, faults.Wrap(ErrUpdate, "profile", "fetch", "profile not found", nil)
	}
	p := rows[0]
	if p.AvatarKey != "" {
		p.AvatarURL = s.storage.PublicURL(s.avatarBucket, p.AvatarKey)
	}
	return &p, nil
}

// Update applies the given edits to the signed-in user's row. A new avatar
// is uploaded first so a failed row update never leaves the profile pointing
// at a missing object.
func (s *Service) Update(ctx context.Context, accessToken, userID string, changes Changes) error {
	if err := s.validate.Struct(changes); err != nil {
		return faults.Wrap(ErrValidation, "profile", "update", "website must be a valid URL", err)
	}

	values := map[string]any{}

	if username := strings.TrimSpace(changes.Username); username != "" {
		values["username"] = session.NormalizeUsername(username)
	}
	if changes.Bio != nil {
		values["bio"] = strings.TrimSpace(*changes.Bio)
	}
	if changes.Website != nil {
		values["website"] = strings.TrimSpace(*changes.Website)
	}

	if changes.AvatarPath != "" {
		key, err := s.uploadAvatar(ctx, accessToken, userID, changes.AvatarPath)
		if err != nil {
			return err
		}
		values["avatar_url"] = key
	}

	if len(values) == 0 {
		return faults.Wrap(ErrValidation, "profile", "update", "nothing to change", nil)
	}
	values["updated_at"] = s.now().UTC().Format(time.RFC3339)

	err := s.rest.From("profiles").
		Eq("id", userID).
		Update(ctx, accessToken, values)
	if err != nil {
		if errors.Is(err, rest.ErrConflict) {
			return faults.Wrap(session.ErrUsernameTaken, "profile", "update", changes.Username, err)
		}
		return faults.Wrap(ErrUpdate, "profile", "update", userID, err)
	}

	s.logger.Info("profile updated", logging.String(logging.FieldUserID, userID))
	return nil
}

// ChangePassword rotates the account password through the identity provider.
func (s *Service) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	if len(newPassword) < 6 {
		return faults.Wrap(ErrValidation, "profile", "change password", "password must be at least 6 characters", nil)
	}
	if err := s.identity.UpdatePassword(ctx, accessToken, newPassword); err != nil {
		return faults.Wrap(ErrUpdate, "profile", "change password", "", err)
	}
	s.logger.Info("password changed")
	return nil
}

func (s *Service) uploadAvatar(ctx context.Context, accessToken, userID, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", faults.Wrap(ErrValidation, "profile", "read avatar", path, err)
	}
	if info.Size() > MaxAvatarBytes {
		return "", faults.Wrap(ErrValidation, "profile", "read avatar",
			fmt.Sprintf("%s exceeds the 2 MiB avatar limit", filepath.Base(path)), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", faults.Wrap(ErrValidation, "profile", "read avatar", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".jpg"
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), userID, ext)
	if err := s.storage.Upload(ctx, accessToken, s.avatarBucket, key, contentType, bytes.NewReader(data)); err != nil {
		return "", faults.Wrap(ErrUpdate, "profile", "upload avatar", key, err)
	}
	return key, nil
}
