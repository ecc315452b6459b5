// Package publish runs the post upload pipeline: validate the draft, push
// media objects to storage, then insert the database row. The row goes in
// last so a half-finished publish never surfaces in the feed; objects
// uploaded before a failure are removed on a best effort basis.
package publish

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

	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/faults"
	"murmur/internal/logging"
	"murmur/internal/recorder"
)

var (
	// ErrValidation marks drafts rejected before any upload.
	ErrValidation = errors.New("invalid draft")
	// ErrPublish marks failures after validation.
	ErrPublish = errors.New("publish failed")
)

// MaxImageBytes caps attached images at 2 MiB.
const MaxImageBytes = 2 << 20

// Draft is a validated-and-published unit of work.
type Draft struct {
	Title       string `validate:"required"`
	Description string
	ImagePath   string
	Clip        *recorder.Clip `validate:"required"`
	UserID      string         `validate:"required"`
}

// Buckets names the storage destinations for post media.
type Buckets struct {
	Images string
	Audio  string
}

// Pipeline publishes drafts against the hosted backend.
type Pipeline struct {
	rest     *rest.Client
	storage  *storage.Client
	buckets  Buckets
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Options configures a Pipeline.
type Options struct {
	Rest    *rest.Client
	Storage *storage.Client
	Buckets Buckets
	Logger  *slog.Logger

	// Now overrides the clock used for object key prefixes. Tests only.
	Now func() time.Time
}

// NewPipeline builds a publish pipeline.
func NewPipeline(opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		rest:     opts.Rest,
		storage:  opts.Storage,
		buckets:  opts.Buckets,
		logger:   logging.NewComponentLogger(opts.Logger, "publish"),
		validate: validator.New(),
		now:      now,
	}
}

type postRow struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AudioKey    string `json:"audio_url"`
	ImageKey    string `json:"image_url,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Publish validates the draft, uploads its media, and inserts the post row.
// Validation failures leave storage untouched.
func (p *Pipeline) Publish(ctx context.Context, accessToken string, draft Draft) error {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)

	if err := p.validate.Struct(draft); err != nil {
		return faults.Wrap(ErrValidation, "publish", "validate", "title and audio are required", err)
	}
	if draft.Clip != nil && len(draft.Clip.Data) == 0 {
		return faults.Wrap(ErrValidation, "publish", "validate", "recording is empty", nil)
	}

	var image []byte
	var imageType string
	if draft.ImagePath != "" {
		data, contentType, err := readImage(draft.ImagePath)
		if err != nil {
			return err
		}
		image = data
		imageType = contentType
	}

	prefix := fmt.Sprintf("%d-%s", p.now().UnixMilli(), draft.UserID)
	var uploaded []struct{ bucket, key string }
	compensate := func() {
		for _, obj := range uploaded {
			if err := p.storage.Remove(ctx, accessToken, obj.bucket, obj.key); err != nil {
				p.logger.Warn("failed to remove orphaned object",
					logging.Error(err),
					logging.String("bucket", obj.bucket),
					logging.String("key", obj.key),
					logging.String(logging.FieldErrorHint, "delete the object from the bucket manually"),
					logging.String(logging.FieldImpact, "orphaned object remains in storage"))
			}
		}
	}

	var imageKey string
	if image != nil {
		imageKey = prefix + extensionFor(draft.ImagePath)
		if err := p.storage.Upload(ctx, accessToken, p.buckets.Images, imageKey, imageType, bytes.NewReader(image)); err != nil {
			return faults.Wrap(ErrPublish, "publish", "upload image", imageKey, err)
		}
		uploaded = append(uploaded, struct{ bucket, key string }{p.buckets.Images, imageKey})
	}

	audioKey := prefix + ".ogg"
	if err := p.storage.Upload(ctx, accessToken, p.buckets.Audio, audioKey, draft.Clip.ContentType, bytes.NewReader(draft.Clip.Data)); err != nil {
		compensate()
		return faults.Wrap(ErrPublish, "publish", "upload audio", audioKey, err)
	}
	uploaded = append(uploaded, struct{ bucket, key string }{p.buckets.Audio, audioKey})

	row := postRow{
		UserID:      draft.UserID,
		Title:       draft.Title,
		Description: draft.Description,
		AudioKey:    audioKey,
		ImageKey:    imageKey,
		CreatedAt:   p.now().UTC().Format(time.RFC3339),
	}
	if err := p.rest.Insert(ctx, accessToken, "voice_posts", []postRow{row}, nil); err != nil {
		compensate()
		return faults.Wrap(ErrPublish, "publish", "insert post", draft.Title, err)
	}

	p.logger.Info("post published",
		logging.String(logging.FieldUserID, draft.UserID),
		logging.String("audio_key", audioKey),
		logging.Int("audio_bytes", len(draft.Clip.Data)))
	return nil
}

func readImage(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", faults.Wrap(ErrValidation, "publish", "read image", path, err)
	}
	if info.Size() > MaxImageBytes {
		return nil, "", faults.Wrap(ErrValidation, "publish", "read image",
			fmt.Sprintf("%s exceeds the 2 MiB image limit", filepath.Base(path)), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", faults.Wrap(ErrValidation, "publish", "read image", path, err)
	}
	contentType := mime.TypeByExtension(extensionFor(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func extensionFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ".jpg"
	}
	return ext
}
