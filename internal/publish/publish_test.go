package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/publish"
	"murmur/internal/recorder"
)

type backendFake struct {
	mu         sync.Mutex
	requests   []string
	insertBody []byte
	insertFn   func(w http.ResponseWriter)
}

func (b *backendFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/rest/v1/") {
			body, _ := io.ReadAll(r.Body)
			b.mu.Lock()
			b.insertBody = body
			b.mu.Unlock()
			if b.insertFn != nil {
				b.insertFn(w)
				return
			}
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func (b *backendFake) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func newPipeline(t *testing.T, serverURL string) *publish.Pipeline {
	t.Helper()
	restClient, err := rest.New(rest.Config{ProjectURL: serverURL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("rest.New: %v", err)
	}
	storageClient, err := storage.New(storage.Config{ProjectURL: serverURL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return publish.NewPipeline(publish.Options{
		Rest:    restClient,
		Storage: storageClient,
		Buckets: publish.Buckets{Images: "post-images", Audio: "voice-recordings"},
		Now:     func() time.Time { return time.UnixMilli(1700000000000) },
	})
}

func testClip() *recorder.Clip {
	return &recorder.Clip{Data: []byte("OggS-audio"), ContentType: "audio/ogg"}
}

func TestPublishRejectsEmptyTitleWithoutUploading(t *testing.T) {
	backend := &backendFake{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	pipeline := newPipeline(t, server.URL)
	err := pipeline.Publish(context.Background(), "token", publish.Draft{
		Title:  "   ",
		Clip:   testClip(),
		UserID: "user-1",
	})
	if !errors.Is(err, publish.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := backend.recorded(); len(got) != 0 {
		t.Errorf("expected no backend requests, got %v", got)
	}
}

func TestPublishRejectsOversizedImage(t *testing.T) {
	backend := &backendFake{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	path := filepath.Join(t.TempDir(), "huge.png")
	if err := os.WriteFile(path, make([]byte, publish.MaxImageBytes+1), 0o644); err != nil {
		t.Fatal(err)
	}

	pipeline := newPipeline(t, server.URL)
	err := pipeline.Publish(context.Background(), "token", publish.Draft{
		Title:     "morning thoughts",
		ImagePath: path,
		Clip:      testClip(),
		UserID:    "user-1",
	})
	if !errors.Is(err, publish.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := backend.recorded(); len(got) != 0 {
		t.Errorf("expected no backend requests, got %v", got)
	}
}

func TestPublishUploadsMediaBeforeInsertingRow(t *testing.T) {
	backend := &backendFake{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	path := filepath.Join(t.TempDir(), "cover.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	pipeline := newPipeline(t, server.URL)
	err := pipeline.Publish(context.Background(), "token", publish.Draft{
		Title:     "morning thoughts",
		ImagePath: path,
		Clip:      testClip(),
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := []string{
		"POST /storage/v1/object/post-images/1700000000000-user-1.png",
		"POST /storage/v1/object/voice-recordings/1700000000000-user-1.ogg",
		"POST /rest/v1/voice_posts",
	}
	got := backend.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected requests %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	var rows []map[string]string
	if err := json.Unmarshal(backend.insertBody, &rows); err != nil || len(rows) != 1 {
		t.Fatalf("expected one inserted row, got %s", backend.insertBody)
	}
	if rows[0]["audio_url"] != "1700000000000-user-1.ogg" {
		t.Errorf("expected audio_url column to carry the object key, got %v", rows[0])
	}
	if rows[0]["image_url"] != "1700000000000-user-1.png" {
		t.Errorf("expected image_url column to carry the object key, got %v", rows[0])
	}
}

func TestPublishRemovesUploadsWhenInsertFails(t *testing.T) {
	backend := &backendFake{insertFn: func(w http.ResponseWriter) {
		http.Error(w, `{"message":"row level security"}`, http.StatusForbidden)
	}}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	pipeline := newPipeline(t, server.URL)
	err := pipeline.Publish(context.Background(), "token", publish.Draft{
		Title:  "morning thoughts",
		Clip:   testClip(),
		UserID: "user-1",
	})
	if !errors.Is(err, publish.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}

	got := backend.recorded()
	var deletes []string
	for _, req := range got {
		if strings.HasPrefix(req, "DELETE ") {
			deletes = append(deletes, req)
		}
	}
	if len(deletes) != 1 || deletes[0] != "DELETE /storage/v1/object/voice-recordings" {
		t.Errorf("expected compensating delete for the audio object, got %v", got)
	}
}
