package feed_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/feed"
)

const feedRows = `[
  {"id":"post-2","user_id":"user-2","title":"evening walk","description":"",
   "audio_url":"2-user-2.ogg","image_url":"2-user-2.png","created_at":"2026-01-02T00:00:00Z",
   "profiles":{"username":"bea","avatar_url":""},"post_likes":[{"count":3}],"post_comments":[{"count":1}]},
  {"id":"post-1","user_id":"user-1","title":"morning thoughts","description":"first try",
   "audio_url":"1-user-1.ogg","image_url":"","created_at":"2026-01-01T00:00:00Z",
   "profiles":{"username":"ada","avatar_url":"a.png"},"post_likes":[],"post_comments":[]}
]`

type feedBackend struct {
	mu       sync.Mutex
	requests []string
	failOn   string
}

func (b *feedBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		fail := b.failOn != "" && strings.Contains(r.Method+" "+r.URL.Path, b.failOn)
		b.mu.Unlock()

		if fail {
			http.Error(w, `{"message":"row level security"}`, http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/rest/v1/voice_posts" && r.Method == http.MethodGet:
			io.WriteString(w, feedRows)
		case r.URL.Path == "/rest/v1/post_likes" && r.Method == http.MethodGet:
			io.WriteString(w, `[{"post_id":"post-1"}]`)
		case r.URL.Path == "/rest/v1/saved_posts" && r.Method == http.MethodGet:
			io.WriteString(w, `[{"post_id":"post-2"}]`)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func (b *feedBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func newService(t *testing.T, serverURL string) *feed.Service {
	t.Helper()
	restClient, err := rest.New(rest.Config{ProjectURL: serverURL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("rest.New: %v", err)
	}
	storageClient, err := storage.New(storage.Config{ProjectURL: serverURL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return feed.NewService(feed.Options{
		Rest:    restClient,
		Storage: storageClient,
		Buckets: feed.Buckets{Audio: "voice-recordings", Images: "post-images"},
	})
}

func fetchFeed(t *testing.T, svc *feed.Service) []feed.Post {
	t.Helper()
	posts, err := svc.FetchPosts(context.Background(), "token", "user-1")
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	return posts
}

func TestFetchPostsFoldsViewerSets(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	posts := fetchFeed(t, svc)

	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ID != "post-2" || posts[1].ID != "post-1" {
		t.Errorf("expected newest-first order, got %s then %s", posts[0].ID, posts[1].ID)
	}
	if posts[0].LikeCount != 3 || posts[0].CommentCount != 1 {
		t.Errorf("unexpected counts on post-2: %d likes, %d comments", posts[0].LikeCount, posts[0].CommentCount)
	}
	if !posts[0].Saved || posts[0].Liked {
		t.Errorf("expected post-2 saved but not liked, got liked=%v saved=%v", posts[0].Liked, posts[0].Saved)
	}
	if !posts[1].Liked || posts[1].Saved {
		t.Errorf("expected post-1 liked but not saved, got liked=%v saved=%v", posts[1].Liked, posts[1].Saved)
	}
	wantAudio := server.URL + "/storage/v1/object/public/voice-recordings/2-user-2.ogg"
	if posts[0].AudioURL != wantAudio {
		t.Errorf("expected audio url %q, got %q", wantAudio, posts[0].AudioURL)
	}
	if posts[1].ImageURL != "" {
		t.Errorf("expected no image url for post-1, got %q", posts[1].ImageURL)
	}
}

func TestFetchPostsAddressesBackendSchema(t *testing.T) {
	var selectParam string
	backend := &feedBackend{}
	inner := backend.handler()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/voice_posts" {
			selectParam = r.URL.Query().Get("select")
		}
		inner.ServeHTTP(w, r)
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)
	if err := svc.ToggleLike(context.Background(), "token", "user-1", "post-1"); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	if err := svc.AddComment(context.Background(), "token", "user-1", "post-1", "hey"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	for _, want := range []string{"audio_url", "image_url", "profiles(username,avatar_url)", "post_likes(count)", "post_comments(count)"} {
		if !strings.Contains(selectParam, want) {
			t.Errorf("expected select to include %q, got %q", want, selectParam)
		}
	}
	requests := backend.recorded()
	if !contains(requests, "GET /rest/v1/post_likes") {
		t.Errorf("expected like set read from post_likes, got %v", requests)
	}
	if !contains(requests, "DELETE /rest/v1/post_likes") {
		t.Errorf("expected unlike delete against post_likes, got %v", requests)
	}
	if !contains(requests, "POST /rest/v1/post_comments") {
		t.Errorf("expected comment insert against post_comments, got %v", requests)
	}
}

func contains(requests []string, want string) bool {
	for _, req := range requests {
		if req == want {
			return true
		}
	}
	return false
}

func TestFetchPostsAnonymousSkipsViewerSets(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	posts, err := svc.FetchPosts(context.Background(), "", "")
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if posts[0].Liked || posts[0].Saved {
		t.Error("expected no viewer flags for anonymous fetch")
	}
	for _, req := range backend.recorded() {
		if strings.Contains(req, "/post_likes") || strings.Contains(req, "/saved_posts") {
			t.Errorf("unexpected viewer-set request %q", req)
		}
	}
}

func TestToggleLikeAppliesAndKeepsDelta(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)

	if err := svc.ToggleLike(context.Background(), "token", "user-1", "post-2"); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	posts := svc.Posts()
	if !posts[0].Liked || posts[0].LikeCount != 4 {
		t.Errorf("expected liked with count 4, got liked=%v count=%d", posts[0].Liked, posts[0].LikeCount)
	}

	// Toggling again removes the like.
	if err := svc.ToggleLike(context.Background(), "token", "user-1", "post-2"); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	posts = svc.Posts()
	if posts[0].Liked || posts[0].LikeCount != 3 {
		t.Errorf("expected unliked with count 3, got liked=%v count=%d", posts[0].Liked, posts[0].LikeCount)
	}
}

func TestToggleLikeRevertsDeltaOnFailure(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)
	backend.failOn = "POST /rest/v1/post_likes"

	err := svc.ToggleLike(context.Background(), "token", "user-1", "post-2")
	if !errors.Is(err, feed.ErrMutation) {
		t.Fatalf("expected ErrMutation, got %v", err)
	}
	posts := svc.Posts()
	if posts[0].Liked || posts[0].LikeCount != 3 {
		t.Errorf("expected reverted state, got liked=%v count=%d", posts[0].Liked, posts[0].LikeCount)
	}
}

func TestAddCommentRevertsCountOnFailure(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)
	backend.failOn = "POST /rest/v1/post_comments"

	err := svc.AddComment(context.Background(), "token", "user-1", "post-2", "nice one")
	if !errors.Is(err, feed.ErrMutation) {
		t.Fatalf("expected ErrMutation, got %v", err)
	}
	if got := svc.Posts()[0].CommentCount; got != 1 {
		t.Errorf("expected comment count reverted to 1, got %d", got)
	}
}

func TestDeletePostRejectsNonOwner(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)
	before := len(backend.recorded())

	err := svc.DeletePost(context.Background(), "token", "user-1", "post-2")
	if !errors.Is(err, feed.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if len(svc.Posts()) != 2 {
		t.Error("expected post to remain in view")
	}
	if got := len(backend.recorded()); got != before {
		t.Errorf("expected no delete request, got %d new requests", got-before)
	}
}

func TestDeletePostRestoresViewOnBackendRejection(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)
	backend.failOn = "DELETE /rest/v1/voice_posts"

	err := svc.DeletePost(context.Background(), "token", "user-1", "post-1")
	if !errors.Is(err, feed.ErrMutation) {
		t.Fatalf("expected ErrMutation, got %v", err)
	}
	posts := svc.Posts()
	if len(posts) != 2 || posts[1].ID != "post-1" {
		t.Errorf("expected post-1 restored at its position, got %v", postIDs(posts))
	}
}

func TestDeletePostRemovesFromView(t *testing.T) {
	backend := &feedBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	svc := newService(t, server.URL)
	fetchFeed(t, svc)

	if err := svc.DeletePost(context.Background(), "token", "user-1", "post-1"); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	posts := svc.Posts()
	if len(posts) != 1 || posts[0].ID != "post-2" {
		t.Errorf("expected only post-2 left, got %v", postIDs(posts))
	}
}

func TestFetchCommentsOldestFirst(t *testing.T) {
	var orderParam string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderParam = r.URL.Query().Get("order")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
		  {"id":"c1","post_id":"post-1","comment":"first","created_at":"2026-01-01T01:00:00Z","profiles":{"username":"bea"}},
		  {"id":"c2","post_id":"post-1","comment":"second","created_at":"2026-01-01T02:00:00Z","profiles":{"username":"ada"}}
		]`)
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	comments, err := svc.FetchComments(context.Background(), "token", "post-1")
	if err != nil {
		t.Fatalf("FetchComments: %v", err)
	}
	if orderParam != "created_at.asc" {
		t.Errorf("expected ascending order param, got %q", orderParam)
	}
	if len(comments) != 2 || comments[0].Content != "first" {
		t.Errorf("unexpected comments %v", comments)
	}
}

func postIDs(posts []feed.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
