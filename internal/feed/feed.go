// Package feed reads the post stream and applies viewer interactions.
// Reads resolve everything in one embedded query plus two parallel lookups
// for the viewer's like and save sets. Mutations patch the in-memory view
// optimistically with a reversible delta; a failed backend call reverts the
// exact delta instead of refetching.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/faults"
	"murmur/internal/logging"
)

var (
	// ErrFetch marks failed reads.
	ErrFetch = errors.New("fetch failed")
	// ErrMutation marks failed interaction writes after the view was reverted.
	ErrMutation = errors.New("mutation failed")
	// ErrNotOwner marks delete attempts on another user's post.
	ErrNotOwner = errors.New("not the post owner")
)

// Author is the denormalized post author.
type Author struct {
	Username string `json:"username"`
	// AvatarKey holds the storage object key; the backend column is named
	// avatar_url but stores the key, resolved to a public URL at render time.
	AvatarKey string `json:"avatar_url"`
}

// Post is one rendered feed entry.
type Post struct {
	ID           string
	UserID       string
	Title        string
	Description  string
	AudioKey     string
	ImageKey     string
	AudioURL     string
	ImageURL     string
	Author       Author
	CreatedAt    time.Time
	LikeCount    int
	CommentCount int
	Liked        bool
	Saved        bool
}

// Comment is one post comment, author attached.
type Comment struct {
	ID        string
	PostID    string
	Content   string
	Author    Author
	CreatedAt time.Time
}

// Service reads posts and applies viewer interactions.
type Service struct {
	rest    *rest.Client
	storage *storage.Client
	buckets Buckets
	logger  *slog.Logger

	mu    sync.Mutex
	posts []Post
}

// Buckets names the storage sources for post media URLs.
type Buckets struct {
	Audio  string
	Images string
}

// Options configures a Service.
type Options struct {
	Rest    *rest.Client
	Storage *storage.Client
	Buckets Buckets
	Logger  *slog.Logger
}

// NewService builds a feed service with an empty view.
func NewService(opts Options) *Service {
	return &Service{
		rest:    opts.Rest,
		storage: opts.Storage,
		buckets: opts.Buckets,
		logger:  logging.NewComponentLogger(opts.Logger, "feed"),
	}
}

type countAggregate struct {
	Count int `json:"count"`
}

type postRecord struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	AudioKey    string           `json:"audio_url"`
	ImageKey    string           `json:"image_url"`
	CreatedAt   time.Time        `json:"created_at"`
	Profiles    Author           `json:"profiles"`
	Likes       []countAggregate `json:"post_likes"`
	Comments    []countAggregate `json:"post_comments"`
}

const postColumns = "id,user_id,title,description,audio_url,image_url,created_at," +
	"profiles(username,avatar_url),post_likes(count),post_comments(count)"

// FetchPosts loads the feed newest first. When viewerID is non-empty the
// viewer's like and save sets are fetched in parallel and folded in.
func (s *Service) FetchPosts(ctx context.Context, accessToken, viewerID string) ([]Post, error) {
	var records []postRecord
	err := s.rest.From("voice_posts").
		Select(postColumns).
		Order("created_at", rest.Descending).
		Get(ctx, accessToken, &records)
	if err != nil {
		return nil, faults.Wrap(ErrFetch, "feed", "fetch posts", "", err)
	}

	var liked, saved map[string]bool
	if viewerID != "" {
		var likeErr, saveErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			liked, likeErr = s.fetchPostIDSet(ctx, accessToken, "post_likes", viewerID)
		}()
		go func() {
			defer wg.Done()
			saved, saveErr = s.fetchPostIDSet(ctx, accessToken, "saved_posts", viewerID)
		}()
		wg.Wait()
		if likeErr != nil {
			return nil, faults.Wrap(ErrFetch, "feed", "fetch like set", viewerID, likeErr)
		}
		if saveErr != nil {
			return nil, faults.Wrap(ErrFetch, "feed", "fetch save set", viewerID, saveErr)
		}
	}

	posts := make([]Post, 0, len(records))
	for _, rec := range records {
		posts = append(posts, s.assemble(rec, liked, saved))
	}

	s.mu.Lock()
	s.posts = posts
	s.mu.Unlock()
	return s.snapshot(), nil
}

// FetchUserPosts loads one author's posts newest first. No view-state update;
// the shared feed stays whatever was last fetched.
func (s *Service) FetchUserPosts(ctx context.Context, accessToken, userID string) ([]Post, error) {
	var records []postRecord
	err := s.rest.From("voice_posts").
		Select(postColumns).
		Eq("user_id", userID).
		Order("created_at", rest.Descending).
		Get(ctx, accessToken, &records)
	if err != nil {
		return nil, faults.Wrap(ErrFetch, "feed", "fetch user posts", userID, err)
	}
	posts := make([]Post, 0, len(records))
	for _, rec := range records {
		posts = append(posts, s.assemble(rec, nil, nil))
	}
	return posts, nil
}

// FetchSavedPosts loads the viewer's saved posts, most recently saved first.
func (s *Service) FetchSavedPosts(ctx context.Context, accessToken, viewerID string) ([]Post, error) {
	var rows []struct {
		CreatedAt time.Time  `json:"created_at"`
		Post      postRecord `json:"voice_posts"`
	}
	err := s.rest.From("saved_posts").
		Select("created_at,voice_posts(" + postColumns + ")").
		Eq("user_id", viewerID).
		Order("created_at", rest.Descending).
		Get(ctx, accessToken, &rows)
	if err != nil {
		return nil, faults.Wrap(ErrFetch, "feed", "fetch saved posts", viewerID, err)
	}

	liked, err := s.fetchPostIDSet(ctx, accessToken, "post_likes", viewerID)
	if err != nil {
		return nil, faults.Wrap(ErrFetch, "feed", "fetch like set", viewerID, err)
	}

	posts := make([]Post, 0, len(rows))
	for _, row := range rows {
		post := s.assemble(row.Post, liked, nil)
		post.Saved = true
		posts = append(posts, post)
	}
	return posts, nil
}

// FetchComments loads a post's comments oldest first.
func (s *Service) FetchComments(ctx context.Context, accessToken, postID string) ([]Comment, error) {
	var rows []struct {
		ID        string    `json:"id"`
		PostID    string    `json:"post_id"`
		Content   string    `json:"comment"`
		CreatedAt time.Time `json:"created_at"`
		Profiles  Author    `json:"profiles"`
	}
	err := s.rest.From("post_comments").
		Select("id,post_id,comment,created_at,profiles(username,avatar_url)").
		Eq("post_id", postID).
		Order("created_at", rest.Ascending).
		Get(ctx, accessToken, &rows)
	if err != nil {
		return nil, faults.Wrap(ErrFetch, "feed", "fetch comments", postID, err)
	}
	comments := make([]Comment, 0, len(rows))
	for _, row := range rows {
		comments = append(comments, Comment{
			ID:        row.ID,
			PostID:    row.PostID,
			Content:   row.Content,
			Author:    row.Profiles,
			CreatedAt: row.CreatedAt,
		})
	}
	return comments, nil
}

// Posts returns the current view state.
func (s *Service) Posts() []Post {
	return s.snapshot()
}

// ToggleLike flips the viewer's like on a post. The view is patched first;
// a failed write reverts that exact patch.
func (s *Service) ToggleLike(ctx context.Context, accessToken, viewerID, postID string) error {
	post, ok := s.lookup(postID)
	if !ok {
		return faults.Wrap(ErrMutation, "feed", "toggle like", "post not in view", nil)
	}

	wasLiked := post.Liked
	apply := func(p *Post) {
		p.Liked = !wasLiked
		if wasLiked {
			p.LikeCount--
		} else {
			p.LikeCount++
		}
	}
	revert := func(p *Post) {
		p.Liked = wasLiked
		if wasLiked {
			p.LikeCount++
		} else {
			p.LikeCount--
		}
	}

	s.patch(postID, apply)
	var err error
	if wasLiked {
		err = s.rest.From("post_likes").
			Eq("post_id", postID).
			Eq("user_id", viewerID).
			Delete(ctx, accessToken)
	} else {
		err = s.rest.Insert(ctx, accessToken, "post_likes", []map[string]string{{
			"post_id": postID,
			"user_id": viewerID,
		}}, nil)
	}
	if err != nil {
		s.patch(postID, revert)
		return faults.Wrap(ErrMutation, "feed", "toggle like", postID, err)
	}
	return nil
}

// ToggleSave flips the viewer's save on a post, same patch discipline as likes.
func (s *Service) ToggleSave(ctx context.Context, accessToken, viewerID, postID string) error {
	post, ok := s.lookup(postID)
	if !ok {
		return faults.Wrap(ErrMutation, "feed", "toggle save", "post not in view", nil)
	}

	wasSaved := post.Saved
	s.patch(postID, func(p *Post) { p.Saved = !wasSaved })
	var err error
	if wasSaved {
		err = s.rest.From("saved_posts").
			Eq("post_id", postID).
			Eq("user_id", viewerID).
			Delete(ctx, accessToken)
	} else {
		err = s.rest.Insert(ctx, accessToken, "saved_posts", []map[string]string{{
			"post_id": postID,
			"user_id": viewerID,
		}}, nil)
	}
	if err != nil {
		s.patch(postID, func(p *Post) { p.Saved = wasSaved })
		return faults.Wrap(ErrMutation, "feed", "toggle save", postID, err)
	}
	return nil
}

// AddComment writes a comment and bumps the post's comment count.
func (s *Service) AddComment(ctx context.Context, accessToken, viewerID, postID, content string) error {
	if content == "" {
		return faults.Wrap(ErrMutation, "feed", "add comment", "comment is empty", nil)
	}

	s.patch(postID, func(p *Post) { p.CommentCount++ })
	err := s.rest.Insert(ctx, accessToken, "post_comments", []map[string]string{{
		"post_id":    postID,
		"user_id":    viewerID,
		"comment":    content,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}}, nil)
	if err != nil {
		s.patch(postID, func(p *Post) { p.CommentCount-- })
		return faults.Wrap(ErrMutation, "feed", "add comment", postID, err)
	}
	return nil
}

// DeletePost removes the viewer's own post. Ownership is checked locally as
// a courtesy; the backend's row policy is the authority, and its rejection
// restores the post in the view.
func (s *Service) DeletePost(ctx context.Context, accessToken, viewerID, postID string) error {
	post, ok := s.lookup(postID)
	if !ok {
		return faults.Wrap(ErrMutation, "feed", "delete post", "post not in view", nil)
	}
	if post.UserID != viewerID {
		return faults.Wrap(ErrNotOwner, "feed", "delete post", postID, nil)
	}

	index := s.remove(postID)
	err := s.rest.From("voice_posts").
		Eq("id", postID).
		Eq("user_id", viewerID).
		Delete(ctx, accessToken)
	if err != nil {
		s.restore(post, index)
		return faults.Wrap(ErrMutation, "feed", "delete post", postID, err)
	}

	s.logger.Info("post deleted",
		logging.String(logging.FieldPostID, postID),
		logging.String(logging.FieldUserID, viewerID))
	return nil
}

func (s *Service) fetchPostIDSet(ctx context.Context, accessToken, table, viewerID string) (map[string]bool, error) {
	var rows []struct {
		PostID string `json:"post_id"`
	}
	err := s.rest.From(table).
		Select("post_id").
		Eq("user_id", viewerID).
		Get(ctx, accessToken, &rows)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.PostID] = true
	}
	return set, nil
}

func (s *Service) assemble(rec postRecord, liked, saved map[string]bool) Post {
	post := Post{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Title:       rec.Title,
		Description: rec.Description,
		AudioKey:    rec.AudioKey,
		ImageKey:    rec.ImageKey,
		Author:      rec.Profiles,
		CreatedAt:   rec.CreatedAt,
		Liked:       liked[rec.ID],
		Saved:       saved[rec.ID],
	}
	if len(rec.Likes) > 0 {
		post.LikeCount = rec.Likes[0].Count
	}
	if len(rec.Comments) > 0 {
		post.CommentCount = rec.Comments[0].Count
	}
	if post.AudioKey != "" {
		post.AudioURL = s.storage.PublicURL(s.buckets.Audio, post.AudioKey)
	}
	if post.ImageKey != "" {
		post.ImageURL = s.storage.PublicURL(s.buckets.Images, post.ImageKey)
	}
	return post
}

func (s *Service) snapshot() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Post(nil), s.posts...)
}

func (s *Service) lookup(postID string) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, post := range s.posts {
		if post.ID == postID {
			return post, true
		}
	}
	return Post{}, false
}

func (s *Service) patch(postID string, fn func(*Post)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.posts {
		if s.posts[i].ID == postID {
			fn(&s.posts[i])
			return
		}
	}
}

func (s *Service) remove(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.posts {
		if s.posts[i].ID == postID {
			s.posts = append(s.posts[:i], s.posts[i+1:]...)
			return i
		}
	}
	return -1
}

func (s *Service) restore(post Post, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index > len(s.posts) {
		index = len(s.posts)
	}
	s.posts = append(s.posts[:index], append([]Post{post}, s.posts[index:]...)...)
}
