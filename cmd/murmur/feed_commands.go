package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"murmur/internal/backend/auth"
	"murmur/internal/feed"
	"murmur/internal/localstore"
	"murmur/internal/views"
)

func newFeedCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Show the latest voice posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				posts, err := fetchFeed(ctx, a)
				if err != nil {
					a.notices.Error(ctx, "could not load the feed: %v", err)
					return err
				}
				if err := saveFeedIndex(ctx, a, posts); err != nil {
					a.notices.Warn(ctx, "feed positions not saved: %v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), views.Feed(posts, cctx.viewOptions(cmd)))
				return nil
			})
		},
	}
}

func newSavedCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "saved",
		Short: "Show your saved posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				posts, err := a.feed.FetchSavedPosts(ctx, sess.AccessToken, sess.User.ID)
				if err != nil {
					a.notices.Error(ctx, "could not load saved posts: %v", err)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), views.Saved(posts, cctx.viewOptions(cmd)))
				return nil
			})
		},
	}
}

func newPlayCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "play <position>",
		Short: "Play a post from the last rendered feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				state, err := a.player.Toggle(ctx, post.ID, post.AudioKey)
				if err != nil {
					a.notices.Error(ctx, "playback failed: %v", err)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", strings.ToLower(state.String()), post.Title)
				return a.player.Wait(ctx, post.ID)
			})
		},
	}
}

func newLikeCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "like <position>",
		Short: "Like or unlike a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.feed.ToggleLike(ctx, sess.AccessToken, sess.User.ID, post.ID); err != nil {
					a.notices.Error(ctx, "like failed: %v", err)
					return err
				}
				if post.Liked {
					a.notices.Success(ctx, "unliked %q", post.Title)
				} else {
					a.notices.Success(ctx, "liked %q", post.Title)
				}
				return nil
			})
		},
	}
}

func newSaveCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "save <position>",
		Short: "Save or unsave a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.feed.ToggleSave(ctx, sess.AccessToken, sess.User.ID, post.ID); err != nil {
					a.notices.Error(ctx, "save failed: %v", err)
					return err
				}
				if post.Saved {
					a.notices.Success(ctx, "removed %q from saved posts", post.Title)
				} else {
					a.notices.Success(ctx, "saved %q", post.Title)
				}
				return nil
			})
		},
	}
}

func newCommentsCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "comments <position>",
		Short: "Show a post's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				token := ""
				if sess := a.currentSession(); sess != nil {
					token = sess.AccessToken
				}
				comments, err := a.feed.FetchComments(ctx, token, post.ID)
				if err != nil {
					a.notices.Error(ctx, "could not load comments: %v", err)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), views.Comments(comments, cctx.viewOptions(cmd)))
				return nil
			})
		},
	}
}

func newCommentCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <position> <text>",
		Short: "Comment on a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				content := strings.TrimSpace(strings.Join(args[1:], " "))
				if err := a.feed.AddComment(ctx, sess.AccessToken, sess.User.ID, post.ID, content); err != nil {
					a.notices.Error(ctx, "comment failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "commented on %q", post.Title)
				return nil
			})
		},
	}
}

func newDeleteCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <position>",
		Short: "Delete your own post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				post, err := resolvePost(ctx, a, args[0])
				if err != nil {
					return err
				}
				err = a.feed.DeletePost(ctx, sess.AccessToken, sess.User.ID, post.ID)
				switch {
				case errors.Is(err, feed.ErrNotOwner):
					a.notices.Error(ctx, "only the author can delete %q", post.Title)
					return err
				case err != nil:
					a.notices.Error(ctx, "delete failed: %v", err)
					return err
				}
				if err := saveFeedIndex(ctx, a, a.feed.Posts()); err != nil {
					a.notices.Warn(ctx, "feed positions not saved: %v", err)
				}
				a.notices.Success(ctx, "deleted %q", post.Title)
				return nil
			})
		},
	}
}

func requireSession(a *app) (*auth.Session, error) {
	sess := a.currentSession()
	if sess == nil {
		return nil, errors.New("not signed in; run `murmur login` first")
	}
	return sess, nil
}

// fetchFeed loads posts with the viewer's like and save sets folded in when
// a session exists.
func fetchFeed(ctx context.Context, a *app) ([]feed.Post, error) {
	token, viewer := "", ""
	if sess := a.currentSession(); sess != nil {
		token, viewer = sess.AccessToken, sess.User.ID
	}
	return a.feed.FetchPosts(ctx, token, viewer)
}

// saveFeedIndex persists the rendered post order so later invocations can
// resolve `like 3` against the feed the user actually saw.
func saveFeedIndex(ctx context.Context, a *app, posts []feed.Post) error {
	ids := make([]string, len(posts))
	for i, post := range posts {
		ids[i] = post.ID
	}
	blob, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return a.local.Put(ctx, localstore.FeedIndexKey, string(blob))
}

// resolvePost refetches the feed, then maps a 1-based position from the last
// rendered feed onto the matching post in the fresh view.
func resolvePost(ctx context.Context, a *app, arg string) (feed.Post, error) {
	position, err := strconv.Atoi(arg)
	if err != nil || position < 1 {
		return feed.Post{}, fmt.Errorf("position must be a number from the feed, got %q", arg)
	}

	blob, found, err := a.local.Get(ctx, localstore.FeedIndexKey)
	if err != nil {
		return feed.Post{}, fmt.Errorf("read feed positions: %w", err)
	}
	if !found {
		return feed.Post{}, errors.New("no feed rendered yet; run `murmur feed` first")
	}
	var ids []string
	if err := json.Unmarshal([]byte(blob), &ids); err != nil {
		return feed.Post{}, fmt.Errorf("decode feed positions: %w", err)
	}
	if position > len(ids) {
		return feed.Post{}, fmt.Errorf("position %d is beyond the last feed (%d posts)", position, len(ids))
	}
	wantID := ids[position-1]

	posts, err := fetchFeed(ctx, a)
	if err != nil {
		return feed.Post{}, err
	}
	for _, post := range posts {
		if post.ID == wantID {
			return post, nil
		}
	}
	return feed.Post{}, fmt.Errorf("post %d is no longer in the feed; run `murmur feed` again", position)
}
