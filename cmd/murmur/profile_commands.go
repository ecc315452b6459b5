package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"murmur/internal/profile"
	"murmur/internal/session"
	"murmur/internal/views"
)

func newProfileCommand(cctx *commandContext) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile and posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}
				p, err := a.profile.Fetch(ctx, sess.AccessToken, sess.User.ID)
				if err != nil {
					a.notices.Error(ctx, "could not load profile: %v", err)
					return err
				}
				posts, err := a.feed.FetchUserPosts(ctx, sess.AccessToken, sess.User.ID)
				if err != nil {
					a.notices.Error(ctx, "could not load your posts: %v", err)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), views.Profile(p, posts, cctx.viewOptions(cmd)))
				return nil
			})
		},
	}

	profileCmd.AddCommand(newProfileEditCommand(cctx))
	profileCmd.AddCommand(newProfilePasswdCommand(cctx))
	return profileCmd
}

func newProfileEditCommand(cctx *commandContext) *cobra.Command {
	var username string
	var bio string
	var website string
	var avatarPath string

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Update your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}

				changes := profile.Changes{
					Username:   username,
					AvatarPath: avatarPath,
				}
				if cmd.Flags().Changed("bio") {
					changes.Bio = &bio
				}
				if cmd.Flags().Changed("website") {
					changes.Website = &website
				}

				err = a.profile.Update(ctx, sess.AccessToken, sess.User.ID, changes)
				switch {
				case errors.Is(err, session.ErrUsernameTaken):
					a.notices.Error(ctx, "username %q is already taken", session.NormalizeUsername(username))
					return err
				case errors.Is(err, profile.ErrValidation):
					a.notices.Error(ctx, "profile change rejected: %v", err)
					return err
				case err != nil:
					a.notices.Error(ctx, "profile update failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "profile updated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "New username")
	cmd.Flags().StringVar(&bio, "bio", "", "Profile bio")
	cmd.Flags().StringVar(&website, "website", "", "Profile website URL")
	cmd.Flags().StringVar(&avatarPath, "avatar", "", "Path to a new avatar image")
	return cmd
}

func newProfilePasswdCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}

				reader := bufio.NewReader(cmd.InOrStdin())
				out := cmd.OutOrStdout()
				first, err := prompt(reader, out, "New password: ")
				if err != nil {
					return err
				}
				second, err := prompt(reader, out, "Repeat password: ")
				if err != nil {
					return err
				}
				if first != second {
					return errors.New("passwords do not match")
				}

				err = a.profile.ChangePassword(ctx, sess.AccessToken, first)
				switch {
				case errors.Is(err, profile.ErrValidation):
					a.notices.Error(ctx, "password rejected: %v", err)
					return err
				case err != nil:
					a.notices.Error(ctx, "password change failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "password changed")
				return nil
			})
		},
	}
}
