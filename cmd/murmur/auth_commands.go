package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"murmur/internal/session"
)

func newSignupCommand(cctx *commandContext) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "signup <email> <username>",
		Short: "Create an account and profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				pw, err := resolvePassword(cmd, password)
				if err != nil {
					return err
				}
				err = a.session.SignUp(ctx, args[0], pw, args[1])
				switch {
				case errors.Is(err, session.ErrUsernameTaken):
					a.notices.Error(ctx, "username %q is already taken", session.NormalizeUsername(args[1]))
					return err
				case errors.Is(err, session.ErrProfileCreation):
					a.notices.Error(ctx, "account created but the profile could not be; try signing up again")
					return err
				case err != nil:
					a.notices.Error(ctx, "sign-up failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "welcome, %s", session.NormalizeUsername(args[1]))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLoginCommand(cctx *commandContext) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with email and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				pw, err := resolvePassword(cmd, password)
				if err != nil {
					return err
				}
				if err := a.session.SignIn(ctx, args[0], pw); err != nil {
					a.notices.Error(ctx, "sign-in failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "signed in as %s", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLogoutCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.currentSession() == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
					return nil
				}
				if err := a.session.SignOut(ctx); err != nil {
					a.notices.Error(ctx, "sign-out failed: %v", err)
					return err
				}
				a.notices.Success(ctx, "signed out")
				return nil
			})
		},
	}
}

func newWhoamiCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess := a.currentSession()
				if sess == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Email: %s\n", sess.User.Email)
				fmt.Fprintf(out, "User ID: %s\n", sess.User.ID)
				if p, err := a.profile.Fetch(ctx, sess.AccessToken, sess.User.ID); err == nil {
					fmt.Fprintf(out, "Username: %s\n", p.Username)
				}
				return nil
			})
		},
	}
}

func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
