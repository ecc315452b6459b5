package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"murmur/internal/publish"
	"murmur/internal/recorder"
)

func newRecordCommand(cctx *commandContext) *cobra.Command {
	var title string
	var description string
	var imagePath string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice note and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := requireSession(a)
				if err != nil {
					return err
				}

				if a.cfg.Recorder.WatchDevices {
					if err := a.devices.Start(ctx); err != nil {
						a.notices.Warn(ctx, "device tracking unavailable: %v", err)
					}
					defer a.devices.Stop()
				}

				out := cmd.OutOrStdout()
				reader := bufio.NewReader(cmd.InOrStdin())

				err = a.record.Start(ctx)
				switch {
				case errors.Is(err, recorder.ErrPermission):
					a.notices.Error(ctx, "microphone access denied on %s", a.cfg.Recorder.Device)
					if devices := a.devices.Devices(); len(devices) > 0 {
						fmt.Fprintf(out, "Known capture devices: %s\n", strings.Join(devices, ", "))
					}
					return err
				case err != nil:
					a.notices.Error(ctx, "recording failed to start: %v", err)
					return err
				}

				fmt.Fprintln(out, "Recording... press Enter to stop.")
				if _, err := reader.ReadString('\n'); err != nil {
					a.record.Stop()
					return fmt.Errorf("read input: %w", err)
				}

				clip, err := a.record.Stop()
				if err != nil {
					a.notices.Error(ctx, "recording failed: %v", err)
					return err
				}
				fmt.Fprintf(out, "Captured %d bytes.\n", len(clip.Data))

				if strings.TrimSpace(title) == "" {
					title, err = prompt(reader, out, "Title: ")
					if err != nil {
						return err
					}
				}
				if description == "" {
					description, err = prompt(reader, out, "Description (optional): ")
					if err != nil {
						return err
					}
				}
				if imagePath == "" {
					imagePath, err = prompt(reader, out, "Image path (optional): ")
					if err != nil {
						return err
					}
				}

				fmt.Fprintln(out, "Uploading...")
				err = a.publish.Publish(ctx, sess.AccessToken, publish.Draft{
					Title:       title,
					Description: description,
					ImagePath:   imagePath,
					Clip:        clip,
					UserID:      sess.User.ID,
				})
				switch {
				case errors.Is(err, publish.ErrValidation):
					a.notices.Error(ctx, "post rejected: %v", err)
					return err
				case err != nil:
					a.notices.Error(ctx, "publish failed: %v", err)
					return err
				}

				a.notices.Success(ctx, "published %q", strings.TrimSpace(title))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Post title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Post description")
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to an image to attach")
	return cmd
}

func prompt(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
