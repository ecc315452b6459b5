package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"murmur/internal/backend/auth"
	"murmur/internal/backend/rest"
	"murmur/internal/backend/storage"
	"murmur/internal/config"
	"murmur/internal/feed"
	"murmur/internal/localstore"
	"murmur/internal/logging"
	"murmur/internal/notices"
	"murmur/internal/player"
	"murmur/internal/profile"
	"murmur/internal/publish"
	"murmur/internal/recorder"
	"murmur/internal/session"
	"murmur/internal/views"
)

type commandContext struct {
	configFlag *string
	plainFlag  *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, plainFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		plainFlag:  plainFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) viewOptions(cmd *cobra.Command) views.Options {
	plain := c.plainFlag != nil && *c.plainFlag
	if !plain {
		plain = !stdoutIsTerminal(cmd)
	}
	return views.Options{Plain: plain}
}

func stdoutIsTerminal(cmd *cobra.Command) bool {
	type fdWriter interface{ Fd() uintptr }
	if w, ok := cmd.OutOrStdout().(fdWriter); ok {
		return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
	}
	return false
}

// app bundles every wired component a command can need. Commands build one
// per invocation and close it when done.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	local   *localstore.Store
	session *session.Store
	feed    *feed.Service
	publish *publish.Pipeline
	profile *profile.Service
	player  *player.Player
	record  *recorder.Recorder
	devices *recorder.DeviceMonitor
	notices notices.Service
}

// withApp builds the full component graph, restores the session, runs fn,
// and tears everything down.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	// One correlation id per invocation ties the command's records together.
	logger = logger.With(logging.Args(
		logging.String(logging.FieldCorrelationID, uuid.NewString()))...)

	local, err := localstore.Open(ctx, cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	defer local.Close()

	authClient, err := auth.New(auth.Config{
		ProjectURL:     cfg.Backend.ProjectURL,
		AnonKey:        cfg.Backend.AnonKey,
		TimeoutSeconds: cfg.Backend.RequestTimeout,
	})
	if err != nil {
		return err
	}
	restClient, err := rest.New(rest.Config{
		ProjectURL:     cfg.Backend.ProjectURL,
		AnonKey:        cfg.Backend.AnonKey,
		TimeoutSeconds: cfg.Backend.RequestTimeout,
	})
	if err != nil {
		return err
	}
	storageClient, err := storage.New(storage.Config{
		ProjectURL:     cfg.Backend.ProjectURL,
		AnonKey:        cfg.Backend.AnonKey,
		TimeoutSeconds: cfg.Backend.RequestTimeout,
	})
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.Options{
		Provider: authClient,
		Profiles: session.RestProfiles{Client: restClient},
		Local:    local,
		Logger:   logger,
	})
	sessions.Start(ctx)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		local:   local,
		session: sessions,
		feed: feed.NewService(feed.Options{
			Rest:    restClient,
			Storage: storageClient,
			Buckets: feed.Buckets{
				Audio:  cfg.Buckets.VoiceRecordings,
				Images: cfg.Buckets.PostImages,
			},
			Logger: logger,
		}),
		publish: publish.NewPipeline(publish.Options{
			Rest:    restClient,
			Storage: storageClient,
			Buckets: publish.Buckets{
				Images: cfg.Buckets.PostImages,
				Audio:  cfg.Buckets.VoiceRecordings,
			},
			Logger: logger,
		}),
		profile: profile.NewService(profile.Options{
			Rest:         restClient,
			Storage:      storageClient,
			Identity:     authClient,
			AvatarBucket: cfg.Buckets.Avatars,
			Logger:       logger,
		}),
		player: player.New(player.Options{
			Runner:   player.ExecRunner{Binary: cfg.Player.Binary, Args: cfg.Player.Args},
			Resolver: storageClient,
			Bucket:   cfg.Buckets.VoiceRecordings,
			Logger:   logger,
		}),
		record: recorder.New(recorder.Options{
			Runner: recorder.ExecCaptureRunner{
				Binary:     cfg.Recorder.CaptureBinary,
				MaxSeconds: cfg.Recorder.MaxSeconds,
			},
			Device: cfg.Recorder.Device,
			Logger: logger,
		}),
		devices: recorder.NewDeviceMonitor(logger),
		notices: notices.New(cmd.OutOrStdout(), cfg),
	}

	return fn(ctx, a)
}

// currentSession returns the restored session or nil when signed out.
func (a *app) currentSession() *auth.Session {
	return a.session.Current()
}
