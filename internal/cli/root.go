// Package cli wires the migration jobs into the command tree.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/config"
	"github.com/kimyj950113/video-encoder/internal/drive"
	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/job"
	"github.com/kimyj950113/video-encoder/internal/transcode"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "video-encoder",
	Short: "Dropbox to Google Drive lecture migration toolkit",
	Long: `video-encoder migrates lecture archives from Dropbox into Google Drive,
re-encoding oversize deliverables with ffmpeg along the way.

Credentials come from the environment (or a .env file):
  DBX_APP_KEY / DBX_APP_SECRET / DROPBOX_REFRESH_TOKEN   Dropbox API app
  GDRIVE_ROOT_FOLDER_ID                                  Drive destination folder

Everything else lives in the YAML config file (see --config).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. Every run gets a short ID so log lines
// from overlapping runs (produce in one shell, upload in another) can be told
// apart.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
	return slog.New(handler).With("run", uuid.New().String()[:8])
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// needs lists which collaborators a command uses, so upload does not demand
// Dropbox credentials and leftovers does not spawn an encoder.
type needs struct {
	dropbox bool
	drive   bool
	encoder bool
}

// newEnv loads configuration, installs the logger and builds the job
// environment with exactly the clients the command asked for.
func newEnv(ctx context.Context, need needs) (*job.Env, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	work, err := workdir.New(cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	env := &job.Env{
		Cfg:    cfg,
		Work:   work,
		Logger: logger,
	}

	if need.dropbox {
		if err := cfg.RequireDropbox(); err != nil {
			return nil, err
		}
		dbx, err := dropbox.New(ctx, dropbox.Options{
			AppKey:       cfg.DropboxAppKey,
			AppSecret:    cfg.DropboxAppSecret,
			RefreshToken: cfg.DropboxRefreshToken,
			HTTPTimeout:  cfg.HTTPTimeout.Std(),
			Retry:        cfg.RetryPolicy(),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		env.Dropbox = dbx
	}

	if need.drive {
		if err := cfg.RequireDrive(); err != nil {
			return nil, err
		}
		drv, err := drive.New(ctx, drive.Options{
			CredentialsPath: cfg.DriveCredentialsPath,
			TokenPath:       cfg.DriveTokenPath,
			RootID:          cfg.DriveRootID,
			QPS:             cfg.DriveQPS,
			ChunkSize:       cfg.ChunkSize(),
			HTTPTimeout:     cfg.HTTPTimeout.Std(),
			Retry:           cfg.RetryPolicy(),
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		env.Drive = drv
	}

	if need.encoder {
		env.Encoder = &transcode.Encoder{
			FfmpegPath:  cfg.FfmpegPath,
			FfprobePath: cfg.FfprobePath,
			Logger:      logger,
		}
	}

	return env, nil
}
