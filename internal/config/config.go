// Package config builds the immutable configuration shared by every job.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kimyj950113/video-encoder/internal/retry"
)

// Duration decodes yaml values like "30s" or plain integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is constructed once at startup and passed by reference into each
// collaborator. No package reads credentials or root IDs ambiently.
type Config struct {
	// Dropbox OAuth app credentials and long-lived refresh token.
	DropboxAppKey       string `yaml:"-"`
	DropboxAppSecret    string `yaml:"-"`
	DropboxRefreshToken string `yaml:"-"`

	// DropboxRoot is the folder scanned recursively, e.g. "/디자인".
	DropboxRoot string `yaml:"dropbox_root"`

	// Google Drive OAuth client and cached user token.
	DriveCredentialsPath string `yaml:"drive_credentials"`
	DriveTokenPath       string `yaml:"drive_token"`
	// DriveRootID is the Drive folder everything is mirrored under.
	DriveRootID string `yaml:"drive_root_id"`

	// WorkDir holds the raw/, encoded/ and fix/ buckets.
	WorkDir string `yaml:"work_dir"`

	// Encoding targets.
	TargetSizeMB int     `yaml:"target_size_mb"`
	SafetyMargin float64 `yaml:"safety_margin"`
	FfmpegPath   string  `yaml:"ffmpeg_path"`
	FfprobePath  string  `yaml:"ffprobe_path"`

	// Retry policy for remote calls.
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	BackoffCap  Duration `yaml:"backoff_cap"`

	// Transfer tuning.
	ChunkSizeMB   int      `yaml:"chunk_size_mb"`
	UploadWorkers int      `yaml:"upload_workers"`
	PollInterval  Duration `yaml:"poll_interval"`
	DriveQPS      float64  `yaml:"drive_qps"`
	HTTPTimeout   Duration `yaml:"http_timeout"`

	// Path conventions carried over from the source archive. FinalCutDir is
	// the folder name marking deliverables; ClosedMarker flags lecture paths
	// that were discontinued and must not be migrated.
	FinalCutDir  string   `yaml:"final_cut_dir"`
	ClosedMarker string   `yaml:"closed_marker"`
	VideoExts    []string `yaml:"video_exts"`
}

// Default returns configuration with safe defaults.
func Default() *Config {
	return &Config{
		DropboxRoot:          "/디자인",
		DriveCredentialsPath: "credentials.json",
		DriveTokenPath:       "token.json",
		WorkDir:              "./tmp_work",
		TargetSizeMB:         512,
		SafetyMargin:         0.95,
		FfmpegPath:           "ffmpeg",
		FfprobePath:          "ffprobe",
		MaxAttempts:          3,
		BaseDelay:            Duration(5 * time.Second),
		BackoffCap:           Duration(60 * time.Second),
		ChunkSizeMB:          16,
		UploadWorkers:        2,
		PollInterval:         Duration(60 * time.Second),
		DriveQPS:             8,
		HTTPTimeout:          Duration(60 * time.Second),
		FinalCutDir:          "최종편집영상",
		ClosedMarker:         "(폐강",
		VideoExts:            []string{".mp4", ".mov", ".mkv", ".avi", ".wmv"},
	}
}

// Load builds the configuration. Priority: env vars > yaml file > defaults.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Optional; missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	c.DropboxAppKey = getenvDefault("DBX_APP_KEY", c.DropboxAppKey)
	c.DropboxAppSecret = getenvDefault("DBX_APP_SECRET", c.DropboxAppSecret)
	c.DropboxRefreshToken = getenvDefault("DROPBOX_REFRESH_TOKEN", c.DropboxRefreshToken)

	c.DropboxRoot = getenvDefault("DROPBOX_ROOT", c.DropboxRoot)
	c.DriveRootID = getenvDefault("GDRIVE_ROOT_FOLDER_ID", c.DriveRootID)
	c.WorkDir = getenvDefault("LOCAL_WORKDIR", c.WorkDir)

	if v := os.Getenv("TARGET_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TargetSizeMB = n
		}
	}
	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv("RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BaseDelay = Duration(d)
		}
	}
	if v := os.Getenv("UPLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UploadWorkers = n
		}
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.TargetSizeMB <= 0 {
		return fmt.Errorf("target_size_mb must be positive")
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("safety_margin must be in (0, 1]")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if c.BackoffCap < c.BaseDelay {
		return fmt.Errorf("backoff_cap must be >= base_delay")
	}
	if c.ChunkSizeMB <= 0 {
		return fmt.Errorf("chunk_size_mb must be positive")
	}
	if c.UploadWorkers < 1 {
		return fmt.Errorf("upload_workers must be >= 1")
	}
	if c.FinalCutDir == "" {
		return fmt.Errorf("final_cut_dir must not be empty")
	}
	return nil
}

// RequireDropbox errors unless the Dropbox credentials are present.
func (c *Config) RequireDropbox() error {
	if c.DropboxAppKey == "" || c.DropboxAppSecret == "" || c.DropboxRefreshToken == "" {
		return fmt.Errorf("DBX_APP_KEY / DBX_APP_SECRET / DROPBOX_REFRESH_TOKEN must be set")
	}
	return nil
}

// RequireDrive errors unless a Drive root folder ID is configured.
func (c *Config) RequireDrive() error {
	if c.DriveRootID == "" {
		return fmt.Errorf("drive_root_id (or GDRIVE_ROOT_FOLDER_ID) must be set")
	}
	return nil
}

// RetryPolicy returns the retry policy for remote calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Std(),
		Cap:         c.BackoffCap.Std(),
	}
}

// ChunkSize returns the transfer chunk size in bytes.
func (c *Config) ChunkSize() int {
	return c.ChunkSizeMB * 1024 * 1024
}

// TargetSizeBytes returns the encode size threshold in bytes.
func (c *Config) TargetSizeBytes() int64 {
	return int64(c.TargetSizeMB) * 1024 * 1024
}
