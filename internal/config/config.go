package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL         = "http://localhost:8002"
	DefaultRequestTimeout = 60 * time.Second
	DefaultChunkSize      = 4096
	DefaultDirName        = ".smargechat"
)

// Environment variables read by ApplyEnv
const (
	EnvAPIURL  = "SMARGE_API_URL"
	EnvLogDir  = "SMARGE_LOG_DIR"
	EnvDataDir = "SMARGE_DATA_DIR"
	EnvDebug   = "SMARGE_DEBUG"
)

// Config holds application configuration
type Config struct {
	APIURL         string        `toml:"api_url"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	ChunkSize      int           `toml:"chunk_size"` // read buffer for chat streams
	LogDir         string        `toml:"log_dir"`
	DataDir        string        `toml:"data_dir"` // credentials and local history
	Debug          bool          `toml:"debug"`
	Telemetry      bool          `toml:"telemetry"` // write traces and metrics under LogDir

	// Command-line only
	ConversationID string `toml:"-"` // open this conversation on start
	Offline        bool   `toml:"-"` // browse local history instead of the API
}

// DefaultDir returns ~/.smargechat, or ./.smargechat if home is unknown
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// Default returns the built-in configuration
func Default() Config {
	dir := DefaultDir()
	return Config{
		APIURL:         DefaultAPIURL,
		RequestTimeout: DefaultRequestTimeout,
		ChunkSize:      DefaultChunkSize,
		LogDir:         filepath.Join(dir, "logs"),
		DataDir:        dir,
		Telemetry:      true,
	}
}

// DefaultFile is the config file read when --config is not given
func DefaultFile() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// LoadFile overlays a TOML file onto cfg. A missing file is only an error
// when required is set.
func LoadFile(path string, required bool, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables, after loading a .env file from
// the working directory if one exists
func ApplyEnv(cfg *Config) error {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Validate checks the configuration before anything is started
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIURL, validation.Required, is.RequestURL),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1), validation.Max(1<<20)),
		validation.Field(&c.LogDir, validation.Required),
		validation.Field(&c.DataDir, validation.Required),
	)
}

// CredentialsPath is where the bearer token is persisted
func (c Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.yaml")
}

// HistoryPath is the local SQLite history database
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}
