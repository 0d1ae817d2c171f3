// Package config loads the alarm daemon settings from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/alarms/adapters/hikvision"
	"github.com/technosupport/ts-alarms/internal/alarms/adapters/onvif"
	"github.com/technosupport/ts-alarms/internal/crypto"
	"github.com/technosupport/ts-alarms/internal/journal"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/platform/paths"
)

// Config is the complete daemon configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	HTTP     HTTPConfig    `yaml:"http"`
	GRPC     GRPCConfig    `yaml:"grpc"`
	Feed     FeedConfig    `yaml:"feed"`
	NATS     NATSConfig    `yaml:"nats"`
	Redis    RedisConfig   `yaml:"redis"`
	Journal  JournalConfig `yaml:"journal"`
	Defaults Defaults      `yaml:"defaults"`
	Cameras  []Camera      `yaml:"cameras"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	// Addr is empty to disable the gRPC feed.
	Addr string `yaml:"addr"`
}

type FeedConfig struct {
	// SigningKey for viewer tokens. Empty leaves the API and feed open.
	SigningKey string `yaml:"signing_key"`
	ReplaySize int    `yaml:"replay_size"`
	Buffer     int    `yaml:"buffer"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxRetries    int    `yaml:"max_retries"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Channel  string        `yaml:"channel"`
	StateTTL time.Duration `yaml:"state_ttl"`
}

type JournalConfig struct {
	DatabaseURL    string        `yaml:"database_url"`
	SpoolMaxBytes  int64         `yaml:"spool_max_bytes"`
	ReplayInterval time.Duration `yaml:"replay_interval"`

	// SpoolDir defaults to <data root>/spool; relative paths stay inside the data root.
	SpoolDir string `yaml:"spool_dir"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
	// Retention purges older rows; zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// Defaults apply to every camera that does not set its own value.
type Defaults struct {
	CancelInterval time.Duration `yaml:"cancel_interval"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
}

// Camera is one device entry.
type Camera struct {
	ID             string        `yaml:"id"`
	Vendor         string        `yaml:"vendor"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Scheme         string        `yaml:"scheme"`
	Username       string        `yaml:"username"`
	CancelInterval time.Duration `yaml:"cancel_interval"`
	Sources        []Source      `yaml:"sources"`

	// Password may be sealed with `alarmd seal` (enc:v1:...).
	Password string `yaml:"password"`
}

// Source is one ingestion protocol of a camera.
type Source struct {
	Kind              string        `yaml:"kind"`
	Variant           string        `yaml:"variant"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	TerminationTime   time.Duration `yaml:"termination_time"`
	MessageLimit      int           `yaml:"message_limit"`
}

const (
	DefaultHTTPAddr       = ":8090"
	DefaultSubjectPrefix  = "alarms"
	DefaultNATSRetries    = 3
	DefaultStateTTL       = 24 * time.Hour
	DefaultSpoolMaxBytes  = 64 << 20
	DefaultReplayInterval = 30 * time.Second
)

var (
	ErrNoCameras       = errors.New("no cameras configured")
	ErrCameraID        = errors.New("camera id is required")
	ErrDuplicateCamera = errors.New("duplicate camera id")
	ErrCameraHost      = errors.New("camera host is required")
	ErrNoSources       = errors.New("camera has no sources")
	ErrSourceKind      = errors.New("unknown source kind")
	ErrInvalidDuration = errors.New("duration must not be negative")
	ErrLogLevel        = errors.New("unknown log level")
)

// Load reads path, applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	path = paths.ResolveConfigPath(path)

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(contents)
}

// Parse decodes YAML contents; see Load.
func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// openSecrets decrypts sealed camera passwords. The keyring is only required
// when at least one password is sealed.
func (c *Config) openSecrets() error {
	var kr *crypto.Keyring
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if !crypto.IsSealed(cam.Password) {
			continue
		}
		if kr == nil {
			kr = crypto.NewKeyring()
			if err := kr.LoadFromEnv(); err != nil {
				return fmt.Errorf("camera %s: sealed password: %w", cam.ID, err)
			}
		}
		plain, err := kr.Open(cam.Password, cam.ID)
		if err != nil {
			return fmt.Errorf("camera %s: sealed password: %w", cam.ID, err)
		}
		cam.Password = plain
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Journal.DatabaseURL = v
	}
	if v := getenv("FEED_SIGNING_KEY"); v != "" {
		c.Feed.SigningKey = v
	}
	if v := getenv("ALARMD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.NATS.MaxRetries <= 0 {
		c.NATS.MaxRetries = DefaultNATSRetries
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = alarms.DefaultRedisChannel
	}
	if c.Redis.StateTTL == 0 {
		c.Redis.StateTTL = DefaultStateTTL
	}
	if dir, err := paths.ResolveSpoolDir(c.Journal.SpoolDir); err == nil {
		c.Journal.SpoolDir = dir
	}
	if c.Journal.SpoolMaxBytes <= 0 {
		c.Journal.SpoolMaxBytes = DefaultSpoolMaxBytes
	}
	if c.Journal.ReplayInterval <= 0 {
		c.Journal.ReplayInterval = DefaultReplayInterval
	}
	if c.Defaults.CancelInterval == 0 {
		c.Defaults.CancelInterval = alarms.DefaultCancelInterval
	}
	if c.Defaults.RestartDelay == 0 {
		c.Defaults.RestartDelay = alarms.RestartDelay
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Scheme == "" {
			cam.Scheme = "http"
		}
		if cam.CancelInterval == 0 {
			cam.CancelInterval = c.Defaults.CancelInterval
		}
	}
}

// Validate checks required fields. Errors wrap the package sentinels.
func Validate(c *Config) error {
	if _, ok := logger.ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrLogLevel, c.LogLevel)
	}
	if c.Defaults.CancelInterval < 0 || c.Defaults.RestartDelay < 0 || c.Redis.StateTTL < 0 {
		return ErrInvalidDuration
	}
	if _, err := paths.ResolveSpoolDir(c.Journal.SpoolDir); err != nil {
		return fmt.Errorf("journal spool_dir: %w", err)
	}
	if err := journal.CheckRetention(c.Journal.Retention); err != nil {
		return err
	}
	if len(c.Cameras) == 0 {
		return ErrNoCameras
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: %w", i, ErrCameraID)
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera %s: %w", cam.ID, ErrDuplicateCamera)
		}
		seen[cam.ID] = true
		if cam.Host == "" {
			return fmt.Errorf("camera %s: %w", cam.ID, ErrCameraHost)
		}
		if cam.CancelInterval < 0 {
			return fmt.Errorf("camera %s: cancel_interval: %w", cam.ID, ErrInvalidDuration)
		}
		if len(cam.Sources) == 0 {
			return fmt.Errorf("camera %s: %w", cam.ID, ErrNoSources)
		}
		for _, s := range cam.Sources {
			if err := validateSource(s); err != nil {
				return fmt.Errorf("camera %s: %w", cam.ID, err)
			}
		}
	}
	return nil
}

func validateSource(s Source) error {
	if s.InactivityTimeout < 0 || s.TerminationTime < 0 {
		return ErrInvalidDuration
	}
	switch adapters.NormalizeKind(s.Kind) {
	case "hikvision":
		if _, err := hikvision.LookupVariant(s.Variant); err != nil {
			return err
		}
	case "onvif":
		if s.TerminationTime != 0 && s.TerminationTime < onvif.MinTerminationTime {
			return fmt.Errorf("termination_time %s below %s", s.TerminationTime, onvif.MinTerminationTime)
		}
		if s.MessageLimit < 0 || s.MessageLimit > adapters.MaxPullMessages {
			return fmt.Errorf("message_limit %d outside 0..%d", s.MessageLimit, adapters.MaxPullMessages)
		}
	default:
		return fmt.Errorf("%w: %q (known: %s)", ErrSourceKind, s.Kind, strings.Join(adapters.Registered(), ", "))
	}
	return nil
}

// CameraConfigs converts the camera entries for the manager.
func (c *Config) CameraConfigs() []alarms.CameraConfig {
	out := make([]alarms.CameraConfig, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		cc := alarms.CameraConfig{
			ID:     cam.ID,
			Vendor: cam.Vendor,
			Target: adapters.Target{
				CameraID: cam.ID,
				Host:     cam.Host,
				Port:     cam.Port,
				Scheme:   cam.Scheme,
				Vendor:   cam.Vendor,
			},
			Credential:     adapters.Credential{Username: cam.Username, Password: cam.Password},
			CancelInterval: cam.CancelInterval,
			RestartDelay:   c.Defaults.RestartDelay,
		}
		for _, s := range cam.Sources {
			cc.Sources = append(cc.Sources, alarms.SourceConfig{
				Kind: s.Kind,
				Options: adapters.Options{
					Variant:           s.Variant,
					InactivityTimeout: s.InactivityTimeout,
					TerminationTime:   s.TerminationTime,
					MessageLimit:      s.MessageLimit,
				},
			})
		}
		out = append(out, cc)
	}
	return out
}
