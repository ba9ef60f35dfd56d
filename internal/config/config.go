package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: DELAYCAM_BUFFER_WINDOW=10s.
const EnvPrefix = "DELAYCAM"

// Config is the complete delaycam configuration.
type Config struct {
	InstanceID      string        `mapstructure:"instance_id"`
	Buffer          BufferConfig  `mapstructure:"buffer"`
	Capture         CaptureConfig `mapstructure:"capture"`
	MQTT            MQTTConfig    `mapstructure:"mqtt"`
	Server          ServerConfig  `mapstructure:"server"`
	Logging         LoggingConfig `mapstructure:"logging"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BufferConfig controls the delay window.
type BufferConfig struct {
	// Window is the replay delay
	Window time.Duration `mapstructure:"window"`
	// AssumedFPS sizes the buffer: capacity = ceil(window × fps)
	AssumedFPS float64 `mapstructure:"assumed_fps"`
	// CalibrateRate replaces AssumedFPS with the measured rate after a switch
	CalibrateRate bool `mapstructure:"calibrate_rate"`
	// CalibrateTolerance is the relative drift ignored by calibration
	CalibrateTolerance float64 `mapstructure:"calibrate_tolerance"`
	// Warmup is how long to measure after a switch (0 disables)
	Warmup time.Duration `mapstructure:"warmup"`
}

// CaptureConfig selects and shapes the camera.
type CaptureConfig struct {
	// Source is "gstreamer" or "mock"
	Source string `mapstructure:"source"`
	// Position is the camera started on boot
	Position string `mapstructure:"position"`
	// Devices maps positions to device strings (/dev/video0, avf:1, test:ball)
	Devices map[string]string `mapstructure:"devices"`
	Width   int               `mapstructure:"width"`
	Height  int               `mapstructure:"height"`
	FPS     float64           `mapstructure:"fps"`
	Format  string            `mapstructure:"format"`
}

// MQTTConfig contains control plane broker settings.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	QoS            int           `mapstructure:"qos"`
	Topics         MQTTTopics    `mapstructure:"topics"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// MQTTTopics contains topic names. Empty topics default to
// delaycam/<instance_id>/<name>.
type MQTTTopics struct {
	Control  string `mapstructure:"control"`
	Status   string `mapstructure:"status"`
	Snapshot string `mapstructure:"snapshot"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level"`
	// Format is json or text
	Format string `mapstructure:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{
		InstanceID: "delaycam",
		Buffer: BufferConfig{
			Window:             5 * time.Second,
			AssumedFPS:         30,
			CalibrateRate:      false,
			CalibrateTolerance: 0.05,
			Warmup:             3 * time.Second,
		},
		Capture: CaptureConfig{
			Source:   "gstreamer",
			Position: "back",
			Devices: map[string]string{
				"back":  "/dev/video0",
				"front": "/dev/video1",
			},
			Width:  1280,
			Height: 720,
			FPS:    30,
			Format: "RGB",
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			Broker:         "localhost:1883",
			QoS:            1,
			StatusInterval: 10 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ShutdownTimeout: 5 * time.Second,
	}
	cfg.applyDerived()
	return cfg
}

// applyDerived fills values computed from other fields.
func (c *Config) applyDerived() {
	if c.MQTT.Topics.Control == "" {
		c.MQTT.Topics.Control = fmt.Sprintf("delaycam/%s/control", c.InstanceID)
	}
	if c.MQTT.Topics.Status == "" {
		c.MQTT.Topics.Status = fmt.Sprintf("delaycam/%s/status", c.InstanceID)
	}
	if c.MQTT.Topics.Snapshot == "" {
		c.MQTT.Topics.Snapshot = fmt.Sprintf("delaycam/%s/snapshot", c.InstanceID)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "delaycam-" + c.InstanceID
	}
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("instance_id", d.InstanceID)

	v.SetDefault("buffer.window", d.Buffer.Window)
	v.SetDefault("buffer.assumed_fps", d.Buffer.AssumedFPS)
	v.SetDefault("buffer.calibrate_rate", d.Buffer.CalibrateRate)
	v.SetDefault("buffer.calibrate_tolerance", d.Buffer.CalibrateTolerance)
	v.SetDefault("buffer.warmup", d.Buffer.Warmup)

	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.position", d.Capture.Position)
	v.SetDefault("capture.devices", d.Capture.Devices)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.format", d.Capture.Format)

	// Topics and client_id derive from instance_id when left empty
	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.topics.control", "")
	v.SetDefault("mqtt.topics.status", "")
	v.SetDefault("mqtt.topics.snapshot", "")
	v.SetDefault("mqtt.status_interval", d.MQTT.StatusInterval)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// ConfigDir returns the directory searched for config.yaml.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "delaycam")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".delaycam"
	}
	return filepath.Join(home, ".config", "delaycam")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Loader reads configuration from defaults, an optional YAML file and
// DELAYCAM_* environment variables, in increasing precedence.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a loader. An empty path searches ConfigDir() and the
// working directory for config.yaml; a missing file is then not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlag lets a command-line flag override key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("config: nil flag for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the file (if any) and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		slog.Debug("config: no config file found, using defaults and environment")
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDerived()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Load read, or "".
func (l *Loader) ConfigFileUsed() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded configuration each time the config file
// changes. An invalid file is reported through err and cfg is nil. Load must
// have found a file first.
func (l *Loader) Watch(fn func(cfg *Config, err error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config: file changed", "file", e.Name, "op", e.Op.String())

		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()

		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// Document returns the configuration as nested maps with durations rendered
// as strings, ready for YAML encoding.
func (c *Config) Document() map[string]any {
	devices := make(map[string]any, len(c.Capture.Devices))
	for pos, dev := range c.Capture.Devices {
		devices[pos] = dev
	}

	return map[string]any{
		"instance_id": c.InstanceID,
		"buffer": map[string]any{
			"window":              c.Buffer.Window.String(),
			"assumed_fps":         c.Buffer.AssumedFPS,
			"calibrate_rate":      c.Buffer.CalibrateRate,
			"calibrate_tolerance": c.Buffer.CalibrateTolerance,
			"warmup":              c.Buffer.Warmup.String(),
		},
		"capture": map[string]any{
			"source":   c.Capture.Source,
			"position": c.Capture.Position,
			"devices":  devices,
			"width":    c.Capture.Width,
			"height":   c.Capture.Height,
			"fps":      c.Capture.FPS,
			"format":   c.Capture.Format,
		},
		"mqtt": map[string]any{
			"enabled":   c.MQTT.Enabled,
			"broker":    c.MQTT.Broker,
			"client_id": c.MQTT.ClientID,
			"qos":       c.MQTT.QoS,
			"topics": map[string]any{
				"control":  c.MQTT.Topics.Control,
				"status":   c.MQTT.Topics.Status,
				"snapshot": c.MQTT.Topics.Snapshot,
			},
			"status_interval": c.MQTT.StatusInterval.String(),
		},
		"server": map[string]any{
			"enabled": c.Server.Enabled,
			"addr":    c.Server.Addr,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
		"shutdown_timeout": c.ShutdownTimeout.String(),
	}
}

// YAML encodes the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(c.Document()); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	node.HeadComment = "delaycam configuration\nEnvironment variables override keys: DELAYCAM_BUFFER_WINDOW=10s"
	return yaml.Marshal(&node)
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}

	data, err := Default().YAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
