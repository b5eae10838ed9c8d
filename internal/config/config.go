package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"gopkg.in/yaml.v3"
)

// Config represents the complete frame service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Backend  BackendConfig  `yaml:"backend" json:"backend"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Progress ProgressConfig `yaml:"progress" json:"progress"`
	Display  DisplayConfig  `yaml:"display" json:"display"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"FRAMECACHE_HOST" default:"127.0.0.1"`
	Port           int           `yaml:"port" json:"port" env:"FRAMECACHE_PORT" default:"8090"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"FRAMECACHE_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"FRAMECACHE_WRITE_TIMEOUT" default:"5m"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"FRAMECACHE_MAX_HEADER_BYTES" default:"1048576"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"FRAMECACHE_TRUSTED_PROXIES"`
}

// BackendConfig selects and configures the decode backend
type BackendConfig struct {
	Name        string `yaml:"name" json:"name" env:"FRAMECACHE_BACKEND" default:"ffmpeg"`
	FFmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FRAMECACHE_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath string `yaml:"ffprobe_path" json:"ffprobe_path" env:"FRAMECACHE_FFPROBE_PATH" default:"ffprobe"`
	CodecHint   string `yaml:"codec_hint" json:"codec_hint" env:"FRAMECACHE_CODEC_HINT"`
}

// CacheConfig controls the persisted seek index
type CacheConfig struct {
	UseCached   bool   `yaml:"use_cached" json:"use_cached" env:"FRAMECACHE_USE_CACHED" default:"true"`
	Location    string `yaml:"location" json:"location" env:"FRAMECACHE_CACHE_LOCATION"` // empty: next to the source
	WatchSource bool   `yaml:"watch_source" json:"watch_source" env:"FRAMECACHE_WATCH_SOURCE" default:"false"`
}

// ProgressConfig controls progress sampling
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval" env:"FRAMECACHE_PROGRESS_INTERVAL" default:"500ms"`
}

// DisplayConfig holds decode and display defaults
type DisplayConfig struct {
	SeekMode        string        `yaml:"seek_mode" json:"seek_mode" env:"FRAMECACHE_SEEK_MODE" default:"normal"`
	Width           int           `yaml:"width" json:"width" env:"FRAMECACHE_OUTPUT_WIDTH"`
	Height          int           `yaml:"height" json:"height" env:"FRAMECACHE_OUTPUT_HEIGHT"`
	Resizer         string        `yaml:"resizer" json:"resizer" env:"FRAMECACHE_RESIZER" default:"bicubic"`
	PixelFormat     string        `yaml:"pixel_format" json:"pixel_format" env:"FRAMECACHE_PIXEL_FORMAT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"FRAMECACHE_SURFACE_WRITE_TIMEOUT" default:"5s"`
	SnapshotQuality int           `yaml:"snapshot_quality" json:"snapshot_quality" env:"FRAMECACHE_SNAPSHOT_QUALITY" default:"80"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"FRAMECACHE_LOG_LEVEL" default:"info"`
	Format       string `yaml:"format" json:"format" env:"FRAMECACHE_LOG_FORMAT" default:"text"`
	Output       string `yaml:"output" json:"output" env:"FRAMECACHE_LOG_OUTPUT" default:"stderr"`
	FilePath     string `yaml:"file_path" json:"file_path" env:"FRAMECACHE_LOG_FILE"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"FRAMECACHE_LOG_COLORS" default:"false"`
}

// ConfigManager manages configuration loading, validation, and hot reloading
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns a configuration built from the default tags
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := applyDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		// tags are compiled in; a bad one is a programming error
		panic(fmt.Sprintf("invalid default tag: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from defaults, then the file (when it
// exists), then the environment.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}
	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the path of the last loaded file
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	return saveToFile(cm.configPath, cm.config)
}

// Validate checks the configuration for values the service cannot use
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Backend.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if c.Progress.Interval < 0 {
		return fmt.Errorf("invalid progress interval: %s", c.Progress.Interval)
	}
	if c.Display.Width < 0 || c.Display.Height < 0 {
		return fmt.Errorf("invalid output size: %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.SnapshotQuality < 1 || c.Display.SnapshotQuality > 100 {
		return fmt.Errorf("invalid snapshot quality: %d", c.Display.SnapshotQuality)
	}
	if _, err := types.ParseSeekMode(c.Display.SeekMode); err != nil {
		return err
	}
	if _, err := types.ParseResizer(c.Display.Resizer); err != nil {
		return err
	}
	if _, err := types.ParsePixelFormat(c.Display.PixelFormat); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("log output file requires file_path")
	}
	return nil
}

// OutputFormat returns the configured output format request
func (c *Config) OutputFormat() types.OutputFormatRequest {
	resizer, _ := types.ParseResizer(c.Display.Resizer)
	pf, _ := types.ParsePixelFormat(c.Display.PixelFormat)
	return types.OutputFormatRequest{
		Width:       c.Display.Width,
		Height:      c.Display.Height,
		Resizer:     resizer,
		PixelFormat: pf,
	}
}

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		if def := fieldType.Tag.Get("default"); def != "" {
			if err := setFieldValue(field, def); err != nil {
				return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
			}
		}
	}
	return nil
}

// loadStructFromEnv overrides fields whose env variable is set. Unset
// variables leave file and default values alone.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
