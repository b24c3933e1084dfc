// Package config provides application configuration management.
package config

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-screenrec/internal/recording"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
	"github.com/oszuidwest/zwfm-screenrec/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort            = 8080
	DefaultWebUsername        = "admin"
	DefaultWebPassword        = "screenrec"
	DefaultLogLevel           = "info"
	DefaultChunkIntervalMs    = int64(types.DefaultChunkInterval / time.Millisecond)
	DefaultLivenessIntervalMs = int64(types.DefaultLivenessInterval / time.Millisecond)
)

// validate is the validator for configuration struct tags.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" toml:"ffmpeg_path"`                                              // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" toml:"port" validate:"gte=1,lte=65535"`                                 // HTTP server port
	Username   string `json:"username" toml:"username" validate:"required,max=100"`                        // Login username, also the session user id
	Password   string `json:"password" toml:"password" validate:"required"`                                // Login password
	LogFile    string `json:"log_file,omitempty" toml:"log_file"`                                          // Rotated log file (empty = stderr only)
	LogLevel   string `json:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error"` // Minimum log level
	DataDir    string `json:"data_dir,omitempty" toml:"data_dir"`                                          // Base directory for state (default: next to config)
}

// RecordingConfig holds capture and recorder settings.
type RecordingConfig struct {
	ChunkIntervalMs int64  `json:"chunk_interval_ms" toml:"chunk_interval_ms" validate:"gte=1000,lte=3600000"`
	MIMEType        string `json:"mime_type" toml:"mime_type" validate:"oneof=video/webm video/mp4 video/x-matroska"`
	FrameRate       int    `json:"frame_rate" toml:"frame_rate" validate:"gte=1,lte=120"`
	HideCursor      bool   `json:"hide_cursor,omitempty" toml:"hide_cursor"`                             // Leave the pointer out of the capture
	Display         string `json:"display,omitempty" toml:"display"`                                     // Screen device (empty = platform default)
	SystemAudio     string `json:"system_audio,omitempty" toml:"system_audio"`                           // System audio device (empty = none)
	Microphone      string `json:"microphone,omitempty" toml:"microphone"`                               // Microphone device (empty = platform default)
	MixMicrophone   bool   `json:"mix_mic_with_screen_audio,omitempty" toml:"mix_mic_with_screen_audio"` // Add the microphone even when screen audio is captured
	ProbeDevices    bool   `json:"probe_devices,omitempty" toml:"probe_devices"`                         // Test devices when a session is initialized
}

// LivenessConfig holds control window monitoring settings.
type LivenessConfig struct {
	IntervalMs int64 `json:"interval_ms" toml:"interval_ms" validate:"gte=100,lte=60000"`
}

// StorageConfig holds where recordings and session state are kept.
type StorageConfig struct {
	DownloadsDir string             `json:"downloads_dir,omitempty" toml:"downloads_dir"` // Local copies (default: ~/Downloads)
	StatusDir    string             `json:"status_dir,omitempty" toml:"status_dir"`       // Shared status files (default: <data_dir>/status)
	S3           recording.S3Config `json:"s3" toml:"s3"`
}

// UploadConfig holds the HTTP upload endpoint, used when S3 is not configured.
type UploadConfig struct {
	HTTP recording.HTTPConfig `json:"http" toml:"http"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System    SystemConfig    `json:"system" toml:"system"`
	Recording RecordingConfig `json:"recording" toml:"recording"`
	Liveness  LivenessConfig  `json:"liveness" toml:"liveness"`
	Storage   StorageConfig   `json:"storage" toml:"storage"`
	Upload    UploadConfig    `json:"upload" toml:"upload"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
			LogLevel: DefaultLogLevel,
		},
		Recording: RecordingConfig{
			ChunkIntervalMs: DefaultChunkIntervalMs,
			MIMEType:        types.DefaultMIMEType,
			FrameRate:       types.DefaultFrameRate,
		},
		Liveness: LivenessConfig{IntervalMs: DefaultLivenessIntervalMs},
		filePath: filePath,
	}
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
// Files ending in .toml are decoded as TOML, anything else as JSON.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if c.isTOML() {
		if _, err := toml.Decode(string(data), c); err != nil {
			return util.WrapError("parse TOML config", err)
		}
	} else if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

func (c *Config) isTOML() bool {
	return strings.EqualFold(filepath.Ext(c.filePath), ".toml")
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return util.WrapError("validate config", err)
	}

	s3 := c.Storage.S3
	if (s3.Bucket != "" || s3.AccessKeyID != "" || s3.SecretAccessKey != "") && !s3.IsConfigured() {
		return errors.New("invalid storage.s3: bucket, access_key_id and secret_access_key must be set together")
	}
	up := c.Upload.HTTP
	if up.TokenURL != "" && (up.ClientID == "" || up.ClientSecret == "") {
		return errors.New("invalid upload.http: token_url requires client_id and client_secret")
	}
	if up.TokenURL != "" && up.URL == "" {
		return errors.New("invalid upload.http: token_url requires url")
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = DefaultLogLevel
	}
	// Recording defaults
	if c.Recording.ChunkIntervalMs == 0 {
		c.Recording.ChunkIntervalMs = DefaultChunkIntervalMs
	}
	if c.Recording.MIMEType == "" {
		c.Recording.MIMEType = types.DefaultMIMEType
	}
	if c.Recording.FrameRate == 0 {
		c.Recording.FrameRate = types.DefaultFrameRate
	}
	// Liveness defaults
	if c.Liveness.IntervalMs == 0 {
		c.Liveness.IntervalMs = DefaultLivenessIntervalMs
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var data []byte
	if c.isTOML() {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return util.WrapError("marshal TOML config", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return util.WrapError("marshal config", err)
		}
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetMicrophone updates the microphone device and saves the configuration.
func (c *Config) SetMicrophone(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recording.Microphone = device
	return c.saveLocked()
}

// SetMixMicrophone updates whether the microphone is mixed with screen audio
// and saves the configuration.
func (c *Config) SetMixMicrophone(mix bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recording.MixMicrophone = mix
	return c.saveLocked()
}

// SetFrameRate updates the capture frame rate and saves the configuration.
func (c *Config) SetFrameRate(fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recording.FrameRate = fps
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	FFmpegPath  string
	WebPort     int
	WebUser     string
	WebPassword string
	LogFile     string
	LogLevel    string
	DataDir     string

	// Recording
	ChunkInterval time.Duration
	MIMEType      string
	FrameRate     int
	Cursor        bool
	Display       string
	SystemAudio   string
	Microphone    string
	MixMicrophone bool
	ProbeDevices  bool

	// Liveness
	LivenessInterval time.Duration

	// Storage
	DownloadsDir string
	StatusDir    string
	S3           recording.S3Config
	HTTPUpload   recording.HTTPConfig
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dataDir := cmp.Or(c.System.DataDir, filepath.Join(filepath.Dir(c.filePath), "data"))
	httpCfg := c.Upload.HTTP
	httpCfg.Scopes = append([]string(nil), httpCfg.Scopes...)

	return Snapshot{
		// System
		FFmpegPath:  c.System.FFmpegPath,
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		LogFile:     c.System.LogFile,
		LogLevel:    cmp.Or(c.System.LogLevel, DefaultLogLevel),
		DataDir:     dataDir,

		// Recording (with defaults)
		ChunkInterval: time.Duration(cmp.Or(c.Recording.ChunkIntervalMs, DefaultChunkIntervalMs)) * time.Millisecond,
		MIMEType:      cmp.Or(c.Recording.MIMEType, types.DefaultMIMEType),
		FrameRate:     cmp.Or(c.Recording.FrameRate, types.DefaultFrameRate),
		Cursor:        !c.Recording.HideCursor,
		Display:       c.Recording.Display,
		SystemAudio:   c.Recording.SystemAudio,
		Microphone:    c.Recording.Microphone,
		MixMicrophone: c.Recording.MixMicrophone,
		ProbeDevices:  c.Recording.ProbeDevices,

		// Liveness
		LivenessInterval: time.Duration(cmp.Or(c.Liveness.IntervalMs, DefaultLivenessIntervalMs)) * time.Millisecond,

		// Storage
		DownloadsDir: cmp.Or(c.Storage.DownloadsDir, defaultDownloadsDir(dataDir)),
		StatusDir:    cmp.Or(c.Storage.StatusDir, filepath.Join(dataDir, "status")),
		S3:           c.Storage.S3,
		HTTPUpload:   httpCfg,
	}
}

// HasS3 reports whether S3 uploads are configured.
func (s *Snapshot) HasS3() bool {
	return s.S3.IsConfigured()
}

// HasHTTPUpload reports whether HTTP uploads are configured.
func (s *Snapshot) HasHTTPUpload() bool {
	return s.HTTPUpload.IsConfigured()
}

// defaultDownloadsDir returns ~/Downloads, or a directory under dataDir
// when the home directory is unknown.
func defaultDownloadsDir(dataDir string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(dataDir, "downloads")
	}
	return filepath.Join(home, "Downloads")
}
