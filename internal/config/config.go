package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Wyydra/wacall/internal/core/domain"
)

const (
	DefaultListen          = ":8080"
	DefaultPlatformTimeout = 30 * time.Second
	DefaultReconnectDelay  = 3 * time.Second
	DefaultBackendTimeout  = 20 * time.Second
	DefaultGatherTimeout   = 5 * time.Second
	DefaultGracePeriod     = 2 * time.Second
	DefaultTickInterval    = time.Second
)

var ErrNoConfig = errors.New("platform url and api key are required unless platform.sandbox is set")

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type PlatformConfig struct {
	URL            string        `yaml:"url"`     // env WACALL_PLATFORM_URL
	APIKey         string        `yaml:"api_key"` // env WACALL_API_KEY
	Timeout        time.Duration `yaml:"timeout"`
	RealtimeURL    string        `yaml:"realtime_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Sandbox        bool          `yaml:"sandbox"`
}

type CallConfig struct {
	BackendTimeout   time.Duration `yaml:"backend_timeout"`
	ICEGatherTimeout time.Duration `yaml:"ice_gather_timeout"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

type MediaConfig struct {
	Source       string             `yaml:"source"` // device or file
	File         string             `yaml:"file"`
	RecordingDir string             `yaml:"recording_dir"`
	ICEServers   []domain.ICEServer `yaml:"ice_servers"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Platform PlatformConfig `yaml:"platform"`
	Call     CallConfig     `yaml:"call"`
	Media    MediaConfig    `yaml:"media"`
}

// NewConfig parses confString. Environment values override the file.
func NewConfig(confString string) (*Config, error) {
	conf := &Config{}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %w", err)
		}
	}
	if v := os.Getenv("WACALL_API_KEY"); v != "" {
		conf.Platform.APIKey = v
	}
	if v := os.Getenv("WACALL_PLATFORM_URL"); v != "" {
		conf.Platform.URL = v
	}
	return conf, nil
}

func (c *Config) Init() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}

	p := &c.Platform
	if p.Timeout <= 0 {
		p.Timeout = DefaultPlatformTimeout
	}
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = DefaultReconnectDelay
	}
	if !p.Sandbox && (p.URL == "" || p.APIKey == "") {
		return ErrNoConfig
	}
	if p.URL != "" {
		p.URL = NormalizeURL(p.URL)
		if p.RealtimeURL == "" {
			rt, err := realtimeURL(p.URL)
			if err != nil {
				return err
			}
			p.RealtimeURL = rt
		}
	}

	cc := &c.Call
	if cc.BackendTimeout <= 0 {
		cc.BackendTimeout = DefaultBackendTimeout
	}
	if cc.ICEGatherTimeout <= 0 {
		cc.ICEGatherTimeout = DefaultGatherTimeout
	}
	if cc.GracePeriod <= 0 {
		cc.GracePeriod = DefaultGracePeriod
	}
	if cc.TickInterval <= 0 {
		cc.TickInterval = DefaultTickInterval
	}

	switch c.Media.Source {
	case "":
		c.Media.Source = "device"
		if c.Media.File != "" {
			c.Media.Source = "file"
		}
	case "device":
	case "file":
		if c.Media.File == "" {
			return fmt.Errorf("media.source file requires media.file")
		}
	default:
		return fmt.Errorf("unknown media.source %q", c.Media.Source)
	}
	return nil
}

// NormalizeURL trims trailing slashes and assumes https when no scheme is given.
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u != "" && !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}

func realtimeURL(platformURL string) (string, error) {
	u, err := url.Parse(platformURL)
	if err != nil {
		return "", fmt.Errorf("invalid platform url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/realtime"
	return u.String(), nil
}
