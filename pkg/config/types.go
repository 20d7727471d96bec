package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`
	Relays struct {
		// RegistryURL points at a JSON list of upstream relay URLs; Static
		// entries are merged in. An empty union at startup is fatal.
		RegistryURL  string   `yaml:"registry_url"`
		Static       []string `yaml:"static"`
		FetchTimeout Duration `yaml:"fetch_timeout"`
	} `yaml:"relays"`
	Ingest struct {
		// Resume restores the snapshot and continues from its watermarks;
		// when false the service cold-starts from empty indices.
		Resume        bool      `yaml:"resume"`
		PageLimit     int       `yaml:"page_limit"`
		QueueCapacity int       `yaml:"queue_capacity"`
		MaxPooledBuf  SizeBytes `yaml:"max_pooled_buffer_bytes"`
	} `yaml:"ingest"`
	Gateway struct {
		// GlobalSubscriptions allows authorless REQ filters to fan out over
		// every known pubkey. ContinueSubscriptions enables the EVENT echo.
		GlobalSubscriptions   bool `yaml:"global_subscriptions"`
		ContinueSubscriptions bool `yaml:"continue_subscriptions"`
		MaxLimit              int  `yaml:"max_limit"`
		RateLimit             struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"gateway"`
	Snapshot struct {
		InitialDelay Duration `yaml:"initial_delay"`
		Cron         string   `yaml:"cron"`
	} `yaml:"snapshot"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Addr returns host:port for the HTTP/WebSocket listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration and supports YAML parsing from strings like
// "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
