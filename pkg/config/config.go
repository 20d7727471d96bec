package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set. Flags
// win over config and env when set.
func ParseCommandFlags() (addr, dataDir, cfgPath string, resume, globalSubs, continueSubs bool, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	dataPtr := flag.String("data", "./.nostrgraph", "Data directory (snapshots + archive)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	resumePtr := flag.Bool("resume", true, "Resume from snapshot and continue from watermarks")
	globalPtr := flag.Bool("global-subs", false, "Allow authorless subscriptions over every known pubkey")
	contPtr := flag.Bool("continue-subs", false, "Echo incoming EVENT messages to matching subscriptions")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dataPtr, *cfgPtr, *resumePtr, *globalPtr, *contPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		vl := strings.ToLower(strings.TrimSpace(v))
		return vl == "1" || vl == "true" || vl == "yes"
	}

	if v := os.Getenv("NOSTRGRAPH_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("NOSTRGRAPH_DATA_DIR"); v != "" {
		envUsed = true
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("NOSTRGRAPH_RELAY_REGISTRY"); v != "" {
		envUsed = true
		cfg.Relays.RegistryURL = v
	}
	if v := os.Getenv("NOSTRGRAPH_RELAYS"); v != "" {
		envUsed = true
		cfg.Relays.Static = parseList(v)
	}
	if v := os.Getenv("NOSTRGRAPH_RESUME"); v != "" {
		envUsed = true
		cfg.Ingest.Resume = parseBool(v)
	}
	if v := os.Getenv("NOSTRGRAPH_GLOBAL_SUBS"); v != "" {
		envUsed = true
		cfg.Gateway.GlobalSubscriptions = parseBool(v)
	}
	if v := os.Getenv("NOSTRGRAPH_CONTINUE_SUBS"); v != "" {
		envUsed = true
		cfg.Gateway.ContinueSubscriptions = parseBool(v)
	}
	if v := os.Getenv("NOSTRGRAPH_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Gateway.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("NOSTRGRAPH_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Gateway.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("NOSTRGRAPH_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// LoadEffective loads config from path and applies environment overrides.
// A missing file is not an error; env and flags can carry the whole config.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and NOSTRGRAPH_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("NOSTRGRAPH_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
