package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides. Nested keys use a double
// underscore: EDITORBRIDGE_BRIDGE__SYNC_DELAY sets bridge.sync_delay.
const EnvPrefix = "EDITORBRIDGE_"

type Config struct {
	Addr       string `koanf:"addr"`
	CORSOrigin string `koanf:"cors_origin"`
	LogLevel   string `koanf:"log_level"`
	// RedisURL enables document handoff when set.
	RedisURL string `koanf:"redis_url"`

	Bridge  BridgeConfig  `koanf:"bridge"`
	User    UserConfig    `koanf:"user"`
	Token   TokenConfig   `koanf:"token"`
	Handoff HandoffConfig `koanf:"handoff"`
	AI      AIConfig      `koanf:"ai"`
}

type BridgeConfig struct {
	InboundID         string        `koanf:"inbound_id"`
	OutboundID        string        `koanf:"outbound_id"`
	DefaultDocumentID string        `koanf:"default_document_id"`
	SyncDelay         time.Duration `koanf:"sync_delay"`
	InitialSyncDelay  time.Duration `koanf:"initial_sync_delay"`
	ReadyTimeout      time.Duration `koanf:"ready_timeout"`

	// IdleTTL is how long a session with no host and no request is kept.
	// Zero keeps sessions until shutdown.
	IdleTTL time.Duration `koanf:"idle_ttl"`
}

// UserConfig is the local identity comments and resolutions are attributed to.
type UserConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

type TokenConfig struct {
	EnvironmentID string        `koanf:"environment_id"`
	AccessKey     string        `koanf:"access_key"`
	TTL           time.Duration `koanf:"ttl"`
	RPS           float64       `koanf:"rps"`
	Burst         int           `koanf:"burst"`

	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

type HandoffConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type AIConfig struct {
	// ChromeURL is the DevTools endpoint of the browser hosting the editor
	// UI. The AI panel is disabled when empty.
	ChromeURL        string        `koanf:"chrome_url"`
	EditorURL        string        `koanf:"editor_url"`
	PanelTimeout     time.Duration `koanf:"panel_timeout"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	SendSettle       time.Duration `koanf:"send_settle"`
	ApplySettleDelay time.Duration `koanf:"apply_settle_delay"`
	MaxContextChars  int           `koanf:"max_context_chars"`
}

var defaults = map[string]interface{}{
	"addr":        ":8787",
	"cors_origin": "*",
	"log_level":   "info",

	"bridge.inbound_id":          "CKE_BUBBLE_BRIDGE_V1",
	"bridge.outbound_id":         "CKE_BUBBLE_MINI_V1",
	"bridge.default_document_id": "fv-doc-default",
	"bridge.sync_delay":          "100ms",
	"bridge.initial_sync_delay":  "500ms",
	"bridge.ready_timeout":       "5s",
	"bridge.idle_ttl":            "10m",

	"user.id":   "user-1",
	"user.name": "Demo User 1",

	"token.ttl":   "24h",
	"token.rps":   5,
	"token.burst": 10,

	"handoff.ttl": "10m",

	"ai.editor_url":         "http://localhost:8080/",
	"ai.panel_timeout":      "3s",
	"ai.poll_interval":      "100ms",
	"ai.send_settle":        "150ms",
	"ai.apply_settle_delay": "1500ms",
	"ai.max_context_chars":  8000,
}

// defaultPaths are tried in order when no config file is given.
var defaultPaths = []string{"./editorbridge.toml", "$HOME/.editorbridge.toml"}

// Load layers defaults, an optional TOML file and the environment. An
// explicit path must exist; default paths are skipped when absent.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, candidate := range defaultPaths {
			candidate = os.ExpandEnv(candidate)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", candidate, err)
			}
			break
		}
	}

	// The token signing pair keeps the names the editor cloud documents.
	if err := k.Load(env.Provider("CK_", ".", func(s string) string {
		switch s {
		case "CK_ENVIRONMENT_ID":
			return "token.environment_id"
		case "CK_ACCESS_KEY":
			return "token.access_key"
		}
		return ""
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load token env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
