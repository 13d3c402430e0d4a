// Package config loads meshview settings from defaults, an optional YAML
// file, MESHVIEW_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	ConfigFileName    = "meshview.yaml"
	ConfigFileNameAlt = "meshview.yml"
	EnvPrefix         = "MESHVIEW_"
)

// Default configuration values.
const (
	DefaultAddr         = ":8080"
	DefaultFPS          = 60
	DefaultReleaseDelay = time.Second
	DefaultMaxUpload    = 256 << 20
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Render RenderConfig `koanf:"render"`
	Export ExportConfig `koanf:"export"`
	Log    LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	Addr      string `koanf:"addr"`
	MaxUpload int64  `koanf:"max_upload"`
}

type RenderConfig struct {
	FPS int `koanf:"fps"`
}

type ExportConfig struct {
	ReleaseDelay time.Duration `koanf:"release_delay"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"max-upload":    "server.max_upload",
	"fps":           "render.fps",
	"release-delay": "export.release_delay",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

// Loaded is a loaded configuration and the file it was read from, if any.
type Loaded struct {
	Config *Config
	File   string
}

// findConfigFile returns explicit, or the first default file name present
// in the working directory.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load builds the configuration. flags may be nil; only flags that were
// explicitly set override the other layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	// 1. defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"server.addr":          DefaultAddr,
		"server.max_upload":    DefaultMaxUpload,
		"render.fps":           DefaultFPS,
		"export.release_delay": DefaultReleaseDelay.String(),
		"log.level":            DefaultLogLevel,
		"log.format":           DefaultLogFormat,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. environment: MESHVIEW_EXPORT_RELEASE_DELAY -> export.release_delay
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: &cfg, File: used}, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Render.FPS <= 0 {
		return fmt.Errorf("render.fps must be positive, got %d", c.Render.FPS)
	}
	if c.Export.ReleaseDelay < 0 {
		return fmt.Errorf("export.release_delay must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
