// Package config loads server settings and the codex CLI's own defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the bridge server's settings, resolved from defaults, an
// optional config file, and CODEX_BRIDGE_* environment variables.
type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	CodexExecutable string `mapstructure:"codex_executable"`
	CodexHome       string `mapstructure:"codex_home"`

	// TranslateCommand, when set, pipes completed reasoning text through an
	// external program to produce translated copies for clients.
	TranslateCommand string        `mapstructure:"translate_command"`
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"`
}

// Load reads configuration. configFile may be empty to use defaults and
// environment variables only.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8420")
	v.SetDefault("codex_executable", "codex")
	v.SetDefault("codex_home", defaultCodexHome())
	v.SetDefault("translate_command", "")
	v.SetDefault("translate_timeout", 5*time.Second)

	v.SetEnvPrefix("CODEX_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// CodexConfigPath is the codex CLI's own config file under the codex home.
func (c Config) CodexConfigPath() string {
	return filepath.Join(c.CodexHome, "config.toml")
}

func defaultCodexHome() string {
	if home := strings.TrimSpace(os.Getenv("CODEX_HOME")); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".codex"
	}
	return filepath.Join(userHome, ".codex")
}
