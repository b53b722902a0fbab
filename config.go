package modforge

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries everything the build pipeline needs. Values come from CLI
// flags bound through viper, MODFORGE_* environment variables, and a .env
// file if one is present in the working directory.
type Config struct {
	PluginsDir   string
	DistDir      string
	ResourcesDir string

	Watch       bool
	Reload      bool
	NoClean     bool
	StopOnError bool
	LogLevel    string
	Port        int

	ReloadHost  string
	ReloadPort  int
	ReloadToken string
	ServerName  string
}

const envPrefix = "MODFORGE"

// LoadConfig reads the environment into a Config. Flag values already bound
// into viper by the CLI take precedence over the environment.
func LoadConfig() (*Config, error) {
	// Best effort: a missing .env is the normal case.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("plugins-dir", "plugins")
	viper.SetDefault("dist-dir", "dist")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("port", 8080)
	viper.SetDefault("reload_host", "127.0.0.1")
	viper.SetDefault("reload_port", 40120)
	viper.SetDefault("server_name", "default")

	cfg := &Config{
		PluginsDir:   viper.GetString("plugins-dir"),
		DistDir:      viper.GetString("dist-dir"),
		ResourcesDir: viper.GetString("resources-dir"),
		Watch:        viper.GetBool("watch"),
		Reload:       viper.GetBool("reload"),
		NoClean:      viper.GetBool("no-clean"),
		StopOnError:  viper.GetBool("stop-on-error"),
		LogLevel:     viper.GetString("log-level"),
		Port:         viper.GetInt("port"),
		ReloadHost:   viper.GetString("reload_host"),
		ReloadPort:   viper.GetInt("reload_port"),
		ReloadToken:  viper.GetString("reload_token"),
		ServerName:   viper.GetString("server_name"),
	}

	abs, err := filepath.Abs(cfg.PluginsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve plugins dir: %w", err)
	}
	cfg.PluginsDir = abs
	abs, err = filepath.Abs(cfg.DistDir)
	if err != nil {
		return nil, fmt.Errorf("resolve dist dir: %w", err)
	}
	cfg.DistDir = abs

	return cfg, nil
}

// LiveResourcesDir is the runtime's resource-loading root. When not set
// explicitly it is derived from the server name, matching the layout the
// runtime expects.
func (c *Config) LiveResourcesDir() string {
	if c.ResourcesDir != "" {
		return c.ResourcesDir
	}
	name := c.ServerName
	if name == "" {
		name = "default"
	}
	return filepath.Join("servers", name, "resources", "[modforge]")
}
