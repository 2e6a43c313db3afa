// Package config loads rexd settings from defaults, an optional TOML file
// and REXD_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "REXD"

	DefaultSecret = "rexd-insecure-secret"
	DefaultPort   = 5004

	configDirName   = "rexd"
	configName      = "config"
	configType      = "toml"
	configFileMode  = 0o600
	configDirMode   = 0o700
	tempFilePattern = ".config-*.toml.tmp"
)

const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
	EngineMemory   = "memory"
)

var Engines = []string{EngineChromium, EngineFirefox, EngineWebKit, EngineMemory}

var (
	ErrInvalid      = errors.New("invalid configuration")
	ErrConfigExists = errors.New("config file already exists")
)

type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	SecretRef     string        `mapstructure:"secret_ref"`
	SecretDir     string        `mapstructure:"secret_dir"`
	AuthTimeout   time.Duration `mapstructure:"auth_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	Browser       Browser       `mapstructure:"browser"`
	Log           Log           `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type Browser struct {
	Engine   string   `mapstructure:"engine"`
	Headless bool     `mapstructure:"headless"`
	Args     []string `mapstructure:"args"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsesDefaultSecret reports whether connections are guarded by the
// well-known default secret.
func (c Config) UsesDefaultSecret() bool {
	return c.SecretRef == "" && c.Secret == DefaultSecret
}

// DefaultPath is $XDG_CONFIG_HOME/rexd/config.toml, falling back to
// ~/.config/rexd/config.toml.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName+"."+configType), nil
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", configDirName), nil
}

func setDefaults(v *viper.Viper) error {
	dir, err := configDir()
	if err != nil {
		return err
	}

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("secret", DefaultSecret)
	v.SetDefault("secret_ref", "")
	v.SetDefault("secret_dir", filepath.Join(dir, "secrets"))
	v.SetDefault("auth_timeout", "30s")
	v.SetDefault("idle_timeout", "5m")
	v.SetDefault("shutdown_grace", "5s")
	v.SetDefault("browser.engine", EngineChromium)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	return nil
}

// Load reads the configuration. An empty path searches the default
// location; a missing file is not an error in either case.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	if err := setDefaults(v); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := configDir()
		if err != nil {
			return Config{}, err
		}
		v.SetConfigName(configName)
		v.AddConfigPath(dir)
	}

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file

	secretDir, err := expandHome(cfg.SecretDir)
	if err != nil {
		return Config{}, err
	}
	cfg.SecretDir = secretDir
	cfg.Browser.Engine = strings.ToLower(strings.TrimSpace(cfg.Browser.Engine))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d is outside 1..65535", c.Port))
	}
	if c.AuthTimeout <= 0 {
		problems = append(problems, errors.New("auth_timeout must be positive"))
	}
	if c.IdleTimeout <= 0 {
		problems = append(problems, errors.New("idle_timeout must be positive"))
	}
	if c.ShutdownGrace < 0 {
		problems = append(problems, errors.New("shutdown_grace must not be negative"))
	}
	if !slices.Contains(Engines, c.Browser.Engine) {
		problems = append(problems, fmt.Errorf("unknown browser engine %q (want one of %s)", c.Browser.Engine, strings.Join(Engines, ", ")))
	}
	if c.SecretRef == "" && c.Secret == "" {
		problems = append(problems, errors.New("secret must not be empty"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

type fileSchema struct {
	Host          string        `toml:"host"`
	Port          int           `toml:"port"`
	Secret        string        `toml:"secret,omitempty"`
	SecretRef     string        `toml:"secret_ref"`
	SecretDir     string        `toml:"secret_dir"`
	AuthTimeout   string        `toml:"auth_timeout"`
	IdleTimeout   string        `toml:"idle_timeout"`
	ShutdownGrace string        `toml:"shutdown_grace"`
	Browser       browserSchema `toml:"browser"`
	Log           logSchema     `toml:"log"`
}

type browserSchema struct {
	Engine   string   `toml:"engine"`
	Headless bool     `toml:"headless"`
	Args     []string `toml:"args"`
}

type logSchema struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func toSchema(c Config) fileSchema {
	args := c.Browser.Args
	if args == nil {
		args = []string{}
	}
	return fileSchema{
		Host:          c.Host,
		Port:          c.Port,
		Secret:        c.Secret,
		SecretRef:     c.SecretRef,
		SecretDir:     c.SecretDir,
		AuthTimeout:   c.AuthTimeout.String(),
		IdleTimeout:   c.IdleTimeout.String(),
		ShutdownGrace: c.ShutdownGrace.String(),
		Browser:       browserSchema{Engine: c.Browser.Engine, Headless: c.Browser.Headless, Args: args},
		Log:           logSchema{Level: c.Log.Level, Format: c.Log.Format},
	}
}

// TOML renders the effective configuration. The secret is masked unless
// reveal is set.
func (c Config) TOML(reveal bool) ([]byte, error) {
	schema := toSchema(c)
	if !reveal && schema.Secret != "" {
		schema.Secret = "********"
	}
	data, err := toml.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() (Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode defaults: %w", err)
	}
	return cfg, nil
}

// WriteFile atomically writes cfg to path with owner-only permissions.
// An existing file is only replaced when force is set.
func WriteFile(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(toSchema(cfg))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tempFile.Chmod(configFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false

	return nil
}
