// Package config loads server settings.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. built-in defaults
//  2. an optional YAML file (--config)
//  3. SANDBOX_* environment variables, with "__" separating sections:
//     SANDBOX_AUTH__SESSION_TTL=48h sets auth.session_ttl
//  4. command-line flags that were explicitly set
//
// .env files are read into the process environment before step 3, so they
// behave exactly like real environment variables. Variables already set in
// the environment win over .env entries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "SANDBOX_"

type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	DB        DBConfig        `koanf:"db"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Cookie    CookieConfig    `koanf:"cookie"`
	GitHub    GitHubConfig    `koanf:"github"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DBConfig struct {
	// Path is a file path, or ":memory:" for a throwaway database.
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type AuthConfig struct {
	// SessionTTL of 0 means sessions never expire.
	SessionTTL    time.Duration `koanf:"session_ttl"`
	ResetTokenTTL time.Duration `koanf:"reset_token_ttl"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
	BcryptCost    int           `koanf:"bcrypt_cost"`
	// ResetURL is the client page that takes ?token= from a reset link.
	ResetURL string `koanf:"reset_url"`
}

type CookieConfig struct {
	Name   string `koanf:"name"`
	Domain string `koanf:"domain"`
	Secure bool   `koanf:"secure"`
}

// GitHubConfig enables GitHub sign-in when ClientID and ClientSecret are set.
type GitHubConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CallbackURL  string `koanf:"callback_url"`
	// AppURL is where the browser goes after signing in.
	AppURL string `koanf:"app_url"`
}

func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type RateLimitConfig struct {
	// RPS is the sustained rate per client IP for throttled operations.
	// Zero disables limiting.
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// Defaults returns the built-in settings as flat koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":             ":8080",
		"http.read_timeout":     "15s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "30s",

		"db.path": "data/sandbox.db",

		"log.level":  "info",
		"log.format": "text",

		"auth.session_ttl":     "720h",
		"auth.reset_token_ttl": "1h",
		"auth.purge_interval":  "1h",
		"auth.bcrypt_cost":     12,
		"auth.reset_url":       "http://localhost:3000/reset-password",

		"cookie.name":   "sid",
		"cookie.secure": false,

		"github.callback_url": "http://localhost:8080/auth/github/callback",
		"github.app_url":      "/",

		"rate_limit.rps":   1.0,
		"rate_limit.burst": 10,
	}
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// here (e.g. --config itself) are not configuration values.
var flagKeys = map[string]string{
	"addr":      "http.addr",
	"db":        "db.path",
	"log-level": "log.level",
	"log-json":  "log.format",
}

// RegisterFlags adds the flags Load understands to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.StringSlice("env-file", []string{".env"}, "dotenv files to load before reading the environment")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("db", "data/sandbox.db", `SQLite database path (":memory:" for a throwaway database)`)
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "log as JSON instead of text")
}

// Load builds the configuration from every source. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	var configFile string
	envFiles := []string{".env"}
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		if files, err := flags.GetStringSlice("env-file"); err == nil {
			envFiles = files
		}
	}

	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue), nil); err != nil {
			return nil, fmt.Errorf("config: loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns SANDBOX_AUTH__SESSION_TTL into auth.session_ttl.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func flagValue(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	if f.Name == "log-json" {
		if f.Value.String() == "true" {
			return key, "json"
		}
		return key, "text"
	}
	return key, f.Value.String()
}

// loadDotEnv reads each file into the environment. Missing files are fine.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path must not be empty"))
	}
	if c.Auth.SessionTTL < 0 {
		errs = append(errs, errors.New("auth.session_ttl must not be negative"))
	}
	if c.Auth.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.reset_token_ttl must be positive"))
	}
	if c.Cookie.Name == "" {
		errs = append(errs, errors.New("cookie.name must not be empty"))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rate_limit.rps must not be negative"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EnsureDBDir creates the directory holding a file database.
func (c *Config) EnsureDBDir() error {
	if c.DB.Path == ":memory:" || strings.HasPrefix(c.DB.Path, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.DB.Path), 0o755)
}
