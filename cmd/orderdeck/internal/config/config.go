// Package config declares the daemon's flags, their environment fallbacks,
// and the slog handler they select.
package config

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	odlog "github.com/orderdeck/orderdeck/log"
)

type AppConfig struct {
	FeedURL    string
	GatewayURL string

	APIToken     string
	apiTokenFile string

	StoragePath  string
	HTTPListen   string
	PublicOrigin string

	RefreshDebounce time.Duration
	PollInterval    time.Duration

	LogLevel      string
	LogFormatJSON bool
	LogFile       string
	LogGroups     []string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		StoragePath:     "orderdeck.sqlite3",
		HTTPListen:      ":8080",
		RefreshDebounce: 5 * time.Second,
		PollInterval:    15 * time.Second,
		LogLevel:        "info",
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("orderdeck", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.FeedURL, "feed-url", cfg.FeedURL, "Websocket URL of the order event feed (env: ORDERDECK_FEED_URL)")
	fs.StringVar(&cfg.GatewayURL, "gateway-url", cfg.GatewayURL, "Base URL of the order gateway REST API (env: ORDERDECK_GATEWAY_URL)")
	fs.StringVar(&cfg.APIToken, "api-token", cfg.APIToken, "Session token for the gateway (env: ORDERDECK_API_TOKEN)")
	fs.StringVar(&cfg.apiTokenFile, "api-token-file", cfg.apiTokenFile, "File holding the session token (env: ORDERDECK_API_TOKEN_FILE). Overrides api-token if set.")

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Sqlite journal path, empty disables journaling (env: ORDERDECK_STORAGE_PATH)")
	fs.StringVar(&cfg.HTTPListen, "http-listen", cfg.HTTPListen, "HTTP listen address (env: ORDERDECK_HTTP_LISTEN)")
	fs.StringVar(&cfg.PublicOrigin, "public-origin", cfg.PublicOrigin, "Public origin(s) for CORS, comma separated (env: ORDERDECK_PUBLIC_ORIGIN)")

	fs.DurationVar(&cfg.RefreshDebounce, "refresh-debounce", cfg.RefreshDebounce, "Quiet period after a delta before a refresh fires (env: ORDERDECK_REFRESH_DEBOUNCE)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Fallback polling interval (env: ORDERDECK_POLL_INTERVAL)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: ORDERDECK_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: ORDERDECK_LOG_JSON)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this file (env: ORDERDECK_LOG_FILE)")
	fs.StringSliceVar(&cfg.LogGroups, "log-groups", cfg.LogGroups, "Only emit logs from these slog groups (env: ORDERDECK_LOG_GROUPS)")

	return fs
}

// ApplyEnvDefaults fills flags that were not set on the command line from the
// environment, then resolves the token file.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
			}
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}
	setStrings := func(name, envKey string, target *[]string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, part := range parts {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*target = out
		}
	}

	setString("feed-url", "ORDERDECK_FEED_URL", &cfg.FeedURL)
	setString("gateway-url", "ORDERDECK_GATEWAY_URL", &cfg.GatewayURL)
	setString("api-token", "ORDERDECK_API_TOKEN", &cfg.APIToken)
	setString("api-token-file", "ORDERDECK_API_TOKEN_FILE", &cfg.apiTokenFile)

	setString("storage-path", "ORDERDECK_STORAGE_PATH", &cfg.StoragePath)
	setString("http-listen", "ORDERDECK_HTTP_LISTEN", &cfg.HTTPListen)
	setString("public-origin", "ORDERDECK_PUBLIC_ORIGIN", &cfg.PublicOrigin)

	setDuration("refresh-debounce", "ORDERDECK_REFRESH_DEBOUNCE", &cfg.RefreshDebounce)
	setDuration("poll-interval", "ORDERDECK_POLL_INTERVAL", &cfg.PollInterval)

	setString("log-level", "ORDERDECK_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "ORDERDECK_LOG_JSON", &cfg.LogFormatJSON)
	setString("log-file", "ORDERDECK_LOG_FILE", &cfg.LogFile)
	setStrings("log-groups", "ORDERDECK_LOG_GROUPS", &cfg.LogGroups)

	if cfg.apiTokenFile != "" {
		token, err := os.ReadFile(cfg.apiTokenFile)
		if err != nil {
			return fmt.Errorf("reading api token from %q: %w", cfg.apiTokenFile, err)
		}
		cfg.APIToken = strings.TrimSpace(string(token))
	}
	return nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if cfg.FeedURL == "" {
		missing = append(missing, "feed-url")
	}
	if cfg.GatewayURL == "" {
		missing = append(missing, "gateway-url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if cfg.RefreshDebounce <= 0 {
		return fmt.Errorf("refresh-debounce must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	return nil
}

// GetLogHandler builds the slog handler the config asks for: text or JSON,
// optionally duplicated to a file, optionally narrowed to specific groups.
func GetLogHandler(cfg AppConfig) (slog.Handler, error) {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	build := func(w io.Writer) slog.Handler {
		if cfg.LogFormatJSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	handler := build(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %q: %w", cfg.LogFile, err)
		}
		handler = odlog.NewMultiHandler(handler, build(f))
	}

	return odlog.NewGroupFilterHandler(handler, cfg.LogGroups), nil
}
