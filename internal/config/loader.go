package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "wirechat.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults(cfg) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("WIRECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// defaults flattens cfg into viper keys so env vars bind even without a file entry.
func defaults(cfg Config) map[string]any {
	return map[string]any{
		"server_url":                    cfg.ServerURL,
		"api_url":                       cfg.APIURL,
		"token":                         cfg.Token,
		"user_id":                       cfg.UserID,
		"user_name":                     cfg.UserName,
		"log_level":                     cfg.LogLevel,
		"protocol":                      cfg.Protocol,
		"heartbeat_interval":            cfg.HeartbeatInterval,
		"max_missed_pongs":              cfg.MaxMissedPongs,
		"write_timeout":                 cfg.WriteTimeout,
		"reconnect_min":                 cfg.ReconnectMin,
		"reconnect_max":                 cfg.ReconnectMax,
		"reconnect_jitter":              cfg.ReconnectJitter,
		"page_size":                     cfg.PageSize,
		"reconcile_window":              cfg.ReconcileWindow,
		"request_timeout":               cfg.RequestTimeout,
		"send_rate":                     cfg.SendRate,
		"send_burst":                    cfg.SendBurst,
		"cache_path":                    cfg.CachePath,
		"scroll.near_bottom":            cfg.Scroll.NearBottom,
		"scroll.load_older":             cfg.Scroll.LoadOlder,
		"scroll.top_margin":             cfg.Scroll.TopMargin,
		"devserver.addr":                cfg.DevServer.Addr,
		"devserver.jwt_secret":          cfg.DevServer.JWTSecret,
		"devserver.read_header_timeout": cfg.DevServer.ReadHeaderTimeout,
		"devserver.shutdown_timeout":    cfg.DevServer.ShutdownTimeout,
		"devserver.inbound_rate":        cfg.DevServer.InboundRate,
		"devserver.inbound_burst":       cfg.DevServer.InboundBurst,
	}
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
