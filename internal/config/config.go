package config

import "time"

// Config holds client configuration values.
type Config struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	Token     string `mapstructure:"token" yaml:"token"`
	UserID    string `mapstructure:"user_id" yaml:"user_id"`
	UserName  string `mapstructure:"user_name" yaml:"user_name"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	Protocol  int    `mapstructure:"protocol" yaml:"protocol"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMissedPongs    int           `mapstructure:"max_missed_pongs" yaml:"max_missed_pongs"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReconnectMin      time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	ReconnectJitter   float64       `mapstructure:"reconnect_jitter" yaml:"reconnect_jitter"`

	PageSize        int           `mapstructure:"page_size" yaml:"page_size"`
	ReconcileWindow time.Duration `mapstructure:"reconcile_window" yaml:"reconcile_window"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	SendRate        float64       `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst       int           `mapstructure:"send_burst" yaml:"send_burst"`

	// CachePath is the SQLite file for the local message cache. Empty disables caching.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	Scroll    ScrollConfig    `mapstructure:"scroll" yaml:"scroll"`
	DevServer DevServerConfig `mapstructure:"devserver" yaml:"devserver"`
}

// ScrollConfig holds pixel thresholds for the scroll-anchor controller.
type ScrollConfig struct {
	NearBottom float64 `mapstructure:"near_bottom" yaml:"near_bottom"`
	LoadOlder  float64 `mapstructure:"load_older" yaml:"load_older"`
	TopMargin  float64 `mapstructure:"top_margin" yaml:"top_margin"`
}

// DevServerConfig configures the local development server.
type DevServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// InboundRate limits envelopes per second accepted from each socket.
	InboundRate  float64 `mapstructure:"inbound_rate" yaml:"inbound_rate"`
	InboundBurst int     `mapstructure:"inbound_burst" yaml:"inbound_burst"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL: "ws://localhost:8080/ws",
		APIURL:    "http://localhost:8080",
		LogLevel:  "info",
		Protocol:  1,

		HeartbeatInterval: 25 * time.Second,
		MaxMissedPongs:    2,
		WriteTimeout:      5 * time.Second,
		ReconnectMin:      500 * time.Millisecond,
		ReconnectMax:      30 * time.Second,
		ReconnectJitter:   0.2,

		PageSize:        50,
		ReconcileWindow: 10 * time.Second,
		RequestTimeout:  10 * time.Second,
		SendRate:        5,
		SendBurst:       10,

		Scroll: ScrollConfig{
			NearBottom: 100,
			LoadOlder:  80,
			TopMargin:  16,
		},
		DevServer: DevServerConfig{
			Addr:              ":8080",
			JWTSecret:         "dev-secret-change-me",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			InboundRate:       10,
			InboundBurst:      20,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.UserID != "" {
		c.UserID = other.UserID
	}
	if other.UserName != "" {
		c.UserName = other.UserName
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Protocol != 0 {
		c.Protocol = other.Protocol
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.MaxMissedPongs != 0 {
		c.MaxMissedPongs = other.MaxMissedPongs
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.ReconnectMin != 0 {
		c.ReconnectMin = other.ReconnectMin
	}
	if other.ReconnectMax != 0 {
		c.ReconnectMax = other.ReconnectMax
	}
	if other.ReconnectJitter != 0 {
		c.ReconnectJitter = other.ReconnectJitter
	}
	if other.PageSize != 0 {
		c.PageSize = other.PageSize
	}
	if other.ReconcileWindow != 0 {
		c.ReconcileWindow = other.ReconcileWindow
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.SendRate != 0 {
		c.SendRate = other.SendRate
	}
	if other.SendBurst != 0 {
		c.SendBurst = other.SendBurst
	}
	if other.CachePath != "" {
		c.CachePath = other.CachePath
	}
	if other.Scroll.NearBottom != 0 {
		c.Scroll.NearBottom = other.Scroll.NearBottom
	}
	if other.Scroll.LoadOlder != 0 {
		c.Scroll.LoadOlder = other.Scroll.LoadOlder
	}
	if other.Scroll.TopMargin != 0 {
		c.Scroll.TopMargin = other.Scroll.TopMargin
	}
	if other.DevServer.Addr != "" {
		c.DevServer.Addr = other.DevServer.Addr
	}
	if other.DevServer.JWTSecret != "" {
		c.DevServer.JWTSecret = other.DevServer.JWTSecret
	}
	if other.DevServer.ReadHeaderTimeout != 0 {
		c.DevServer.ReadHeaderTimeout = other.DevServer.ReadHeaderTimeout
	}
	if other.DevServer.ShutdownTimeout != 0 {
		c.DevServer.ShutdownTimeout = other.DevServer.ShutdownTimeout
	}
	if other.DevServer.InboundRate != 0 {
		c.DevServer.InboundRate = other.DevServer.InboundRate
	}
	if other.DevServer.InboundBurst != 0 {
		c.DevServer.InboundBurst = other.DevServer.InboundBurst
	}
}
