package config

import (
	"time"
)

// Config represents the overall configuration of a dispatcher process.
// It groups logging preferences, the dispatcher request defaults and the
// transport settings shared by every exchange.
type Config struct {
	Log        LogConfig        `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Dispatcher DispatcherConfig `koanf:"dispatcher" json:"dispatcher" yaml:"dispatcher" mapstructure:"dispatcher"`
	Transport  TransportConfig  `koanf:"transport" json:"transport" yaml:"transport" mapstructure:"transport"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// DispatcherConfig holds the request defaults applied to a new dispatcher.
type DispatcherConfig struct {
	Method string `koanf:"method" json:"method" yaml:"method" mapstructure:"method" validate:"oneof=GET POST PUT DELETE HEAD OPTIONS"`
	URL    string `koanf:"url" json:"url" yaml:"url" mapstructure:"url"`
	// Base overrides the <base href> of the hosting page when set.
	Base    string            `koanf:"base" json:"base" yaml:"base" mapstructure:"base"`
	Headers map[string]string `koanf:"headers" json:"headers" yaml:"headers" mapstructure:"headers"`
	Enabled bool              `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Verbose bool              `koanf:"verbose" json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	// MaxHandles caps concurrent exchanges per dispatcher; 0 means unbounded.
	MaxHandles int         `koanf:"maxhandles" json:"maxhandles" yaml:"maxhandles" mapstructure:"maxhandles" validate:"min=0"`
	Retry      RetryConfig `koanf:"retry" json:"retry" yaml:"retry" mapstructure:"retry"`
	Rate       RateConfig  `koanf:"rate" json:"rate" yaml:"rate" mapstructure:"rate"`
	CSRF       CSRFConfig  `koanf:"csrf" json:"csrf" yaml:"csrf" mapstructure:"csrf"`
}

// RetryConfig controls the counted retry performed on transport failure.
type RetryConfig struct {
	Times int `koanf:"times" json:"times" yaml:"times" mapstructure:"times" validate:"min=0"`
	// Wait is the number of ticks between a failure and the reissue.
	Wait int           `koanf:"wait" json:"wait" yaml:"wait" mapstructure:"wait" validate:"min=1"`
	Tick time.Duration `koanf:"tick" json:"tick" yaml:"tick" mapstructure:"tick" validate:"gt=0"`
}

// RateConfig throttles request issuance. A zero limit disables throttling.
type RateConfig struct {
	Limit float64 `koanf:"limit" json:"limit" yaml:"limit" mapstructure:"limit" validate:"min=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" mapstructure:"burst" validate:"min=0"`
}

// CSRFConfig locates the anti-forgery token.
type CSRFConfig struct {
	// Token takes precedence over anything found in Page.
	Token string `koanf:"token" json:"token" yaml:"token" mapstructure:"token"`
	// Page is the path of an HTML document searched for the token and <base href>.
	Page string `koanf:"page" json:"page" yaml:"page" mapstructure:"page"`
}

// TransportConfig holds settings for the HTTP exchanges.
type TransportConfig struct {
	Timeout            time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"min=0"`
	Compress           bool          `koanf:"compress" json:"compress" yaml:"compress" mapstructure:"compress"`
	LogPayloads        bool          `koanf:"logpayloads" json:"logpayloads" yaml:"logpayloads" mapstructure:"logpayloads"`
	MaxPayloadLogBytes int           `koanf:"maxpayloadlogbytes" json:"maxpayloadlogbytes" yaml:"maxpayloadlogbytes" mapstructure:"maxpayloadlogbytes" validate:"min=0"`
	RequestIDHeader    string        `koanf:"requestidheader" json:"requestidheader" yaml:"requestidheader" mapstructure:"requestidheader"`
}
