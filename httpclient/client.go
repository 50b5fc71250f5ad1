package httpclient

import (
	nethttp "net/http"
	"time"

	"github.com/gaborage/go-dispatch/logger"
)

// Client creates net/http-backed exchanges sharing one http.Client and Config.
type Client struct {
	httpClient          *nethttp.Client
	config              *Config
	requestInterceptors []RequestInterceptor
	logger              logger.Logger
}

// NewExchange allocates a new exchange. It satisfies Factory.
func (c *Client) NewExchange() (Exchange, error) {
	return &exchange{client: c, header: nethttp.Header{}}, nil
}

// Factory returns c.NewExchange as a Factory.
func (c *Client) Factory() Factory {
	return c.NewExchange
}

// Builder provides a fluent interface for building Clients
type Builder struct {
	config     *Config
	httpClient *nethttp.Client
	logger     logger.Logger
}

// NewBuilder creates a new client builder with defaults
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{
		config: &Config{
			Timeout:            30 * time.Second,
			DefaultHeaders:     make(map[string]string),
			MaxPayloadLogBytes: defaultMaxPayloadLogBytes,
			RequestIDHeader:    HeaderXRequestID,
		},
		logger: log,
	}
}

// WithConfig replaces the whole configuration
func (b *Builder) WithConfig(cfg Config) *Builder {
	if cfg.DefaultHeaders == nil {
		cfg.DefaultHeaders = make(map[string]string)
	}
	if cfg.RequestIDHeader == "" {
		cfg.RequestIDHeader = HeaderXRequestID
	}
	b.config = &cfg
	return b
}

// WithTimeout sets the per-exchange timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithDefaultHeader adds a header sent with every exchange
func (b *Builder) WithDefaultHeader(name, value string) *Builder {
	b.config.DefaultHeaders[name] = value
	return b
}

// WithCompression toggles gzip/deflate/br negotiation
func (b *Builder) WithCompression(enabled bool) *Builder {
	b.config.Compress = enabled
	return b
}

// WithPayloadLogging enables debug payload logging capped at maxBytes
func (b *Builder) WithPayloadLogging(enabled bool, maxBytes int) *Builder {
	b.config.LogPayloads = enabled
	b.config.MaxPayloadLogBytes = maxBytes
	return b
}

// WithRequestIDHeader sets the header used for request-id propagation
func (b *Builder) WithRequestIDHeader(name string) *Builder {
	if name != "" {
		b.config.RequestIDHeader = name
	}
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithHTTPClient uses hc instead of a client built from the configured timeout
func (b *Builder) WithHTTPClient(hc *nethttp.Client) *Builder {
	b.httpClient = hc
	return b
}

// Build creates the Client
func (b *Builder) Build() *Client {
	hc := b.httpClient
	if hc == nil {
		hc = &nethttp.Client{Timeout: b.config.Timeout}
	}
	interceptors := make([]RequestInterceptor, 0, len(b.config.RequestInterceptors)+1)
	interceptors = append(interceptors, NewRequestIDInterceptor(b.config.RequestIDHeader))
	interceptors = append(interceptors, b.config.RequestInterceptors...)
	return &Client{
		httpClient:          hc,
		config:              b.config,
		requestInterceptors: interceptors,
		logger:              b.logger,
	}
}
