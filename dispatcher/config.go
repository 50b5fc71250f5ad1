package dispatcher

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/gaborage/go-dispatch/config"
	"github.com/gaborage/go-dispatch/document"
	"github.com/gaborage/go-dispatch/httpclient"
	"github.com/gaborage/go-dispatch/logger"
)

// NewFromConfig creates a Dispatcher from loaded configuration. The hosting
// page named by cfg.Dispatcher.CSRF.Page is parsed once for its <base href>
// and CSRF token; an explicit Base overrides the page's. opts are applied
// after the configuration and win over it.
func NewFromConfig(cfg *config.Config, log logger.Logger, opts ...Option) (*Dispatcher, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	dc := cfg.Dispatcher

	var page *document.Page
	if dc.CSRF.Page != "" {
		p, err := document.ParseFile(dc.CSRF.Page)
		if err != nil {
			return nil, fmt.Errorf("load hosting page: %w", err)
		}
		page = p
	}

	client := httpclient.NewBuilder(log).
		WithConfig(httpclient.Config{
			Timeout:            cfg.Transport.Timeout,
			Compress:           cfg.Transport.Compress,
			LogPayloads:        cfg.Transport.LogPayloads,
			MaxPayloadLogBytes: cfg.Transport.MaxPayloadLogBytes,
			RequestIDHeader:    cfg.Transport.RequestIDHeader,
		}).
		Build()

	base := []Option{
		WithLogger(log),
		WithTransport(client.Factory()),
		WithPage(page),
		WithTokenSource(document.NewTokenFinder(dc.CSRF.Token, page)),
		WithTickInterval(dc.Retry.Tick),
		WithMaxHandles(dc.MaxHandles),
		WithVerbose(dc.Verbose),
	}
	if dc.Rate.Limit > 0 {
		base = append(base, WithRateLimit(rate.Limit(dc.Rate.Limit), dc.Rate.Burst))
	}
	d := New(append(base, opts...)...)

	d.SetMethod(dc.Method)
	d.SetURL(dc.URL)
	if dc.Base != "" {
		if err := d.SetBase(dc.Base); err != nil {
			return nil, err
		}
	}
	for name, value := range dc.Headers {
		if err := d.AddHeader(name, value); err != nil {
			return nil, fmt.Errorf("header %q: %w", name, err)
		}
	}
	if err := d.SetRetry(dc.Retry.Times, dc.Retry.Wait, nil); err != nil {
		return nil, err
	}
	d.SetEnabled(dc.Enabled)
	return d, nil
}
