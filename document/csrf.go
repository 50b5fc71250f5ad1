package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TokenName is the meta/input name searched for the anti-forgery token.
const TokenName = "csrf-token"

// ErrNoToken is returned when no source yields a non-empty token.
var ErrNoToken = errors.New("csrf token not found")

// TokenSource discovers the anti-forgery token sent with mutating requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// PageLoader produces the hosting page on demand.
type PageLoader func(ctx context.Context) (*Page, error)

// StaticPage returns a loader for an already parsed page.
func StaticPage(p *Page) PageLoader {
	return func(context.Context) (*Page, error) {
		return p, nil
	}
}

// FilePage returns a loader that parses the page at path on each call.
func FilePage(path string) PageLoader {
	return func(ctx context.Context) (*Page, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ParseFile(path)
	}
}

// TokenFinder searches the global value, then <meta name="csrf-token">, then
// <input name="csrf-token">. The first non-empty value is cached for the
// lifetime of the finder; misses are not cached.
type TokenFinder struct {
	global string
	load   PageLoader

	sfg    singleflight.Group
	mu     sync.RWMutex
	token  string
	cached bool
}

var _ TokenSource = (*TokenFinder)(nil)

// NewTokenFinder creates a finder over a global token and an optional parsed page.
func NewTokenFinder(global string, page *Page) *TokenFinder {
	var load PageLoader
	if page != nil {
		load = StaticPage(page)
	}
	return NewLazyTokenFinder(global, load)
}

// NewLazyTokenFinder creates a finder that loads the page only when the
// global token is empty. Concurrent lookups share one load.
func NewLazyTokenFinder(global string, load PageLoader) *TokenFinder {
	return &TokenFinder{global: strings.TrimSpace(global), load: load}
}

// Token returns the cached token or performs the search.
func (f *TokenFinder) Token(ctx context.Context) (string, error) {
	f.mu.RLock()
	if f.cached {
		token := f.token
		f.mu.RUnlock()
		return token, nil
	}
	f.mu.RUnlock()

	result, err, _ := f.sfg.Do(TokenName, func() (any, error) {
		return f.search(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (f *TokenFinder) search(ctx context.Context) (string, error) {
	token := f.global
	if token == "" && f.load != nil {
		page, err := f.load(ctx)
		if err != nil {
			return "", fmt.Errorf("load page for csrf token: %w", err)
		}
		token = FindToken(page)
	}
	if token == "" {
		return "", ErrNoToken
	}

	f.mu.Lock()
	f.token = token
	f.cached = true
	f.mu.Unlock()
	return token, nil
}

// FindToken applies the meta-then-input search to page.
func FindToken(page *Page) string {
	if v, ok := page.MetaContent(TokenName); ok && v != "" {
		return v
	}
	if v, ok := page.InputValue(TokenName); ok && v != "" {
		return v
	}
	return ""
}
