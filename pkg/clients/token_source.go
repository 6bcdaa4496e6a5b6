package clients

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// TokenFunc obtains a fresh access token, typically by calling a login endpoint
type TokenFunc func(ctx context.Context) (string, error)

// bootstrapTokenSource adapts a TokenFunc to oauth2.TokenSource. The tokens it
// returns carry no expiry, so a ReuseTokenSource around it calls fn once.
type bootstrapTokenSource struct {
	ctx context.Context
	fn  TokenFunc
}

// Token implements oauth2.TokenSource
func (s *bootstrapTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.fn(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access}, nil
}

// NewBootstrapTokenSource returns a token source that calls fn on first use
// and caches the result. Failed calls are not cached.
func NewBootstrapTokenSource(ctx context.Context, fn TokenFunc) oauth2.TokenSource {
	return &onceTokenSource{
		src: oauth2.ReuseTokenSource(nil, &bootstrapTokenSource{ctx: ctx, fn: fn}),
	}
}

// onceTokenSource serializes first use so concurrent callers share one login
type onceTokenSource struct {
	mu  sync.Mutex
	src oauth2.TokenSource
}

// Token implements oauth2.TokenSource
func (s *onceTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Token()
}

// NewStaticTokenSource returns a token source for a pre-issued token
func NewStaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
}
