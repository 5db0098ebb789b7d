package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingCredential is returned when the provider has no token to hand out
	ErrMissingCredential = errors.New("missing credential")
	// ErrMalformedCredential is returned when the token is not a valid bearer token
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrExpiredCredential is returned when the token expiry has passed
	ErrExpiredCredential = errors.New("expired credential")
	// ErrUnauthorized is returned when the backend rejects the credential (HTTP 401)
	ErrUnauthorized = errors.New("credential rejected by backend")
)

// b64token per RFC 6750 section 2.1
var bearerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~+/]+=*$`)

// Provider hands out validated bearer tokens from an oauth2.TokenSource.
// Credential errors are preconditions: callers must not retry them with the same source.
type Provider struct {
	source oauth2.TokenSource
	logger arbor.ILogger
	now    func() time.Time
}

// NewProvider wraps an existing token source
func NewProvider(source oauth2.TokenSource, logger arbor.ILogger) *Provider {
	return &Provider{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// NewStaticProvider creates a provider for a fixed token; a zero expiry never expires
func NewStaticProvider(token string, expiry time.Time, logger arbor.ILogger) *Provider {
	return NewProvider(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}), logger)
}

// BearerToken obtains a token from the source and validates it.
// The source may be slow; ctx bounds the wait.
func (p *Provider) BearerToken(ctx context.Context) (string, error) {
	if p == nil || p.source == nil {
		return "", ErrMissingCredential
	}

	type result struct {
		token *oauth2.Token
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := p.source.Token()
		done <- result{token: tok, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to obtain credential: %w", ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		p.logger.Warn().Err(res.err).Msg("Credential provider failed")
		return "", fmt.Errorf("%w: %v", ErrMissingCredential, res.err)
	}

	return ValidateToken(res.token, p.now())
}

// AuthorizationHeader returns a header set carrying the bearer token
func (p *Provider) AuthorizationHeader(ctx context.Context) (http.Header, error) {
	token, err := p.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

// ValidateToken checks that tok is a present, well-formed, unexpired bearer token and returns its value
func ValidateToken(tok *oauth2.Token, now time.Time) (string, error) {
	if tok == nil || tok.AccessToken == "" {
		return "", ErrMissingCredential
	}
	if tok.TokenType != "" && !strings.EqualFold(tok.TokenType, "bearer") {
		return "", fmt.Errorf("%w: unsupported token type %q", ErrMalformedCredential, tok.TokenType)
	}
	if !bearerTokenPattern.MatchString(tok.AccessToken) {
		return "", fmt.Errorf("%w: token contains invalid characters", ErrMalformedCredential)
	}
	if !tok.Expiry.IsZero() && !tok.Expiry.After(now) {
		return "", fmt.Errorf("%w: expired at %s", ErrExpiredCredential, tok.Expiry.Format(time.RFC3339))
	}
	return tok.AccessToken, nil
}

// IsCredentialError reports whether err is a credential precondition failure
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMalformedCredential) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrUnauthorized)
}
