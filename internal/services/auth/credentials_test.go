package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
)

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("identity provider unavailable")
}

type blockingSource struct {
	release chan struct{}
}

func (b blockingSource) Token() (*oauth2.Token, error) {
	<-b.release
	return &oauth2.Token{AccessToken: "late"}, nil
}

func TestValidateToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   *oauth2.Token
		wantErr error
	}{
		{"nil token", nil, ErrMissingCredential},
		{"empty token", &oauth2.Token{}, ErrMissingCredential},
		{"whitespace", &oauth2.Token{AccessToken: "abc def"}, ErrMalformedCredential},
		{"control characters", &oauth2.Token{AccessToken: "abc\n"}, ErrMalformedCredential},
		{"wrong type", &oauth2.Token{AccessToken: "abc", TokenType: "mac"}, ErrMalformedCredential},
		{"expired", &oauth2.Token{AccessToken: "abc", Expiry: now.Add(-time.Second)}, ErrExpiredCredential},
		{"jwt", &oauth2.Token{AccessToken: "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-_", TokenType: "Bearer"}, nil},
		{"padded", &oauth2.Token{AccessToken: "dGVzdA==", Expiry: now.Add(time.Hour)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := ValidateToken(tt.token, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsCredentialError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token.AccessToken, value)
		})
	}
}

func TestStaticProviderHeader(t *testing.T) {
	provider := NewStaticProvider("token-123", time.Time{}, arbor.NewLogger())

	header, err := provider.AuthorizationHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", header.Get("Authorization"))
}

func TestProviderSourceFailureIsMissingCredential(t *testing.T) {
	provider := NewProvider(failingSource{}, arbor.NewLogger())

	_, err := provider.BearerToken(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestNilProvider(t *testing.T) {
	var provider *Provider
	_, err := provider.BearerToken(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestProviderRespectsContext(t *testing.T) {
	source := blockingSource{release: make(chan struct{})}
	defer close(source.release)
	provider := NewProvider(source, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.BearerToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsCredentialError(err))
}
