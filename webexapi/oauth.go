package webexapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Errors reported by the OAuth callback itself (before any token endpoint call).
var (
	ErrUserDeclined   = errors.New("user declined authorization")
	ErrInvalidScope   = errors.New("invalid scope requested")
	ErrUpstreamServer = errors.New("authorization server error")
)

// ErrMalformedTokenResponse indicates a 200 response missing the access_token field.
var ErrMalformedTokenResponse = errors.New("token endpoint returned invalid access_token object")

// ExchangeError reports a non-200 response from the token endpoint, keeping
// the upstream status so callers can distinguish bad requests from credential
// misconfiguration.
type ExchangeError struct {
	Status int
	Detail string
}

func (e *ExchangeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("token exchange failed: status %d", e.Status)
}

// ClassifyCallbackError maps the error query parameter of an OAuth callback
// to a sentinel error. The callback error short-circuits the flow; the token
// endpoint is never contacted.
func ClassifyCallbackError(code string) error {
	switch code {
	case "access_denied":
		return ErrUserDeclined
	case "invalid_scope":
		return ErrInvalidScope
	case "server_error":
		return ErrUpstreamServer
	default:
		return fmt.Errorf("authorization failed: %s", code)
	}
}

// TokenBundle is a raw credential bundle from the token endpoint, not yet
// bound to a person.
type TokenBundle struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int    `json:"expires_in"`
	RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
}

// Flow drives code and refresh_token grants against the Webex token endpoint.
type Flow struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RedirectURI  string
	HTTPClient   *http.Client
}

func (f *Flow) http() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code grant.
func BuildAuthorizeURL(authorizeURL, clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return authorizeURL + "?" + v.Encode(), nil
}

// ExchangeCode exchanges an authorization code for access & refresh tokens.
func (f *Flow) ExchangeCode(ctx context.Context, code string) (*TokenBundle, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", f.ClientID)
	form.Set("client_secret", f.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", f.RedirectURI)
	return f.post(ctx, form)
}

// Refresh exchanges a refresh token for a new bundle.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	if refreshToken == "" {
		return nil, errors.New("missing refresh token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", f.ClientID)
	form.Set("client_secret", f.ClientSecret)
	form.Set("refresh_token", refreshToken)
	return f.post(ctx, form)
}

func (f *Flow) post(ctx context.Context, form url.Values) (*TokenBundle, error) {
	if f.ClientID == "" || f.ClientSecret == "" {
		return nil, errors.New("missing clientID or clientSecret")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ex := &ExchangeError{Status: resp.StatusCode}
		switch resp.StatusCode {
		case http.StatusBadRequest:
			// Surface whatever detail the server included with the rejection.
			var body struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(b, &body); err == nil && body.Message != "" {
				ex.Detail = body.Message
			} else {
				ex.Detail = "bad request"
			}
		case http.StatusUnauthorized:
			ex.Detail = "authentication error, check the client secret"
		}
		return nil, ex
	}
	var bundle TokenBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTokenResponse, err)
	}
	if bundle.AccessToken == "" {
		return nil, ErrMalformedTokenResponse
	}
	return &bundle, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
