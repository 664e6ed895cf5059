package webexapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestClassifyCallbackError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"access_denied", ErrUserDeclined},
		{"invalid_scope", ErrInvalidScope},
		{"server_error", ErrUpstreamServer},
	}
	for _, tt := range tests {
		if err := ClassifyCallbackError(tt.code); !errors.Is(err, tt.want) {
			t.Errorf("ClassifyCallbackError(%q) = %v, want %v", tt.code, err, tt.want)
		}
	}
	if err := ClassifyCallbackError("temporarily_unavailable"); err == nil {
		t.Error("unknown code should still be an error")
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	link, err := BuildAuthorizeURL("https://webexapis.com/v1/authorize", "cid", "https://relay.example.com/auth", "spark:calls_read spark:people_read", "room-1")
	if err != nil {
		t.Fatalf("BuildAuthorizeURL: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "cid" {
		t.Errorf("unexpected query: %v", q)
	}
	if q.Get("state") != "room-1" {
		t.Errorf("state = %q, want room-1", q.Get("state"))
	}
	if q.Get("scope") != "spark:calls_read spark:people_read" {
		t.Errorf("scope = %q", q.Get("scope"))
	}

	if _, err := BuildAuthorizeURL("https://webexapis.com/v1/authorize", "", "uri", "", ""); err == nil {
		t.Error("missing clientID should error")
	}
}

func TestBuildAuthorizeURLCommaScopes(t *testing.T) {
	link, err := BuildAuthorizeURL("https://a/authorize", "cid", "https://b/auth", "scope1,scope2", "")
	if err != nil {
		t.Fatalf("BuildAuthorizeURL: %v", err)
	}
	u, _ := url.Parse(link)
	if got := u.Query().Get("scope"); got != "scope1 scope2" {
		t.Errorf("scope = %q, want space separated", got)
	}
}

func newFlow(tokenURL string) *Flow {
	return &Flow{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
		RedirectURI:  "https://relay.example.com/auth",
	}
}

func TestExchangeCode(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":1209600,"refresh_token_expires_in":7776000}`))
	}))
	defer srv.Close()

	bundle, err := newFlow(srv.URL).ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if bundle.AccessToken != "at" || bundle.RefreshToken != "rt" {
		t.Errorf("bundle = %+v", bundle)
	}
	if bundle.ExpiresIn != 1209600 || bundle.RefreshTokenExpiresIn != 7776000 {
		t.Errorf("expiries = %d/%d", bundle.ExpiresIn, bundle.RefreshTokenExpiresIn)
	}
	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "the-code" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm.Get("redirect_uri") != "https://relay.example.com/auth" {
		t.Errorf("redirect_uri = %q", gotForm.Get("redirect_uri"))
	}
}

func TestExchangeCodeStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"bad request with message", http.StatusBadRequest, `{"message":"The authorization code is invalid"}`, "The authorization code is invalid"},
		{"bad request opaque body", http.StatusBadRequest, `nonsense`, "bad request"},
		{"unauthorized", http.StatusUnauthorized, ``, "authentication error, check the client secret"},
		{"server error", http.StatusInternalServerError, ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newFlow(srv.URL).ExchangeCode(context.Background(), "code")
			var exchange *ExchangeError
			if !errors.As(err, &exchange) {
				t.Fatalf("err = %v, want ExchangeError", err)
			}
			if exchange.Status != tt.status {
				t.Errorf("status = %d, want %d", exchange.Status, tt.status)
			}
			if exchange.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", exchange.Detail, tt.wantDetail)
			}
		})
	}
}

func TestExchangeCodeMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing access token", `{"refresh_token":"rt"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newFlow(srv.URL).ExchangeCode(context.Background(), "code")
			if !errors.Is(err, ErrMalformedTokenResponse) {
				t.Errorf("err = %v, want ErrMalformedTokenResponse", err)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "old-rt" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600}`))
	}))
	defer srv.Close()

	bundle, err := newFlow(srv.URL).Refresh(context.Background(), "old-rt")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if bundle.AccessToken != "new-at" {
		t.Errorf("bundle = %+v", bundle)
	}
}

func TestFlowValidation(t *testing.T) {
	f := newFlow("http://example.invalid")
	if _, err := f.ExchangeCode(context.Background(), ""); err == nil {
		t.Error("empty code should error")
	}
	if _, err := f.Refresh(context.Background(), ""); err == nil {
		t.Error("empty refresh token should error")
	}
	bare := &Flow{TokenURL: "http://example.invalid"}
	if _, err := bare.ExchangeCode(context.Background(), "code"); err == nil {
		t.Error("missing client credentials should error")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()
	got := ComputeExpiry(3600)
	if d := got.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(3600) off by %v", d-time.Hour)
	}
	// Unknown lifetime falls back to an hour.
	got = ComputeExpiry(0)
	if d := got.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(0) = %v from now", d)
	}
}

func TestExchangeErrorMessage(t *testing.T) {
	e := &ExchangeError{Status: 400, Detail: "bad code"}
	if !strings.Contains(e.Error(), "400") || !strings.Contains(e.Error(), "bad code") {
		t.Errorf("Error() = %q", e.Error())
	}
}
