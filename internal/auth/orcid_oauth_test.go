package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestProvider(t *testing.T, baseURL, apiURL string) *ORCIDProvider {
	t.Helper()
	var buf bytes.Buffer
	return NewORCIDProvider(ORCIDConfig{
		ClientID:     "APP-TEST",
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/api/verify/orcid/callback",
		BaseURL:      baseURL,
		APIURL:       apiURL,
	}, &http.Client{Timeout: time.Second}, newTestLogger(&buf))
}

func TestORCIDProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := newTestProvider(t, "", "")

	raw := provider.GetLoginURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", raw, err)
	}
	if u.Host != "orcid.org" || u.Path != "/oauth/authorize" {
		t.Errorf("unexpected authorize endpoint: %s", raw)
	}

	q := u.Query()
	tests := []struct {
		param string
		want  string
	}{
		{"client_id", "APP-TEST"},
		{"redirect_uri", "http://localhost:8080/api/verify/orcid/callback"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "/authenticate"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

func TestORCIDProvider_ExchangeCode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("path = %s, want /oauth/token", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("code") != "auth-code" || r.PostForm.Get("client_secret") != "test-secret" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "orcid-access-token",
			"token_type":   "bearer",
			"expires_in":   631138518,
			"scope":        "/authenticate",
			"name":         "Jane Smith",
			"orcid":        "0000-0002-1825-0097",
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	tok, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tok.AccessToken != "orcid-access-token" || tok.ORCID != "0000-0002-1825-0097" || tok.Name != "Jane Smith" {
		t.Errorf("unexpected token: %+v", tok)
	}
}

func TestORCIDProvider_ExchangeCode_RejectedCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Invalid authorization code",
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	_, err := provider.ExchangeCode(context.Background(), "bad-code")
	var ext *model.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("want ExternalServiceError, got %v", err)
	}
	if ext.Service != "orcid" || ext.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected error: %+v", ext)
	}
}

func TestORCIDProvider_ExchangeCode_MissingORCID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "orcid-access-token",
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	if _, err := provider.ExchangeCode(context.Background(), "auth-code"); !model.IsExternalServiceError(err) {
		t.Fatalf("want ExternalServiceError, got %v", err)
	}
}

func TestORCIDProvider_ExchangeCode_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	if _, err := provider.ExchangeCode(context.Background(), "auth-code"); !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

func TestORCIDProvider_FetchProfile_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3.0/0000-0002-1825-0097/person" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer orcid-access-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": {"given-names": {"value": "Jane"}, "family-name": {"value": "Smith"}},
			"emails": {"email": [{"email": "other@example.com"}, {"email": "jane@snu.ac.kr", "primary": true}]}
		}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	profile, err := provider.FetchProfile(context.Background(), "0000-0002-1825-0097", "orcid-access-token")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if profile.Name != "Jane Smith" {
		t.Errorf("Name = %q, want Jane Smith", profile.Name)
	}
	if profile.Email != "jane@snu.ac.kr" {
		t.Errorf("Email = %q, want primary address", profile.Email)
	}
	if profile.ORCID != "0000-0002-1825-0097" {
		t.Errorf("ORCID = %q", profile.ORCID)
	}
}

func TestORCIDProvider_FetchProfile_NoBearerAndPrivateEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header should be omitted without a bearer token")
		}
		w.Write([]byte(`{"name": {"credit-name": {"value": "J. Smith"}}, "emails": {"email": []}}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, server.URL)

	profile, err := provider.FetchProfile(context.Background(), "0000-0002-1825-0097", "")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if profile.Name != "J. Smith" || profile.Email != "" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestORCIDProvider_FetchProfile_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var buf bytes.Buffer
	provider := NewORCIDProvider(ORCIDConfig{APIURL: server.URL}, server.Client(), newTestLogger(&buf))

	_, err := provider.FetchProfile(context.Background(), "0000-0002-1825-0097", "")
	if !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
	if !strings.Contains(buf.String(), `"service":"orcid"`) {
		t.Error("failure should be logged with the service name")
	}
}

func TestORCIDProvider_FetchProfile_InvalidORCID(t *testing.T) {
	provider := newTestProvider(t, "", "")

	if _, err := provider.FetchProfile(context.Background(), "../../admin", ""); err == nil {
		t.Fatal("expected error for malformed ORCID iD")
	}
}
