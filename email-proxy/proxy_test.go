package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"project-manager/config"
)

type upstreamCall struct {
	auth        string
	contentType string
	body        string
}

func newUpstream(t *testing.T, status int, contentType, body string) (*httptest.Server, chan upstreamCall) {
	t.Helper()
	calls := make(chan upstreamCall, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		calls <- upstreamCall{
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(data),
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func send(t *testing.T, cfg config.EmailProxyConfig, logger *log.Logger, key, payload string) *httptest.ResponseRecorder {
	t.Helper()
	e := newServer(cfg, logger)
	req := httptest.NewRequest(http.MethodPost, "/api/send-email", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:3000")
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSendEmailForwardsPayload(t *testing.T) {
	upstream, calls := newUpstream(t, http.StatusAccepted, "", "")
	cfg := config.EmailProxyConfig{UpstreamURL: upstream.URL, Timeout: time.Second}
	logger, _ := test.NewNullLogger()

	payload := `{"personalizations":[{"to":[{"email":"a@example.com"}]}],"subject":"hi"}`
	rec := send(t, cfg, logger, "SG.secret", payload)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected open CORS, got %q", got)
	}
	call := <-calls
	if call.auth != "Bearer SG.secret" {
		t.Fatalf("unexpected authorization %q", call.auth)
	}
	if call.contentType != "application/json" {
		t.Fatalf("unexpected content type %q", call.contentType)
	}
	if call.body != payload {
		t.Fatalf("payload changed: %q", call.body)
	}
}

func TestSendEmailRelaysErrorBody(t *testing.T) {
	errBody := `{"errors":[{"message":"The from address does not match a verified Sender Identity."}]}`
	upstream, _ := newUpstream(t, http.StatusForbidden, "application/json", errBody)
	cfg := config.EmailProxyConfig{UpstreamURL: upstream.URL, Timeout: time.Second}
	logger, hook := test.NewNullLogger()

	rec := send(t, cfg, logger, "SG.secret", `{}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec.Body.String() != errBody {
		t.Fatalf("expected verbatim body, got %q", rec.Body.String())
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning log, got %+v", entry)
	}
	if entry.Data["body"] != errBody {
		t.Fatalf("expected upstream body logged, got %v", entry.Data["body"])
	}
}

func TestSendEmailRequiresAPIKey(t *testing.T) {
	upstream, calls := newUpstream(t, http.StatusAccepted, "", "")
	cfg := config.EmailProxyConfig{UpstreamURL: upstream.URL, Timeout: time.Second}
	logger, _ := test.NewNullLogger()

	rec := send(t, cfg, logger, "", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	select {
	case <-calls:
		t.Fatal("upstream should not be called")
	default:
	}
}

func TestSendEmailUpstreamUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()
	cfg := config.EmailProxyConfig{UpstreamURL: url, Timeout: time.Second}
	logger, hook := test.NewNullLogger()

	rec := send(t, cfg, logger, "SG.secret", `{}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log, got %+v", entry)
	}
}

func TestSendEmailPreflight(t *testing.T) {
	e := newServer(config.EmailProxyConfig{UpstreamURL: "http://unused"}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/send-email", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", apiKeyHeader)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, apiKeyHeader) {
		t.Fatalf("expected %s allowed, got %q", apiKeyHeader, got)
	}
}
