package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var fixedNow = time.Unix(1_700_000_000, 0)

func signedRequest(t *testing.T, s *crypto.Signer, method, path string, body []byte, ts int64) *http.Request {
	t.Helper()
	sig, err := s.SignRequest(method, path, body, ts)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set(HeaderAddress, s.Address().Hex())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, sig)
	return r
}

func echoCaller(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		caller, ok := CallerFrom(r.Context())
		if ok {
			w.Header().Set("X-Caller", caller.Hex())
		}
		w.Write(body)
	})
}

func TestSignature(t *testing.T) {
	signer, err := crypto.NewSignerFromHex(testKeyHex, 1)
	if err != nil {
		t.Fatal(err)
	}
	h := Signature(SignatureConfig{Domain: crypto.NewDomain(1), Now: func() time.Time { return fixedNow }})(echoCaller(t))
	body := []byte(`{"amount":1000000}`)

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedRequest(t, signer, http.MethodPost, "/api/markets/x/bets", body, fixedNow.Unix()))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		if w.Header().Get("X-Caller") != signer.Address().Hex() {
			t.Fatalf("caller = %q", w.Header().Get("X-Caller"))
		}
		if w.Body.String() != string(body) {
			t.Fatal("body was not restored for the handler")
		}
	})

	t.Run("replayed write", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedRequest(t, signer, http.MethodPost, "/api/markets/x/bets", body, fixedNow.Unix()))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct{ Error, Code string }
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Code != "unauthenticated" {
			t.Fatalf("body = %s, %v", w.Body, err)
		}
	})

	t.Run("repeated signed read", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, signedRequest(t, signer, http.MethodGet, "/api/markets", nil, fixedNow.Unix()))
			if w.Code != http.StatusOK {
				t.Fatalf("read %d status = %d", i, w.Code)
			}
		}
	})

	t.Run("stale", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedRequest(t, signer, http.MethodPost, "/api/x", body, fixedNow.Add(-10*time.Minute).Unix()))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		r := signedRequest(t, signer, http.MethodPost, "/api/x", body, fixedNow.Unix())
		r.Body = io.NopCloser(bytes.NewReader([]byte(`{"amount":9}`)))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("unsigned write", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/x", nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("unsigned read", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
		if w.Code != http.StatusOK || w.Header().Get("X-Caller") != "" {
			t.Fatalf("status = %d caller = %q", w.Code, w.Header().Get("X-Caller"))
		}
	})
}

func TestAPIKey(t *testing.T) {
	h := APIKey("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		header, value string
		want          int
	}{
		{"", "", http.StatusUnauthorized},
		{"Authorization", "Bearer secret", http.StatusOK},
		{"X-API-Key", "secret", http.StatusOK},
		{"X-API-Key", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
		if tt.header != "" {
			r.Header.Set(tt.header, tt.value)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != tt.want {
			t.Errorf("%s=%q: status = %d, want %d", tt.header, tt.value, w.Code, tt.want)
		}
	}
}

type stubLimiter struct {
	decision domain.RateDecision
	err      error
	keys     []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (domain.RateDecision, error) {
	l.keys = append(l.keys, key)
	return l.decision, l.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	deny := &stubLimiter{decision: domain.RateDecision{RetryAfter: 1500 * time.Millisecond}}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	RateLimit(deny, 10, time.Minute, logger)(ok).ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if deny.keys[0] != "api:ip:203.0.113.7" {
		t.Fatalf("key = %q", deny.keys[0])
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q", got)
	}

	allow := &stubLimiter{decision: domain.RateDecision{Allowed: true, Remaining: 7}}
	w = httptest.NewRecorder()
	RateLimit(allow, 10, time.Minute, logger)(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Fatalf("status = %d remaining = %q", w.Code, w.Header().Get("X-RateLimit-Remaining"))
	}

	broken := &stubLimiter{err: errors.New("redis down")}
	w = httptest.NewRecorder()
	RateLimit(broken, 10, time.Minute, logger)(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("limiter error should fail open, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := CORS([]string{"https://app.pricebet.io", "*.example.com"})(ok)

	cases := []struct {
		origin string
		allow  bool
	}{
		{"https://app.pricebet.io", true},
		{"https://beta.example.com", true},
		{"http://beta.example.com", false},
		{"https://evil.io", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
		r.Header.Set("Origin", tc.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		got := w.Header().Get("Access-Control-Allow-Origin")
		if (got == tc.origin) != tc.allow {
			t.Errorf("origin %s: allow-origin = %q", tc.origin, got)
		}
		if w.Code != http.StatusOK {
			t.Errorf("origin %s: status %d", tc.origin, w.Code)
		}
	}

	pre := httptest.NewRequest(http.MethodOptions, "/api/markets/x/bets", nil)
	pre.Header.Set("Origin", "https://app.pricebet.io")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, pre)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight missing allow-methods")
	}
}

func TestLoggingRequestID(t *testing.T) {
	var seen string
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen == "" || w.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("generated id %q, header %q", seen, w.Header().Get(HeaderRequestID))
	}

	const given = "0b9f8d4e-3c1a-4f5e-9a7b-2d6c8e1f0a3b"
	r = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	r.Header.Set(HeaderRequestID, given)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != given {
		t.Fatalf("request id = %q, want %q", seen, given)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	r.Header.Set(HeaderRequestID, "not-a-uuid\nX-Injected: 1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen == "" || seen == r.Header.Get(HeaderRequestID) {
		t.Fatalf("malformed id kept: %q", seen)
	}
}

type failingNonces struct{}

func (failingNonces) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("down")
}

func TestSignatureNonceStoreDown(t *testing.T) {
	signer, err := crypto.NewSignerFromHex(testKeyHex, 1)
	if err != nil {
		t.Fatal(err)
	}
	h := Signature(SignatureConfig{
		Domain: crypto.NewDomain(1),
		Nonces: failingNonces{},
		Now:    func() time.Time { return fixedNow },
	})(echoCaller(t))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, signer, http.MethodPost, "/api/x", []byte(`{}`), fixedNow.Unix()))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestMemoryNonces(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	n := NewMemoryNonces()
	n.now = func() time.Time { return now }

	if ok, _ := n.Claim(ctx, "k", time.Minute); !ok {
		t.Fatal("first claim rejected")
	}
	if ok, _ := n.Claim(ctx, "k", time.Minute); ok {
		t.Fatal("second claim accepted")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := n.Claim(ctx, "other", time.Minute); !ok {
		t.Fatal("other key rejected")
	}
	if _, held := n.seen["k"]; held {
		t.Fatal("expired key not pruned")
	}
	if ok, _ := n.Claim(ctx, "k", time.Minute); !ok {
		t.Fatal("claim after expiry rejected")
	}
}

func TestWriteAuthErrorIsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeUnauthorized(w, "bad\x00header \"value\"")
	var resp struct{ Error, Code string }
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body, err)
	}
	if resp.Error != "bad\x00header \"value\"" || resp.Code != "unauthenticated" || w.Code != http.StatusUnauthorized {
		t.Fatalf("resp = %+v status %d", resp, w.Code)
	}
}
