package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Pricebet-Address"
	HeaderTimestamp = "X-Pricebet-Timestamp"
	HeaderSignature = "X-Pricebet-Signature"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the caller the signature middleware authenticated.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// SignatureConfig configures request signature verification.
type SignatureConfig struct {
	Domain crypto.Domain
	// MaxSkew bounds |now - timestamp|.
	MaxSkew time.Duration
	// Nonces remembers signed writes for 2*MaxSkew so each one is accepted
	// once. Nil uses an in-process store.
	Nonces domain.NonceStore
	Now    func() time.Time
}

// Signature verifies request signatures and stores the caller in the request
// context. Unsigned reads pass through anonymously; unsigned writes, any
// request with a bad signature and a repeated signed write are rejected
// with 401.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonces == nil {
		cfg.Nonces = NewMemoryNonces()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				if isRead(r.Method) {
					next.ServeHTTP(w, r)
					return
				}
				writeUnauthorized(w, "missing request signature")
				return
			}

			caller, digest, err := verify(r, cfg, sig)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			if !isRead(r.Method) {
				fresh, err := cfg.Nonces.Claim(r.Context(), caller.Hex()+":"+hex.EncodeToString(digest), 2*cfg.MaxSkew)
				if err != nil {
					writeAuthError(w, http.StatusServiceUnavailable, "unavailable", "replay check unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "request already used")
					return
				}
			}
			noteCaller(r.Context(), caller.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verify checks the signature and returns the caller with the signed digest.
func verify(r *http.Request, cfg SignatureConfig, sig string) (common.Address, []byte, error) {
	addrHex := r.Header.Get(HeaderAddress)
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, nil, errors.New("invalid caller address")
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return common.Address{}, nil, errors.New("invalid request timestamp")
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.MaxSkew {
		return common.Address{}, nil, errors.New("request timestamp outside allowed window")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return common.Address{}, nil, errors.New("unreadable request body")
		}
		if len(body) > maxSignedBody {
			return common.Address{}, nil, errors.New("request body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	caller := common.HexToAddress(addrHex)
	req := crypto.Request{
		Caller:    caller,
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      body,
		Timestamp: ts,
	}
	if err := cfg.Domain.Verify(req, sig); err != nil {
		return common.Address{}, nil, errors.New("invalid request signature")
	}
	return caller, cfg.Domain.Digest(req), nil
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// APIKey gates every request on a static key sent as a Bearer token or in
// X-API-Key. An empty key disables the check.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthenticated", msg)
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{msg, code})
}
