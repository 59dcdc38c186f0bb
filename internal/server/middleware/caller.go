package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/auctionhouse/internal/crypto"
)

// Request headers identifying the calling account.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// maxSignedBody bounds the body of a signed request. Larger bodies are
// rejected with 413.
const maxSignedBody = 1 << 20

// ReplayGuard remembers signatures already accepted. FirstSeen reports
// whether key is new and records it for ttl.
type ReplayGuard interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// memoryReplay is the process-local ReplayGuard used when none is
// configured.
type memoryReplay struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newMemoryReplay(now func() time.Time) *memoryReplay {
	return &memoryReplay{seen: make(map[string]time.Time), now: now}
}

func (m *memoryReplay) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

type callerKey struct{}

// CallerFrom returns the account attached to ctx by Caller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller attaches addr to ctx as the calling account.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerConfig controls how Caller authenticates accounts.
type CallerConfig struct {
	// RequireSignatures makes every request carrying X-Caller prove it with
	// an EIP-191 signature over crypto.RequestMessage.
	RequireSignatures bool
	// MaxSkew bounds the distance between X-Timestamp and now.
	MaxSkew time.Duration
	// Replay rejects a signed state-changing request seen before within
	// the skew window. Defaults to an in-process guard; replicas share
	// one through Redis.
	Replay ReplayGuard
	// Now defaults to time.Now.
	Now func() time.Time
}

// Caller returns middleware that resolves the X-Caller header into the
// request context. Requests without the header pass through without a
// caller; handlers that need one reject them.
func Caller(cfg CallerConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Replay == nil {
		cfg.Replay = newMemoryReplay(cfg.Now)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderCaller))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeStatus(w, http.StatusBadRequest, "invalid X-Caller address")
				return
			}
			caller := common.HexToAddress(raw)

			if cfg.RequireSignatures {
				if status, msg := verifyRequest(r, caller, cfg); status != 0 {
					writeStatus(w, status, msg)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verifyRequest checks the request signature and restores the body for the
// next handler. It returns a non-zero status on failure.
func verifyRequest(r *http.Request, caller common.Address, cfg CallerConfig) (int, string) {
	sig := r.Header.Get(HeaderSignature)
	tsRaw := r.Header.Get(HeaderTimestamp)
	if sig == "" || tsRaw == "" {
		return http.StatusUnauthorized, "missing request signature"
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return http.StatusBadRequest, "invalid X-Timestamp"
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.MaxSkew {
		return http.StatusUnauthorized, "request timestamp outside allowed window"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return http.StatusBadRequest, "unreadable request body"
		}
		r.Body.Close()
		if len(body) > maxSignedBody {
			return http.StatusRequestEntityTooLarge, "request body too large"
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	msg := crypto.RequestMessage(r.Method, r.URL.Path, ts, body)
	signer, err := crypto.RecoverAddress(msg, sig)
	if err != nil {
		return http.StatusUnauthorized, "invalid request signature"
	}
	if signer != caller {
		return http.StatusForbidden, "signature does not match X-Caller"
	}

	// A timestamp is accepted up to MaxSkew either side of now, so a
	// signed message stays usable for twice that. The key is the message,
	// so a re-encoded signature counts as the same request.
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		key := caller.Hex() + ":" + ethcrypto.Keccak256Hash(msg).Hex()
		first, err := cfg.Replay.FirstSeen(r.Context(), key, 2*cfg.MaxSkew)
		if err != nil {
			return http.StatusServiceUnavailable, "replay check unavailable"
		}
		if !first {
			return http.StatusUnauthorized, "request signature already used"
		}
	}
	return 0, ""
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
