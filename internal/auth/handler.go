package auth

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxTokenBody = 1 << 16

type HandlerConfig struct {
	EnvironmentID string
	AccessKey     string
	TTL           time.Duration
	RPS           float64
	Burst         int

	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header is believed. Other peers are keyed by their
	// own address.
	TrustedProxies []string
}

// TokenHandler issues editor cloud tokens. It keeps no state beyond the
// per-client rate limiters.
type TokenHandler struct {
	environmentID string
	accessKey     []byte
	ttl           time.Duration
	limiter       *limiterPool
	proxies       []netip.Prefix
	now           func() time.Time
}

func NewTokenHandler(cfg HandlerConfig) *TokenHandler {
	return &TokenHandler{
		environmentID: cfg.EnvironmentID,
		accessKey:     []byte(cfg.AccessKey),
		ttl:           cfg.TTL,
		limiter:       &limiterPool{rps: cfg.RPS, burst: cfg.Burst},
		proxies:       parseProxies(cfg.TrustedProxies),
		now:           time.Now,
	}
}

type tokenRequest struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Content-Type", "text/plain")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodPost:
	default:
		header.Set("Allow", "GET, POST, OPTIONS")
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.limiter.Allow(h.clientKey(r)) {
		writeText(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	if h.environmentID == "" || len(h.accessKey) == 0 {
		log.Error().Msg("token endpoint: missing environment id or access key")
		writeText(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	req := readTokenRequest(r)
	claims := NewClaims(h.environmentID, User{ID: req.UserID, Name: req.UserName, Email: req.UserEmail}, h.now(), h.ttl)
	token, err := IssueToken(h.accessKey, claims)
	if err != nil {
		log.Error().Err(err).Msg("token generation failed")
		writeText(w, http.StatusInternalServerError, "Token generation failed")
		return
	}
	log.Info().Str("user_id", claims.Subject).Str("env", h.environmentID).Msg("token issued")
	writeText(w, http.StatusOK, token)
}

// readTokenRequest reads identity from the query string, then lets a JSON
// POST body override it. A body that does not parse is ignored.
func readTokenRequest(r *http.Request) tokenRequest {
	q := r.URL.Query()
	req := tokenRequest{
		UserID:    q.Get("userId"),
		UserName:  q.Get("userName"),
		UserEmail: q.Get("userEmail"),
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return req
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
	if err != nil || len(data) == 0 {
		return req
	}
	var body tokenRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return req
	}
	if body.UserID != "" {
		req.UserID = body.UserID
	}
	if body.UserName != "" {
		req.UserName = body.UserName
	}
	if body.UserEmail != "" {
		req.UserEmail = body.UserEmail
	}
	return req
}

// clientKey names the client for rate limiting. X-Forwarded-For is only
// followed when the peer is a trusted proxy; the nearest hop that is not
// itself a trusted proxy is used.
func (h *TokenHandler) clientKey(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !h.trusted(peer) {
		return peer
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !h.trusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}

func (h *TokenHandler) trusted(host string) bool {
	if len(h.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func parseProxies(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			log.Warn().Str("entry", raw).Msg("token endpoint: ignoring invalid trusted proxy")
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
