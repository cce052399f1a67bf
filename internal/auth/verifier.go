// Package auth verifies bearer tokens for the allocation API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// Roles understood by the API. Viewers read, dispatchers import and allocate,
// admins may also delete contracts.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

// Verifier validates bearer tokens and extracts the caller's role.
// Modes: dev (token is the role itself) and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	RoleClaim  string
	now        func() time.Time
}

type Principal struct {
	Subject string
	Role    string
}

// Can reports whether the principal holds one of roles. Admin holds every role.
func (p Principal) Can(roles ...string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(os.Getenv("AUTH_HMAC_SECRET")),
		RoleClaim:  envOr("AUTH_ROLE_CLAIM", "role"),
		now:        time.Now,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		role := strings.ToLower(strings.TrimSpace(token))
		if !knownRole(role) {
			return Principal{}, errors.New("invalid dev token; expected a role name")
		}
		return Principal{Subject: "dev", Role: role}, nil
	}
	if v.Mode != "hmac" {
		return Principal{}, errors.New("unsupported auth mode")
	}
	if len(v.HMACSecret) == 0 {
		return Principal{}, errors.New("AUTH_HMAC_SECRET not set")
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil {
		return Principal{}, err
	}
	if hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("bad signature")
	}

	var claims map[string]any
	if err := decodeSegment(segs[1], &claims); err != nil {
		return Principal{}, err
	}
	if exp, ok := claims["exp"].(float64); ok {
		now := time.Now
		if v.now != nil {
			now = v.now
		}
		if now().Unix() >= int64(exp) {
			return Principal{}, ErrExpiredToken
		}
	}
	role, _ := claims[v.RoleClaim].(string)
	role = strings.ToLower(role)
	if role == "" {
		role = RoleViewer
	}
	if !knownRole(role) {
		return Principal{}, errors.New("unknown role " + role)
	}
	sub, _ := claims["sub"].(string)
	return Principal{Subject: sub, Role: role}, nil
}

func knownRole(r string) bool {
	return r == RoleAdmin || r == RoleDispatcher || r == RoleViewer
}

func decodeSegment(seg string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(b, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}
