// Package auth verifies bearer tokens on the admin API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Modes: dev accepts "owner:role" tokens, hmac verifies HS256 JWTs.
const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

// Verifier validates bearer tokens and extracts owner/role claims.
type Verifier struct {
	Mode       string
	HMACSecret []byte
	OwnerClaim string
	RoleClaim  string
	now        func() time.Time
}

// Principal is the caller of an admin endpoint.
type Principal struct {
	OwnerID string
	Role    string // admin, service, user
}

// IsAdmin reports whether the principal may see every owner's registrations.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

func NewVerifier(mode, hmacSecret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(hmacSecret),
		OwnerClaim: "sub",
		RoleClaim:  "role",
		now:        time.Now,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	switch v.Mode {
	case ModeDev:
		// token format: owner:role
		parts := strings.SplitN(token, ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return Principal{OwnerID: parts[0], Role: strings.ToLower(parts[1])}, nil
		}
		return Principal{}, errors.New("invalid dev token; expected owner:role")
	case ModeHMAC:
		return v.verifyHS256(token)
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	if len(v.HMACSecret) == 0 {
		return Principal{}, errors.New("hmac secret not configured")
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, err
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, err
	}
	if hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("bad signature")
	}

	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, errors.New("token expired")
	}
	owner, _ := claims[v.OwnerClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if owner == "" {
		return Principal{}, errors.New("missing owner claim")
	}
	if role == "" {
		role = "user"
	}
	return Principal{OwnerID: owner, Role: strings.ToLower(role)}, nil
}

// SignHS256 issues a token for the given claims. Used by tooling and tests.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	input := b64urlEncode(hdr) + "." + b64urlEncode(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + b64urlEncode(mac.Sum(nil)), nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func b64urlEncode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
