package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// errForbidden is the only error a signature check returns, so callers
// cannot learn which part of the check failed.
var errForbidden = errors.New("forbidden")

// signature verifies deliveries to one endpoint.
type signature struct {
	header string
	secret string
}

// check compares the HMAC-SHA256 of body against the endpoint header in
// constant time. "sha256=<hex>" and bare "<hex>" are both accepted.
func (s signature) check(h http.Header, body []byte) error {
	got := h.Get(s.header)
	if s.secret == "" || got == "" {
		return errForbidden
	}
	mac, err := hex.DecodeString(strings.TrimPrefix(got, "sha256="))
	if err != nil || !hmac.Equal(mac, digest(s.secret, body)) {
		return errForbidden
	}
	return nil
}

func digest(secret string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return m.Sum(nil)
}

// Sign returns the header value a sender puts on body, "sha256=<hex>".
func Sign(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(digest(secret, body))
}
