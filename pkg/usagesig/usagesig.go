// Package usagesig signs and verifies usage report bodies with HMAC-SHA256
// over their RFC 8785 canonical JSON form.
package usagesig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 form of a JSON document.
func Canonicalize(body []byte) ([]byte, error) {
	out, err := jcs.Transform(body)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Sign returns the hex HMAC-SHA256 of the canonical form of body.
func Sign(body, key []byte) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignValue marshals v and signs it. The returned body is what must be sent.
func SignValue(v any, key []byte) (body []byte, signature string, err error) {
	body, err = json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal: %w", err)
	}

	signature, err = Sign(body, key)
	if err != nil {
		return nil, "", err
	}
	return body, signature, nil
}

// Verify reports whether signature matches body. Comparison is constant time
// and key order or whitespace in body do not matter.
func Verify(body, key []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(body)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), want)
}
