package websub

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

var signatureHashes = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// VerifySignature checks an X-Hub-Signature header ("sha256=<hex>") against
// the HMAC of body under secret.
func VerifySignature(secret string, body []byte, header string) error {
	method, digest, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || digest == "" {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	newHash, ok := signatureHashes[strings.ToLower(method)]
	if !ok {
		return fmt.Errorf("%w: unsupported method %q", ErrBadSignature, method)
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces a header value in the format VerifySignature accepts.
func Sign(method, secret string, body []byte) string {
	newHash, ok := signatureHashes[method]
	if !ok {
		newHash, method = sha256.New, "sha256"
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return method + "=" + hex.EncodeToString(mac.Sum(nil))
}
