// Package webhook implements the Webhook Ingestor (C11): an HTTP receiver
// that verifies per-provider signatures, deduplicates deliveries by id,
// matches a configured route, renders a prompt template from the payload,
// and calls into the Fleet Manager's trigger operation.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned by verifySignature when the computed
// HMAC doesn't match the header's.
var ErrSignatureMismatch = errors.New("webhook: signature mismatch")

// ErrSignatureMissing is returned when the configured signature header is
// absent from the request.
var ErrSignatureMissing = errors.New("webhook: signature header missing")

// verifySignature checks an HMAC-SHA256 signature over the raw body
// against header, supporting both a bare-hex digest (Linear-Signature
// style) and a "sha256=<hex>" prefixed digest (X-Hub-Signature-256
// style). Comparison is constant-time.
func verifySignature(secret []byte, body []byte, header string) error {
	if header == "" {
		return ErrSignatureMissing
	}
	header = strings.TrimPrefix(header, "sha256=")

	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

// verifySlackSignature checks Slack's timestamped signing scheme: the
// signed message is "v0:<timestamp>:<body>", and the header is
// "v0=<hex>". Callers are expected to reject stale timestamps themselves
// (replay window); this only checks the digest.
func verifySlackSignature(secret []byte, timestamp string, body []byte, header string) error {
	if header == "" {
		return ErrSignatureMissing
	}
	header = strings.TrimPrefix(header, "v0=")

	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}
