package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_BareHex(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"action":"create"}`)
	if err := verifySignature(secret, body, sign(secret, body)); err != nil {
		t.Fatalf("verifySignature() = %v, want nil", err)
	}
}

func TestVerifySignature_GitHubPrefixed(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"action":"create"}`)
	if err := verifySignature(secret, body, "sha256="+sign(secret, body)); err != nil {
		t.Fatalf("verifySignature() = %v, want nil", err)
	}
}

func TestVerifySignature_Mismatch(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"action":"create"}`)
	err := verifySignature(secret, body, sign([]byte("wrong"), body))
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("verifySignature() = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	err := verifySignature([]byte("s3cr3t"), []byte("{}"), "")
	if !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("verifySignature() = %v, want ErrSignatureMissing", err)
	}
}

func TestVerifySlackSignature(t *testing.T) {
	secret := []byte("slack-secret")
	body := []byte(`{"action":"create"}`)
	timestamp := "1700000000"

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	header := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if err := verifySlackSignature(secret, timestamp, body, header); err != nil {
		t.Fatalf("verifySlackSignature() = %v, want nil", err)
	}
	if err := verifySlackSignature(secret, "1700000001", body, header); err == nil {
		t.Fatal("verifySlackSignature() with wrong timestamp = nil, want error")
	}
}
