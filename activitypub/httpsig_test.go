package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	}))
}

func signedTestRequest(t *testing.T, privateKey *rsa.PrivateKey, keyId string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", activityStreamsMediaType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "example.com")

	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func TestParsePrivateKeyRoundtrip(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
	if _, err := ParsePrivateKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKeyRoundtrip(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	parsed, err := ParsePublicKey(publicKeyToPEM(t, publicKey))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestSignAndVerifyRequest(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	keyId := "https://myserver.com/users/alice#main-key"
	body := []byte(`{"type":"Create"}`)

	req := signedTestRequest(t, privateKey, keyId, body)

	// Recreate the request because signing consumes the body.
	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	req2.Header = req.Header.Clone()

	gotKeyId, err := VerifyRequest(req2, publicKeyToPEM(t, publicKey))
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if gotKeyId != keyId {
		t.Errorf("Expected keyId %q, got %q", keyId, gotKeyId)
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	_, otherPublicKey := generateTestKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := signedTestRequest(t, privateKey, "https://myserver.com/users/alice#main-key", body)

	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	req2.Header = req.Header.Clone()

	if _, err := VerifyRequest(req2, publicKeyToPEM(t, otherPublicKey)); err == nil {
		t.Error("Expected verification to fail with the wrong key")
	}
}

func TestKeyIdOf(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	keyId := "https://myserver.com/users/alice#main-key"
	body := []byte(`{}`)

	req := signedTestRequest(t, privateKey, keyId, body)

	got, err := KeyIdOf(req)
	if err != nil {
		t.Fatalf("KeyIdOf failed: %v", err)
	}
	if got != keyId {
		t.Errorf("Expected keyId %q, got %q", keyId, got)
	}
}

func TestKeyIdOfUnsignedRequest(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if _, err := KeyIdOf(req); err == nil {
		t.Error("Expected error for request without signature")
	}
}
