package auth

import "testing"

func TestHeadersIncludeKeyAndSignature(t *testing.T) {
	s := New("key-123", "c2VjcmV0LWJ5dGVz") // base64 of "secret-bytes"
	headers, err := s.Headers("GET", "/orders", "")
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if headers["X-API-KEY"] != "key-123" {
		t.Fatalf("expected api key header, got %q", headers["X-API-KEY"])
	}
	if headers["X-API-SIGNATURE"] == "" {
		t.Fatalf("expected non-empty signature")
	}
	if headers["X-API-TIMESTAMP"] == "" {
		t.Fatalf("expected non-empty timestamp")
	}
}

func TestSignDeterministicForFixedTimestamp(t *testing.T) {
	s := New("key", "c2VjcmV0")
	sig1, err := s.sign("1700000000", "POST", "/orders", `{"qty":1}`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := s.sign("1700000000", "POST", "/orders", `{"qty":1}`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signature for identical inputs")
	}
}

func TestSignDiffersOnBodyChange(t *testing.T) {
	s := New("key", "c2VjcmV0")
	sig1, _ := s.sign("1700000000", "POST", "/orders", `{"qty":1}`)
	sig2, _ := s.sign("1700000000", "POST", "/orders", `{"qty":2}`)
	if sig1 == sig2 {
		t.Fatalf("expected signature to change when body changes")
	}
}

func TestSignFallsBackToRawSecretOnDecodeFailure(t *testing.T) {
	s := New("key", "not-valid-base64!!!")
	if _, err := s.sign("1700000000", "GET", "/orders", ""); err != nil {
		t.Fatalf("expected fallback signing to succeed, got %v", err)
	}
}
