package jwt

import (
	"testing"
	"time"
)

func TestPeekReadsRole(t *testing.T) {
	tok, err := Sign([]byte("s3cret"), "42", "r@example.com", "rider", time.Hour)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	claims, err := Peek(tok)
	if err != nil {
		t.Fatalf("Peek() failed: %v", err)
	}
	if claims.Role != "rider" || claims.UserID != "42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestExpired(t *testing.T) {
	tok, err := Sign([]byte("s3cret"), "42", "r@example.com", "rider", time.Minute)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if Expired(tok, time.Now()) {
		t.Fatal("fresh token reported as expired")
	}
	if !Expired(tok, time.Now().Add(2*time.Minute)) {
		t.Fatal("token past exp not reported as expired")
	}
	if Expired("opaque-token", time.Now()) {
		t.Fatal("opaque token must never be considered expired")
	}
}
