package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := DeriveKey("token")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveKey("token")
	if err != nil {
		t.Fatal(err)
	}
	if *a != *b {
		t.Fatalf("same token derived different keys")
	}
	c, _ := DeriveKey("other")
	if *a == *c {
		t.Fatalf("different tokens derived the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, _ := DeriveKey("token")
	plain := []byte(`{"type":"COMMAND","command":"get_history"}`)

	ct, err := Seal(plain, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(ct, plain) {
		t.Fatalf("ciphertext contains plaintext")
	}

	back, err := Open(ct, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, plain) {
		t.Fatalf("round trip mismatch: %q", back)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key, _ := DeriveKey("token")
	ct, err := Seal([]byte("payload"), key)
	if err != nil {
		t.Fatal(err)
	}

	ct[len(ct)-1] ^= 0xff
	if _, err := Open(ct, key); err == nil {
		t.Fatalf("tampered ciphertext decrypted")
	}

	if _, err := Open([]byte("short"), key); err == nil {
		t.Fatalf("truncated ciphertext decrypted")
	}

	other, _ := DeriveKey("other")
	ct, _ = Seal([]byte("payload"), key)
	if _, err := Open(ct, other); err == nil {
		t.Fatalf("wrong key decrypted")
	}
}
