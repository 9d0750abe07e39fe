package cryptutil

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(i * 2)
	}
	plaintext := []byte("header-and-payload-bytes-go-here")

	ct, err := Seal(key, nonce, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(ct) != len(plaintext)+TagSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ct), len(plaintext)+TagSize)
	}

	pt, err := Open(key, nonce, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("Open = %q, want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	ct, err := Seal(key, nonce, []byte("secret payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[0] ^= 0xFF

	if _, err := Open(key, nonce, ct); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	if _, err := Open(key, nonce, make([]byte, TagSize-1)); err == nil {
		t.Fatal("expected error for ciphertext shorter than the tag")
	}
}

func TestSealDetachedOpenDetachedRoundTrip(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range nonce {
		nonce[i] = byte(i * 3)
	}
	plaintext := []byte("header-and-payload-bytes-go-here")

	ct, tag, err := SealDetached(key, nonce, plaintext)
	if err != nil {
		t.Fatalf("SealDetached: %v", err)
	}
	if len(ct) != len(plaintext) {
		t.Fatalf("ciphertext length = %d, want %d (same length as plaintext)", len(ct), len(plaintext))
	}
	if len(tag) != TagSize {
		t.Fatalf("tag length = %d, want %d", len(tag), TagSize)
	}

	pt, err := OpenDetached(key, nonce, ct, tag)
	if err != nil {
		t.Fatalf("OpenDetached: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("OpenDetached = %q, want %q", pt, plaintext)
	}
}

func TestOpenDetachedRejectsTamperedTag(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	ct, tag, err := SealDetached(key, nonce, []byte("secret payload"))
	if err != nil {
		t.Fatalf("SealDetached: %v", err)
	}
	tag[0] ^= 0xFF

	if _, err := OpenDetached(key, nonce, ct, tag); err == nil {
		t.Fatal("expected authentication failure on tampered tag")
	}
}

func TestDeriveRootKeyDeterministic(t *testing.T) {
	secret := []byte("correct horse battery staple")
	salt := bytes.Repeat([]byte{0xAB}, 32)

	k1, err := DeriveRootKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveRootKey: %v", err)
	}
	k2, err := DeriveRootKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveRootKey: %v", err)
	}
	if k1 != k2 {
		t.Fatal("DeriveRootKey should be deterministic for the same secret and salt")
	}

	k3, err := DeriveRootKey(secret, bytes.Repeat([]byte{0xCD}, 32))
	if err != nil {
		t.Fatalf("DeriveRootKey: %v", err)
	}
	if k1 == k3 {
		t.Fatal("DeriveRootKey should differ across salts")
	}
}
