package security

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func testKey(t *testing.T) {
	t.Helper()
	if err := SetKeyHex(hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))); err != nil {
		t.Fatalf("set key: %v", err)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	testKey(t)
	pt := []byte("12 Main St#example.org")
	ct, err := Encrypt(pt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ct, pt) {
		t.Fatal("ciphertext contains plaintext")
	}
	got, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch: %q", got)
	}
}

func TestDecryptRejectsTamper(t *testing.T) {
	testKey(t)
	ct, err := Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := Decrypt(ct); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestSetKeyHexRejectsBadLength(t *testing.T) {
	if err := SetKeyHex("abcd"); err == nil {
		t.Fatal("short key accepted")
	}
	if err := SetKeyHex("zz"); err == nil {
		t.Fatal("non-hex key accepted")
	}
}
