// Package sign wraps the Ed25519 primitive for ESMP use: keys and
// signatures travel base64 (std) encoded on the wire and verification is
// a pure function over the canonical bytes.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	SignatureSize  = ed25519.SignatureSize
	PrivateKeySize = ed25519.PrivateKeySize
)

type PrivateKey ed25519.PrivateKey
type PublicKey ed25519.PublicKey

// GenerateKey returns a fresh Ed25519 private key.
func GenerateKey() (PrivateKey, error) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	return PrivateKey(sk), err
}

// Sign signs message with the private key.
func (key PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(key), message)
}

// Public returns the public half of the key.
func (key PrivateKey) Public() (PublicKey, bool) {
	pk, ok := ed25519.PrivateKey(key).Public().(ed25519.PublicKey)
	return PublicKey(pk), ok
}

// Verify checks an Ed25519 signature over message.
func (pk PublicKey) Verify(message, sig []byte) bool {
	if len(pk) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), message, sig)
}

// Encode returns the wire (base64) form of the public key.
func (pk PublicKey) Encode() string {
	return base64.StdEncoding.EncodeToString(pk)
}

// EncodeSignature returns the wire form of a raw signature.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodePublicKey decodes a wire public key.
func DecodePublicKey(b64 string) (PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(b) != PublicKeySize {
		return nil, errors.New("sign: bad public key length")
	}
	return PublicKey(b), nil
}

// VerifyWire verifies a base64 signature by a base64 public key over
// message. Any decoding failure counts as verification failure, never an
// error: a garbled key or signature is indistinguishable from a forgery.
func VerifyWire(pubkeyB64, sigB64 string, message []byte) bool {
	pk, err := DecodePublicKey(pubkeyB64)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return pk.Verify(message, sig)
}
