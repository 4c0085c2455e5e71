// Package blind implements the bridge-blinding cipher: encrypting the
// target relay address so the first-hop bridge cannot see it, only the
// bridge holding the matching static key can.
package blind

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of an X25519 key in bytes.
	KeySize = 32

	// hkdfInfo is the domain-separation context string for key derivation.
	hkdfInfo = "tor-wasm-bridge-blind-v1"

	// fixedNonce is safe only because each ephemeral keypair, and
	// therefore each derived AES key, is used to encrypt exactly once.
	fixedNonce = "bridge-blind"
)

// Encrypt blinds relayAddr ("host:port") under bridgeBPubKey, returning a
// URL-safe base64 blob of ephemeral_pubkey(32) || ciphertext.
func Encrypt(bridgeBPubKey [KeySize]byte, relayAddr string) (string, error) {
	var ephPriv, ephPub [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return "", fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	shared, err := ecdh(ephPriv, bridgeBPubKey)
	if err != nil {
		return "", err
	}

	aesKey, err := deriveKey(shared)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, []byte(fixedNonce), []byte(relayAddr), nil)

	blob := make([]byte, 0, KeySize+len(ciphertext))
	blob = append(blob, ephPub[:]...)
	blob = append(blob, ciphertext...)

	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Decrypt recovers the relay address from a blob produced by Encrypt,
// given Bridge B's static private key. This side of the cipher runs on
// the bridge, not the client, but lives here so the roundtrip is
// testable from one package.
func Decrypt(bridgeBPrivKey [KeySize]byte, blob string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(raw) < KeySize+16 {
		return "", fmt.Errorf("blob too short: %d bytes", len(raw))
	}

	var ephPub [KeySize]byte
	copy(ephPub[:], raw[:KeySize])
	ciphertext := raw[KeySize:]

	shared, err := ecdh(bridgeBPrivKey, ephPub)
	if err != nil {
		return "", err
	}

	aesKey, err := deriveKey(shared)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, []byte(fixedNonce), ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func ecdh(priv, pub [KeySize]byte) ([KeySize]byte, error) {
	var shared [KeySize]byte
	var zero [KeySize]byte
	if pub == zero {
		return shared, fmt.Errorf("invalid public key: zero key")
	}
	curve25519.ScalarMult(&shared, &priv, &pub)
	if shared == zero {
		return shared, fmt.Errorf("invalid ECDH result: low-order point")
	}
	return shared, nil
}

func deriveKey(shared [KeySize]byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, shared[:], nil, []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateKeypair produces a static X25519 keypair for Bridge B.
func GenerateKeypair() (priv, pub [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate private key: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}
