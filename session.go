package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// CryptoSession is this peer's key material. It is the "external session
// crypto" collaborator spec.md §1 treats as opaque and out of scope for the
// bridge's core logic — but the core must drive it through a concrete
// interface to be runnable, and spec.md §6 pins the exact scheme (NaCl box,
// with anonymous-box sealing for request_source), so this file implements
// it against golang.org/x/crypto/nacl/box, the same dependency family
// (golang.org/x/crypto) the retrieval pack's SSD-Foundation-hermes-proxy
// uses for its own session crypto.
type CryptoSession struct {
	publicKey  [32]byte
	privateKey [32]byte
	sessionID  string
}

// NewCryptoSession generates a fresh NaCl box key pair.
func NewCryptoSession() (*CryptoSession, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key pair: %w", err)
	}
	s := &CryptoSession{publicKey: *pub, privateKey: *priv}
	s.sessionID = hex.EncodeToString(s.publicKey[:])
	return s, nil
}

// SessionID is this peer's hex-encoded public key, the identifier the
// relay uses as a client_id.
func (s *CryptoSession) SessionID() string { return s.sessionID }

// PublicKey returns a copy of the raw 32-byte public key.
func (s *CryptoSession) PublicKey() [32]byte { return s.publicKey }

// Encrypt authenticates and encrypts plaintext for receiverPub using a
// fresh random nonce, returning nonce||ciphertext the way NaCl box framing
// conventionally does (spec.md §6 leaves the exact framing to "the session
// library"; nonce-prefixed is the standard NaCl convention).
func (s *CryptoSession) Encrypt(plaintext []byte, receiverPub [32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, &receiverPub, &s.privateKey)
	return sealed, nil
}

// Decrypt reverses Encrypt: ciphertext is nonce||sealed, senderPub is the
// remote peer's public key used as the "from" identity.
func (s *CryptoSession) Decrypt(ciphertext []byte, senderPub [32]byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, NewBridgeError(KindParseOrDecrypt, "ciphertext shorter than nonce", nil)
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := box.Open(nil, ciphertext[24:], &nonce, &senderPub, &s.privateKey)
	if !ok {
		return nil, NewBridgeError(KindParseOrDecrypt, "box authentication failed", nil)
	}
	return plaintext, nil
}

// RestoreCryptoSession rebuilds a CryptoSession from a previously persisted
// hex-encoded private key, deriving the matching public key and sessionId.
// Embedding applications that keep a session alive across restarts (the
// open question spec.md §9 leaves to the caller) use this instead of
// generating a fresh key pair every run.
func RestoreCryptoSession(privateKeyHex string) (*CryptoSession, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	var priv [32]byte
	copy(priv[:], raw)

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	s := &CryptoSession{publicKey: pub, privateKey: priv}
	s.sessionID = hex.EncodeToString(s.publicKey[:])
	return s, nil
}

// PrivateKeyHex exposes this session's private key for persistence by the
// embedding application. The SDK itself never writes key material to disk.
func (s *CryptoSession) PrivateKeyHex() string {
	return hex.EncodeToString(s.privateKey[:])
}

// PublicKeyLength is the NaCl box public/ephemeral key size, used by
// OpenAnonymousSeal to split the ephemeral key prefix off a sealed blob
// (spec.md §6: "ephemeral key is the first publicKeyLength bytes").
const PublicKeyLength = 32

// OpenAnonymousSeal decrypts an anonymous-box sealed blob addressed to this
// session: ephemeralPubKey || box(plaintext, nonce, ephemeralPubKey,
// receiverSecretKey), where nonce = blake2b(ephemeralPubKey||receiverPub,
// 24 bytes), exactly as spec.md §6 specifies for request_source.
func (s *CryptoSession) OpenAnonymousSeal(sealed []byte) ([]byte, error) {
	if len(sealed) < PublicKeyLength {
		return nil, NewBridgeError(KindParseOrDecrypt, "sealed blob shorter than ephemeral key", nil)
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], sealed[:PublicKeyLength])
	ciphertext := sealed[PublicKeyLength:]

	nonce, err := anonymousSealNonce(ephemeralPub, s.publicKey)
	if err != nil {
		return nil, err
	}

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &ephemeralPub, &s.privateKey)
	if !ok {
		return nil, NewBridgeError(KindParseOrDecrypt, "anonymous box authentication failed", nil)
	}
	return plaintext, nil
}

// SealAnonymous is the sender side of OpenAnonymousSeal, provided for tests
// and for callers constructing request_source payloads.
func SealAnonymous(plaintext []byte, receiverPub [32]byte) ([]byte, error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key pair: %w", err)
	}
	nonce, err := anonymousSealNonce(*ephemeralPub, receiverPub)
	if err != nil {
		return nil, err
	}
	ciphertext := box.Seal(nil, plaintext, &nonce, &receiverPub, ephemeralPriv)
	sealed := make([]byte, 0, PublicKeyLength+len(ciphertext))
	sealed = append(sealed, ephemeralPub[:]...)
	sealed = append(sealed, ciphertext...)
	return sealed, nil
}

func anonymousSealNonce(ephemeralPub, receiverPub [32]byte) ([24]byte, error) {
	var nonce [24]byte
	h, err := blake2b.New(24, nil)
	if err != nil {
		return nonce, fmt.Errorf("init blake2b: %w", err)
	}
	h.Write(ephemeralPub[:])
	h.Write(receiverPub[:])
	copy(nonce[:], h.Sum(nil))
	return nonce, nil
}

// DecodeHexPublicKey parses a hex-encoded public key such as a clientId or
// sessionId into the [32]byte form the crypto functions above expect.
func DecodeHexPublicKey(hexKey string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return out, fmt.Errorf("decode hex public key: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
