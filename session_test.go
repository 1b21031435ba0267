package bridge

import (
	"bytes"
	"testing"
)

// ============================================================================
// NewCryptoSession / RestoreCryptoSession
// ============================================================================

func TestNewCryptoSession(t *testing.T) {
	s, err := NewCryptoSession()
	if err != nil {
		t.Fatalf("NewCryptoSession: %v", err)
	}
	if len(s.SessionID()) != 64 {
		t.Fatalf("expected a 64-char hex sessionId, got %d chars", len(s.SessionID()))
	}
}

func TestRestoreCryptoSession(t *testing.T) {
	original, err := NewCryptoSession()
	if err != nil {
		t.Fatalf("NewCryptoSession: %v", err)
	}

	restored, err := RestoreCryptoSession(original.PrivateKeyHex())
	if err != nil {
		t.Fatalf("RestoreCryptoSession: %v", err)
	}

	if restored.SessionID() != original.SessionID() {
		t.Fatalf("restored sessionId %s != original %s", restored.SessionID(), original.SessionID())
	}
}

func TestRestoreCryptoSession_BadInput(t *testing.T) {
	t.Run("not hex", func(t *testing.T) {
		if _, err := RestoreCryptoSession("not-hex"); err == nil {
			t.Fatal("expected error for non-hex input")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, err := RestoreCryptoSession("aabb"); err == nil {
			t.Fatal("expected error for short key")
		}
	})
}

// ============================================================================
// Encrypt / Decrypt round trip
// ============================================================================

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := NewCryptoSession()
	if err != nil {
		t.Fatalf("NewCryptoSession alice: %v", err)
	}
	bob, err := NewCryptoSession()
	if err != nil {
		t.Fatalf("NewCryptoSession bob: %v", err)
	}

	plaintext := []byte(`{"method":"connect","params":{"hello":"world"}}`)

	ciphertext, err := alice.Encrypt(plaintext, bob.PublicKey())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := bob.Decrypt(ciphertext, alice.PublicKey())
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("decrypted %q != original %q", decrypted, plaintext)
	}
}

func TestDecrypt_WrongSender(t *testing.T) {
	alice, _ := NewCryptoSession()
	bob, _ := NewCryptoSession()
	mallory, _ := NewCryptoSession()

	ciphertext, err := alice.Encrypt([]byte("secret"), bob.PublicKey())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := bob.Decrypt(ciphertext, mallory.PublicKey()); err == nil {
		t.Fatal("expected decryption to fail against the wrong sender key")
	}
}

func TestDecrypt_ShortCiphertext(t *testing.T) {
	bob, _ := NewCryptoSession()
	alice, _ := NewCryptoSession()
	if _, err := bob.Decrypt([]byte("short"), alice.PublicKey()); err == nil {
		t.Fatal("expected error for ciphertext shorter than a nonce")
	}
}

// ============================================================================
// Anonymous seal round trip (request_source)
// ============================================================================

func TestAnonymousSealRoundTrip(t *testing.T) {
	receiver, err := NewCryptoSession()
	if err != nil {
		t.Fatalf("NewCryptoSession: %v", err)
	}

	plaintext := []byte(`{"origin":"https://example.com","ip":"1.2.3.4","time":1700000000,"user_agent":"test-agent"}`)

	sealed, err := SealAnonymous(plaintext, receiver.PublicKey())
	if err != nil {
		t.Fatalf("SealAnonymous: %v", err)
	}

	opened, err := receiver.OpenAnonymousSeal(sealed)
	if err != nil {
		t.Fatalf("OpenAnonymousSeal: %v", err)
	}

	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened %q != original %q", opened, plaintext)
	}
}

func TestOpenAnonymousSeal_WrongReceiver(t *testing.T) {
	receiver, _ := NewCryptoSession()
	other, _ := NewCryptoSession()

	sealed, err := SealAnonymous([]byte("secret"), receiver.PublicKey())
	if err != nil {
		t.Fatalf("SealAnonymous: %v", err)
	}

	if _, err := other.OpenAnonymousSeal(sealed); err == nil {
		t.Fatal("expected the wrong receiver to fail opening the seal")
	}
}

func TestOpenAnonymousSeal_Truncated(t *testing.T) {
	receiver, _ := NewCryptoSession()
	if _, err := receiver.OpenAnonymousSeal([]byte("short")); err == nil {
		t.Fatal("expected error for a blob shorter than the ephemeral key")
	}
}

// ============================================================================
// DecodeHexPublicKey
// ============================================================================

func TestDecodeHexPublicKey(t *testing.T) {
	s, _ := NewCryptoSession()
	key, err := DecodeHexPublicKey(s.SessionID())
	if err != nil {
		t.Fatalf("DecodeHexPublicKey: %v", err)
	}
	if key != s.PublicKey() {
		t.Fatal("decoded key does not match original public key")
	}
}

func TestDecodeHexPublicKey_BadInput(t *testing.T) {
	t.Run("not hex", func(t *testing.T) {
		if _, err := DecodeHexPublicKey("zz"); err == nil {
			t.Fatal("expected error for non-hex string")
		}
	})
	t.Run("wrong length", func(t *testing.T) {
		if _, err := DecodeHexPublicKey("aabb"); err == nil {
			t.Fatal("expected error for a key that isn't 32 bytes")
		}
	})
}
