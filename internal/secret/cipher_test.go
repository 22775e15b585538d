package secret

import (
	"strings"
	"testing"

	xerrors "SwapAgent-Chain/internal/errors"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(strings.Repeat("k", KeySize))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	blob, err := c.Encrypt("ed25519:secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(blob, "secret") || strings.Count(blob, ":") != 1 {
		t.Fatalf("unexpected blob format: %s", blob)
	}

	other, _ := c.Encrypt("ed25519:secret")
	if other == blob {
		t.Fatalf("expected a fresh iv per encryption")
	}

	plain, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "ed25519:secret" {
		t.Fatalf("unexpected plaintext: %s", plain)
	}
}

func TestCipherAcceptsHexKey(t *testing.T) {
	if _, err := NewCipher(strings.Repeat("ab", KeySize)); err != nil {
		t.Fatalf("hex key should be accepted: %v", err)
	}
}

func TestCipherRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "short", strings.Repeat("x", 33)} {
		_, err := NewCipher(key)
		if err == nil {
			t.Fatalf("expected error for key length %d", len(key))
		}
		if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
			t.Fatalf("expected configuration error, got %s", xerrors.CodeOf(err))
		}
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	c, _ := NewCipher(strings.Repeat("k", KeySize))
	blob, _ := c.Encrypt("payload")
	iv, data, _ := strings.Cut(blob, ":")
	tampered := iv + ":" + strings.Repeat("0", len(data))

	if _, err := c.Decrypt(tampered); xerrors.CodeOf(err) != CodeDecryptFailed {
		t.Fatalf("expected decrypt failure, got %v", err)
	}
	if _, err := c.Decrypt("no-separator"); err == nil {
		t.Fatalf("expected format error")
	}
}
