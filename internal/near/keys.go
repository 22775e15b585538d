package near

import (
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"strings"

	xerrors "SwapAgent-Chain/internal/errors"

	"github.com/mr-tron/base58"
)

const ed25519Prefix = "ed25519:"

// KeyPair is an ed25519 signing key together with its public half.
// String and LogValue only ever expose the public key.
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "生成密钥对失败")
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// ParseKeyPair decodes a secret key in the "ed25519:<base58>" format. Both the
// 64 byte expanded form and the 32 byte seed form are accepted.
func ParseKeyPair(secret string) (*KeyPair, error) {
	raw, err := decodeKey(secret)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(raw)
		return &KeyPair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	case ed25519.SeedSize:
		priv := ed25519.NewKeyFromSeed(raw)
		return &KeyPair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	default:
		return nil, xerrors.New(CodeInvalidKey, "私钥长度无效")
	}
}

// ParsePublicKey decodes an "ed25519:<base58>" public key.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := decodeKey(value)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, xerrors.New(CodeInvalidKey, "公钥长度无效")
	}
	return ed25519.PublicKey(raw), nil
}

func decodeKey(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, ed25519Prefix) {
		return nil, xerrors.New(CodeInvalidKey, "仅支持 ed25519 密钥")
	}
	raw, err := base58.Decode(strings.TrimPrefix(trimmed, ed25519Prefix))
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "密钥编码无效")
	}
	return raw, nil
}

// PublicKey returns the raw public key bytes.
func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.public
}

// PublicKeyString returns the public key as "ed25519:<base58>".
func (k *KeyPair) PublicKeyString() string {
	return ed25519Prefix + base58.Encode(k.public)
}

// SecretKeyString returns the secret key as "ed25519:<base58>". The result
// must only be handed to the secret store.
func (k *KeyPair) SecretKeyString() string {
	return ed25519Prefix + base58.Encode(k.private)
}

// Sign signs the message with the private key.
func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

func (k *KeyPair) String() string {
	return k.PublicKeyString()
}

// LogValue implements slog.LogValuer.
func (k *KeyPair) LogValue() slog.Value {
	return slog.StringValue(k.PublicKeyString())
}
