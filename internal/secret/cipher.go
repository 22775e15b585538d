// Package secret 提供智能体私钥的对称加密存储。
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	xerrors "SwapAgent-Chain/internal/errors"
)

// KeySize 为 AES-256 所需的密钥长度。
const KeySize = 32

const CodeDecryptFailed xerrors.Code = "SECRET_DECRYPT_FAILED"

func init() {
	xerrors.Register(CodeDecryptFailed, xerrors.Attributes{
		Message:  "failed to decrypt secret",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Cipher 使用进程级密钥加解密私钥。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 校验密钥并构造加密器。密钥必须是 32 字节原文或 64 位十六进制字符串，
// 否则视为配置错误。
func NewCipher(key string) (*Cipher, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化加密算法失败")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化加密算法失败")
	}
	return &Cipher{aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	if key == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置私钥加密密钥")
	}
	if len(key) == KeySize*2 {
		if decoded, err := hex.DecodeString(key); err == nil {
			return decoded, nil
		}
	}
	if len(key) != KeySize {
		return nil, xerrors.New(xerrors.CodeConfiguration, "私钥加密密钥长度必须为 32 字节")
	}
	return []byte(key), nil
}

// Encrypt 加密明文，输出格式为 hex(iv):hex(ciphertext)。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "生成随机向量失败")
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 生成的密文。
func (c *Cipher) Decrypt(blob string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(blob, ":")
	if !ok {
		return "", xerrors.New(CodeDecryptFailed, "密文格式无效")
	}
	nonce, err := hex.DecodeString(ivHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", xerrors.New(CodeDecryptFailed, "密文向量无效")
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", xerrors.Wrap(CodeDecryptFailed, err, "密文编码无效")
	}
	plain, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", xerrors.Wrap(CodeDecryptFailed, err, "解密失败")
	}
	return string(plain), nil
}
