package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// 密钥派生参数，与已存储的密文保持兼容，不能修改
const (
	credentialSalt       = "fixedSaltValue"
	credentialIterations = 65536
	credentialKeyLength  = 32
	credentialIVSize     = 12
)

var (
	// ErrEmptyPassphrase 未配置加密口令
	ErrEmptyPassphrase = errors.New("encryption passphrase is empty")
	// ErrCiphertextInvalid 密文格式或认证标签错误
	ErrCiphertextInvalid = errors.New("invalid ciphertext")
)

// CredentialCipher 邮箱密码的可逆加密。
// 格式: base64(iv[12] || AES-256-GCM 密文 || tag)
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher 由口令派生密钥（PBKDF2-HMAC-SHA256）
func NewCredentialCipher(passphrase string) (*CredentialCipher, error) {
	passphrase = strings.TrimSpace(passphrase)
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(credentialSalt), credentialIterations, credentialKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// Encrypt 使用随机 IV 加密
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, credentialIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.aead.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (c *CredentialCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	if len(raw) < credentialIVSize+c.aead.Overhead() {
		return "", ErrCiphertextInvalid
	}
	plain, err := c.aead.Open(nil, raw[:credentialIVSize], raw[credentialIVSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	return string(plain), nil
}
