package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// 执行器共享密钥的静态加密
// 主密钥经HKDF衍生出AEAD密钥，随机nonce前置在密文上，整体base64入库

var (
	ErrBadMasterKey  = errors.New("master key must be 32 bytes hex")
	ErrBadCiphertext = errors.New("ciphertext malformed")
)

var kdfInfo = []byte("tradewire-executor-secret")

type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox 从hex主密钥构造，主密钥固定32字节
func NewSecretBox(masterKeyHex string) (*SecretBox, error) {
	master, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(master) != 32 {
		return nil, ErrBadMasterKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, master, nil, kdfInfo), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: aead}, nil
}

// Seal 加密并编码，每次调用用新的随机nonce
func (b *SecretBox) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := b.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open 解码并解密
func (b *SecretBox) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrBadCiphertext
	}
	return b.aead.Open(nil, raw[:ns], raw[ns:], nil)
}
