// Package crypto - сквозное шифрование беседы: X25519 + HKDF-SHA256 + AES-256-GCM.
// Ключевой материал хранится в локальном KV клиента.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// keyLen - длина ключа X25519 и AES-256 (в байтах).
const keyLen = 32

const (
	sharedInfo = "chat-v1"
	nonceLen   = 12
	tagLen     = 16

	identityPrivateKey = "identity/private"
	identityPublicKey  = "identity/public"
)

var (
	ErrInvalidPartnerKey = errors.New("invalid partner public key")
	ErrMissingSharedKey  = errors.New("no shared key for partner")
	ErrCorruptSharedKey  = errors.New("stored shared key is corrupt")
	ErrInvalidCiphertext = errors.New("invalid ciphertext encoding")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// KeyStore - минимальный KV для ключей. Get возвращает ok=false, если ключа нет.
type KeyStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// Core хранит пару ключей устройства и производные ключи бесед одного локального пользователя.
type Core struct {
	store    KeyStore
	localUID string

	mu sync.Mutex // создание пары ключей
}

func NewCore(store KeyStore, localUID string) *Core {
	return &Core{store: store, localUID: localUID}
}

func sharedKeyName(localUID, partnerUID string) string {
	return "shared/" + localUID + "/" + partnerUID
}

// IdentityPublicKey возвращает base64 публичного ключа, создавая пару при первом вызове.
func (c *Core) IdentityPublicKey() (string, error) {
	_, pub, err := c.identity()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

func (c *Core) identity() (priv, pub []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	privB64, ok, err := c.store.Get(identityPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load identity: %w", err)
	}
	if ok {
		priv, err = base64.StdEncoding.DecodeString(privB64)
		if err != nil || len(priv) != keyLen {
			return nil, nil, errors.New("stored identity key is corrupted")
		}
		pub, err = curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}

	priv = make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	if err := c.store.Put(identityPrivateKey, base64.StdEncoding.EncodeToString(priv)); err != nil {
		return nil, nil, fmt.Errorf("save identity: %w", err)
	}
	if err := c.store.Put(identityPublicKey, base64.StdEncoding.EncodeToString(pub)); err != nil {
		return nil, nil, fmt.Errorf("save identity: %w", err)
	}
	return priv, pub, nil
}

// EstablishSharedKey выводит ключ беседы с партнёром и сохраняет его.
// Обе стороны получают один и тот же ключ независимо от того, кто начал.
func (c *Core) EstablishSharedKey(partnerPublicKey, partnerUID string) error {
	partnerPub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(partnerPublicKey))
	if err != nil || len(partnerPub) != keyLen {
		return ErrInvalidPartnerKey
	}
	priv, pub, err := c.identity()
	if err != nil {
		return err
	}

	// X25519 отвергает точки малого порядка (нулевой результат)
	secret, err := curve25519.X25519(priv, partnerPub)
	if err != nil {
		return ErrInvalidPartnerKey
	}

	pair := []string{base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(partnerPub)}
	sort.Strings(pair)
	salt := []byte(strings.Join(pair, "|"))

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(sharedInfo)), key); err != nil {
		return fmt.Errorf("derive shared key: %w", err)
	}
	return c.store.Put(sharedKeyName(c.localUID, partnerUID), base64.StdEncoding.EncodeToString(key))
}

// HasSharedKey сообщает, выведен ли пригодный ключ для партнёра.
// Повреждённый ключ считается отсутствующим, чтобы его вывели заново.
func (c *Core) HasSharedKey(partnerUID string) bool {
	_, err := c.sharedKey(partnerUID)
	return err == nil
}

// ClearSharedKey удаляет ключ беседы (после разрыва пары старые шифртексты больше не читаются).
func (c *Core) ClearSharedKey(partnerUID string) error {
	return c.store.Delete(sharedKeyName(c.localUID, partnerUID))
}

func (c *Core) sharedKey(partnerUID string) ([]byte, error) {
	raw, ok, err := c.store.Get(sharedKeyName(c.localUID, partnerUID))
	if err != nil {
		return nil, fmt.Errorf("load shared key: %w", err)
	}
	if !ok {
		return nil, ErrMissingSharedKey
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != keyLen {
		return nil, ErrCorruptSharedKey
	}
	return key, nil
}

func (c *Core) aead(partnerUID string) (cipher.AEAD, error) {
	key, err := c.sharedKey(partnerUID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext ключом беседы. Результат: base64(nonce || ciphertext || tag).
func (c *Core) Encrypt(plaintext []byte, partnerUID string) (string, error) {
	gcm, err := c.aead(partnerUID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt расшифровывает результат Encrypt.
func (c *Core) Decrypt(b64, partnerUID string) ([]byte, error) {
	gcm, err := c.aead(partnerUID)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil || len(raw) < nonceLen+tagLen {
		return nil, ErrInvalidCiphertext
	}
	plain, err := gcm.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
