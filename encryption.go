package energylens

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the AES-GCM nonce size.
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the PBKDF2 salt size.
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size.
	EncryptionKeySize = 32
	// PBKDF2Iterations is the key derivation work factor.
	PBKDF2Iterations = 100000
)

// sealedMagic prefixes every sealed archive bundle.
var sealedMagic = []byte("ELNS")

const sealedVersion = 1

// SealedHeaderSize is the size of the header in front of the nonce.
const SealedHeaderSize = 4 + 1 + EncryptionSaltSize

var (
	errNotSealed       = errors.New("archive bundle is not sealed")
	errCiphertextShort = errors.New("ciphertext too short")
)

// EncryptionConfig configures sealing of archived bundles.
type EncryptionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Key is a raw 32-byte AES-256 key. When empty, Password is stretched with PBKDF2.
	Key []byte `yaml:"-"`

	Password string `yaml:"password"`
}

// Encryptor seals and opens archive bundles with AES-GCM.
// A sealed bundle is magic | version | salt | nonce | ciphertext.
type Encryptor struct {
	gcm      cipher.AEAD
	salt     []byte
	password string
}

// NewEncryptor creates an encryptor. It returns nil, nil when sealing is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
	case cfg.Password != "":
		key = deriveKey(cfg.Password, salt)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt, password: cfg.Password}, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into a self-describing bundle.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, SealedHeaderSize+EncryptionNonceSize+len(plaintext)+e.gcm.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, sealedVersion)
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a bundle produced by Seal. Bundles sealed under another salt
// are opened by re-deriving the key from the password.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errNotSealed
	}
	salt := sealed[len(sealedMagic)+1 : SealedHeaderSize]
	body := sealed[SealedHeaderSize:]
	if len(body) < EncryptionNonceSize {
		return nil, errCiphertextShort
	}

	gcm := e.gcm
	if !bytes.Equal(salt, e.salt) && e.password != "" {
		var err error
		if gcm, err = newGCM(deriveKey(e.password, salt)); err != nil {
			return nil, err
		}
	}
	return gcm.Open(nil, body[:EncryptionNonceSize], body[EncryptionNonceSize:], nil)
}

// IsSealed reports whether data starts with a sealed bundle header.
func IsSealed(data []byte) bool {
	return len(data) >= SealedHeaderSize &&
		bytes.Equal(data[:len(sealedMagic)], sealedMagic) &&
		data[len(sealedMagic)] == sealedVersion
}
