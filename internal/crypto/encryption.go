// Package crypto provides authenticated encryption for sensitive pattern
// content. Keys are derived from ring-held master secrets with scrypt;
// ciphertexts are AES-256-GCM with a fresh salt and nonce per call, and
// decryption fails closed on any authentication-tag mismatch.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

const (
	// KeySize is the size of encryption keys in bytes (256 bits for AES-256)
	KeySize = 32

	// NonceSize is the size of the AES-GCM nonce in bytes
	NonceSize = 12

	// SaltSize is the size of the key-derivation salt in bytes
	SaltSize = 32

	// ScryptN is the CPU/memory cost parameter (N)
	ScryptN = 32768

	// ScryptR is the block size parameter (r)
	ScryptR = 8

	// ScryptP is the parallelization parameter (p)
	ScryptP = 1
)

// EncryptedBlob is the storage envelope for ciphertext. Key material is never
// part of the envelope; KeyID names the ring entry that can decrypt it.
type EncryptedBlob struct {
	KeyID      string `json:"key_id"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encryptor is the interface the rest of the system uses for sensitive
// content. Implementations must provide authenticated encryption.
type Encryptor interface {
	// Encrypt encrypts plaintext under the named key (empty means the ring's
	// active key) and returns a self-describing envelope.
	Encrypt(plaintext []byte, keyID string) (EncryptedBlob, error)

	// Decrypt opens an envelope. It returns DECRYPT_AUTH_FAILED if the
	// authentication tag does not verify; partial plaintext is never returned.
	Decrypt(blob EncryptedBlob) ([]byte, error)
}

// KeyDeriver derives cryptographic keys from a master secret and salt.
// Derivation must be deterministic and computationally expensive.
type KeyDeriver interface {
	DeriveKey(masterKey, salt []byte) ([]byte, error)
}

// GenerateSalt generates a cryptographically secure random salt. The salt
// must be unique per encryption so the same master secret yields a different
// derived key every call.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate random salt: %w", err)
	}
	return salt, nil
}

// ScryptDeriver implements KeyDeriver using the scrypt key derivation
// function. Scrypt is memory-hard, resisting hardware brute-force attacks.
type ScryptDeriver struct {
	n      int
	r      int
	p      int
	keyLen int
}

// NewScryptDeriver creates a ScryptDeriver with secure default parameters
// (N=32768, r=8, p=1) producing 32-byte keys for AES-256.
func NewScryptDeriver() *ScryptDeriver {
	return &ScryptDeriver{
		n:      ScryptN,
		r:      ScryptR,
		p:      ScryptP,
		keyLen: KeySize,
	}
}

// DeriveKey derives a key from a master secret and salt using scrypt.
// The same inputs always produce the same output.
func (d *ScryptDeriver) DeriveKey(masterKey, salt []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("master key cannot be empty")
	}

	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: expected %d bytes, got %d bytes", SaltSize, len(salt))
	}

	key, err := scrypt.Key(masterKey, salt, d.n, d.r, d.p, d.keyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation failed: %w", err)
	}

	return key, nil
}

// Manager implements Encryptor over a KeyRing with AES-256-GCM.
type Manager struct {
	ring    *KeyRing
	deriver KeyDeriver
}

// NewManager creates an encryption manager over the given key ring, using
// scrypt key derivation.
func NewManager(ring *KeyRing) *Manager {
	return &Manager{ring: ring, deriver: NewScryptDeriver()}
}

// Encrypt encrypts plaintext under the named ring key. The nonce MUST be
// unique for every encryption with the same derived key; nonce reuse with
// GCM completely breaks the scheme, so both salt and nonce are freshly
// random per call.
func (m *Manager) Encrypt(plaintext []byte, keyID string) (EncryptedBlob, error) {
	if len(plaintext) == 0 {
		return EncryptedBlob{}, types.NewError(types.ENCRYPT_FAILED, "plaintext cannot be empty")
	}

	if keyID == "" {
		keyID = m.ring.ActiveKeyID()
	}
	masterKey, err := m.ring.Secret(keyID)
	if err != nil {
		return EncryptedBlob{}, err
	}

	salt, err := GenerateSalt()
	if err != nil {
		return EncryptedBlob{}, types.WrapError(types.ENCRYPT_FAILED, "salt generation", err)
	}

	derivedKey, err := m.deriver.DeriveKey(masterKey, salt)
	if err != nil {
		return EncryptedBlob{}, types.WrapError(types.ENCRYPT_FAILED, "key derivation", err)
	}

	gcm, err := newGCM(derivedKey)
	if err != nil {
		return EncryptedBlob{}, types.WrapError(types.ENCRYPT_FAILED, "cipher construction", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedBlob{}, types.WrapError(types.ENCRYPT_FAILED, "nonce generation", err)
	}

	// Seal appends the authentication tag; any tampering is detected at open.
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return EncryptedBlob{
		KeyID:      keyID,
		Nonce:      nonce,
		Salt:       salt,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt opens the envelope and verifies the authentication tag. The error
// intentionally does not distinguish a wrong key from tampered data.
func (m *Manager) Decrypt(blob EncryptedBlob) ([]byte, error) {
	if len(blob.Ciphertext) == 0 {
		return nil, types.NewError(types.DECRYPT_AUTH_FAILED, "ciphertext cannot be empty")
	}
	if len(blob.Nonce) != NonceSize {
		return nil, types.NewError(types.DECRYPT_AUTH_FAILED,
			fmt.Sprintf("invalid nonce size: expected %d bytes, got %d", NonceSize, len(blob.Nonce)))
	}
	if len(blob.Salt) != SaltSize {
		return nil, types.NewError(types.DECRYPT_AUTH_FAILED,
			fmt.Sprintf("invalid salt size: expected %d bytes, got %d", SaltSize, len(blob.Salt)))
	}

	masterKey, err := m.ring.Secret(blob.KeyID)
	if err != nil {
		return nil, err
	}

	derivedKey, err := m.deriver.DeriveKey(masterKey, blob.Salt)
	if err != nil {
		return nil, types.WrapError(types.DECRYPT_AUTH_FAILED, "key derivation", err)
	}

	gcm, err := newGCM(derivedKey)
	if err != nil {
		return nil, types.WrapError(types.DECRYPT_AUTH_FAILED, "cipher construction", err)
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		// Authentication failure: the data was tampered with or the key is
		// wrong. Nothing is returned either way.
		return nil, types.NewError(types.DECRYPT_AUTH_FAILED, "authentication tag mismatch")
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if gcm.NonceSize() != NonceSize {
		return nil, fmt.Errorf("unexpected GCM nonce size: got %d, expected %d", gcm.NonceSize(), NonceSize)
	}

	return gcm, nil
}
