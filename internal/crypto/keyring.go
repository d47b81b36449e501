package crypto

import (
	"fmt"
	"sync"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// KeyRing holds master secrets by key ID, separately from any ciphertext.
// One key is active for new encryptions; retired keys stay on the ring so
// old envelopes remain decryptable after rotation.
type KeyRing struct {
	mu       sync.RWMutex
	secrets  map[string][]byte
	activeID string
}

// NewKeyRing creates a ring with a single active key.
func NewKeyRing(keyID string, secret []byte) (*KeyRing, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key ID cannot be empty")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("master secret cannot be empty")
	}

	return &KeyRing{
		secrets:  map[string][]byte{keyID: append([]byte(nil), secret...)},
		activeID: keyID,
	}, nil
}

// ActiveKeyID returns the key ID used for new encryptions.
func (r *KeyRing) ActiveKeyID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Secret returns the master secret for the given key ID.
func (r *KeyRing) Secret(keyID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	secret, ok := r.secrets[keyID]
	if !ok {
		return nil, types.NewError(types.KEY_NOT_CONFIGURED,
			fmt.Sprintf("no master secret for key ID %q", keyID))
	}
	return secret, nil
}

// AddKey adds a secret under a new key ID and makes it the active key.
// The previous key stays on the ring for decryption of existing envelopes.
func (r *KeyRing) AddKey(keyID string, secret []byte) error {
	if keyID == "" {
		return fmt.Errorf("key ID cannot be empty")
	}
	if len(secret) == 0 {
		return fmt.Errorf("master secret cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.secrets[keyID]; exists {
		return fmt.Errorf("key ID %q already on ring", keyID)
	}

	r.secrets[keyID] = append([]byte(nil), secret...)
	r.activeID = keyID
	return nil
}
