// Package vault stores per-user session secrets as authenticated
// ciphertext in the external record store.
//
// The blob layout is nonce(12) || authTag(16) || ciphertext, base64-encoded.
// Decryption fails closed: any corruption or tag mismatch surfaces as
// xerrors.ErrDecryption, never as partial data.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/xerrors"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// Cookie is one captured session secret in browser-cookie shape.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// SessionState is the bundle of secrets captured from an interactive
// login. It is handed to the browser driver as a value for the duration of
// one attempt and never retained afterwards.
type SessionState struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"capturedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Vault encrypts, stores, and retrieves session state.
type Vault struct {
	key     []byte
	records store.Records

	// userLocks serializes stores per user so concurrent writes never
	// interleave.
	userLocks sync.Map // userID -> *sync.Mutex

	// failures counts consecutive decryption failures per user; the entry
	// is invalidated after the second one.
	mu       sync.Mutex
	failures map[string]int
}

// New creates a vault from the configured key material. keyMaterial is
// either a base64-encoded 32-byte key or an operator passphrase from
// which a key is derived with argon2id.
func New(keyMaterial string, records store.Records) (*Vault, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("vault key material is required")
	}

	key, err := base64.StdEncoding.DecodeString(keyMaterial)
	if err != nil || len(key) != keySize {
		key = deriveKey(keyMaterial)
	}

	return &Vault{
		key:      key,
		records:  records,
		failures: make(map[string]int),
	}, nil
}

// deriveKey turns an operator passphrase into a 32-byte key. The salt is
// fixed per key-material version so the same passphrase always yields the
// same key across processes.
func deriveKey(passphrase string) []byte {
	salt := sha256.Sum256([]byte("xpost.vault.v1"))
	return argon2.IDKey([]byte(passphrase), salt[:], 1, 64*1024, 4, keySize)
}

// Store encrypts the session state and overwrites the user's vault entry.
// Concurrent stores for the same user are serialized.
func (v *Vault) Store(ctx context.Context, userID string, state SessionState) error {
	lock := v.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	blob, err := v.encrypt(state)
	if err != nil {
		return fmt.Errorf("encrypt session state: %w", err)
	}

	rec := store.VaultRecord{
		UserID:        userID,
		EncryptedBlob: blob,
		ExpiresAt:     state.ExpiresAt,
	}
	if err := v.records.PutVault(ctx, rec); err != nil {
		return fmt.Errorf("persist vault entry: %w", err)
	}

	v.resetFailures(userID)
	return nil
}

// Load decrypts and returns the user's session state. Missing entries
// return xerrors.ErrNoSession; tampered or wrongly-keyed blobs return
// xerrors.ErrDecryption and count toward invalidation.
func (v *Vault) Load(ctx context.Context, userID string) (SessionState, error) {
	rec, err := v.records.GetVault(ctx, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return SessionState{}, xerrors.ErrNoSession
		}
		return SessionState{}, fmt.Errorf("load vault entry: %w", err)
	}

	state, err := v.decrypt(rec.EncryptedBlob)
	if err != nil {
		if v.recordFailure(userID) >= 2 {
			// Second consecutive failure: the entry is unusable, drop it
			// so the caller is forced to re-capture.
			_ = v.records.DeleteVault(ctx, userID)
			v.resetFailures(userID)
		}
		return SessionState{}, xerrors.ErrDecryption
	}

	v.resetFailures(userID)
	return state, nil
}

// Invalidate removes the user's vault entry.
func (v *Vault) Invalidate(ctx context.Context, userID string) error {
	lock := v.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := v.records.DeleteVault(ctx, userID); err != nil {
		return fmt.Errorf("invalidate vault entry: %w", err)
	}
	v.resetFailures(userID)
	return nil
}

func (v *Vault) encrypt(state SessionState) (string, error) {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aesgcm.Seal(nil, nonce, plaintext, nil)

	// Seal appends the tag to the ciphertext; the stored layout places it
	// between nonce and ciphertext instead.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

func (v *Vault) decrypt(blobB64 string) (SessionState, error) {
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return SessionState{}, err
	}
	if len(blob) < nonceSize+tagSize {
		return SessionState{}, fmt.Errorf("blob too short: %d bytes", len(blob))
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ct := blob[nonceSize+tagSize:]

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return SessionState{}, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return SessionState{}, err
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aesgcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return SessionState{}, err
	}

	var state SessionState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return SessionState{}, err
	}
	return state, nil
}

func (v *Vault) lockFor(userID string) *sync.Mutex {
	actual, _ := v.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (v *Vault) recordFailure(userID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[userID]++
	return v.failures[userID]
}

func (v *Vault) resetFailures(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.failures, userID)
}
