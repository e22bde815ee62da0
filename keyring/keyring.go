// Package keyring provides secure credential storage with an ordered
// backend policy: the system secret service when available and enabled,
// falling back to an encrypted local file. The in-memory mapping is the
// write-through cache; the backend is the durable copy.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"github.com/yllada/ovpn3-manager/common"
)

const (
	keyIterations = 4096
	keyLength     = 32
)

// keySalt binds derived file-encryption keys to this application.
var keySalt = []byte("ovpn3-manager-credentials-v1")

// backend is one storage strategy for the serialized credential
// mapping. load returning an empty map with a nil error means the
// backend holds nothing, which is not a failure.
type backend interface {
	name() string
	load() (map[string]common.Credential, error)
	save(map[string]common.Credential) error
}

// Store implements common.CredentialStore over an ordered backend list.
// Secret values never appear in logs or error messages.
type Store struct {
	mu             sync.RWMutex
	creds          map[string]common.Credential
	secure         backend
	file           backend
	secureEnabled  bool
	lockedNotified bool
	onLockedNotice func(message string)
}

// NewStore creates a credential store. When secureEnabled is true the
// system secret service is preferred; the encrypted local file is the
// fallback either way.
func NewStore(secureEnabled bool) (*Store, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}

	return &Store{
		creds: make(map[string]common.Credential),
		secure: &secretServiceBackend{
			service: common.KeyringService,
			key:     common.KeyringKey,
		},
		file: &fileBackend{
			path: filepath.Join(configDir, common.CredentialsFileName),
			key:  deriveFileKey(),
		},
		secureEnabled: secureEnabled,
	}, nil
}

// SetLockedNoticeHandler installs a handler for the one-time notice
// raised when the secret service is locked or uninitialized.
func (s *Store) SetLockedNoticeHandler(fn func(message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLockedNotice = fn
}

// SetSecureEnabled changes which backend future saves and loads prefer.
// Existing data is not migrated between backends.
func (s *Store) SetSecureEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secureEnabled = enabled
}

// LoadAll reads the credential mapping from the preferred backend into
// memory. A locked secret service surfaces a one-time notice and falls
// through to the file store; any other secure-backend error falls
// through silently. Absence of data in both backends is not an error.
func (s *Store) LoadAll() (map[string]common.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.secureEnabled {
		m, err := s.secure.load()
		switch {
		case err == nil && len(m) > 0:
			s.creds = m
			return copyCreds(m), nil
		case errors.Is(err, common.ErrBackendLocked):
			s.noticeLockedLocked()
		case err != nil:
			common.LogDebug("secret service load failed, using file store: %v", err)
		}
	}

	m, err := s.file.load()
	if err != nil {
		s.creds = make(map[string]common.Credential)
		return copyCreds(s.creds), common.WrapError(err, "loading credential file")
	}
	if m == nil {
		m = make(map[string]common.Credential)
	}
	s.creds = m
	return copyCreds(m), nil
}

// Save updates the in-memory mapping first, then writes through to the
// preferred backend. A failed secure write still leaves memory and the
// file fallback consistent.
func (s *Store) Save(name string, cred common.Credential) error {
	s.mu.Lock()
	s.creds[name] = cred
	snapshot := copyCreds(s.creds)
	secureEnabled := s.secureEnabled
	s.mu.Unlock()

	if secureEnabled {
		err := s.secure.save(snapshot)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrBackendLocked) {
			s.mu.Lock()
			s.noticeLockedLocked()
			s.mu.Unlock()
		} else {
			common.LogWarn("secret service write failed, falling back to file store")
		}
	}

	if err := s.file.save(snapshot); err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}
	return nil
}

// Get looks up credentials in memory. It never performs I/O.
func (s *Store) Get(name string) (common.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[name]
	return cred, ok
}

// Delete removes credentials for a configuration and writes the updated
// mapping through with the same backend policy as Save.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	if _, ok := s.creds[name]; !ok {
		s.mu.Unlock()
		return common.ErrCredentialsNotFound
	}
	delete(s.creds, name)
	snapshot := copyCreds(s.creds)
	secureEnabled := s.secureEnabled
	s.mu.Unlock()

	if secureEnabled {
		if err := s.secure.save(snapshot); err == nil {
			return nil
		}
	}
	return s.file.save(snapshot)
}

// noticeLockedLocked fires the locked notice once per process. Callers
// must hold s.mu.
func (s *Store) noticeLockedLocked() {
	if s.lockedNotified {
		return
	}
	s.lockedNotified = true

	msg := "The system secret service is locked or unavailable. " +
		"Unlock your keyring to use it; credentials are kept in the " +
		"encrypted local store meanwhile."
	common.LogWarn("%s", msg)
	if s.onLockedNotice != nil {
		s.onLockedNotice(msg)
	}
}

func copyCreds(m map[string]common.Credential) map[string]common.Credential {
	out := make(map[string]common.Credential, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// secretServiceBackend stores the serialized mapping under one fixed
// service/key pair in the system secret service.
type secretServiceBackend struct {
	service string
	key     string
}

func (b *secretServiceBackend) name() string { return "secret-service" }

func (b *secretServiceBackend) load() (map[string]common.Credential, error) {
	payload, err := keyring.Get(b.service, b.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, classifyKeyringError(err)
	}

	var m map[string]common.Credential
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, common.WrapError(err, "decoding secret service payload")
	}
	return m, nil
}

func (b *secretServiceBackend) save(m map[string]common.Credential) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := keyring.Set(b.service, b.key, string(payload)); err != nil {
		return classifyKeyringError(err)
	}
	return nil
}

// classifyKeyringError maps locked/uninitialized secret-service errors
// onto the BackendLocked class that triggers user guidance.
func classifyKeyringError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") ||
		strings.Contains(msg, "dismissed") ||
		strings.Contains(msg, "no such interface") {
		return common.WrapError(common.ErrBackendLocked, err.Error())
	}
	return err
}

// fileBackend stores the mapping as AES-GCM encrypted JSON with
// owner-only permissions under the user's configuration directory.
type fileBackend struct {
	path string
	key  []byte
}

func (b *fileBackend) name() string { return "local-file" }

func (b *fileBackend) load() (map[string]common.Credential, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	plaintext, err := decrypt(data, b.key)
	if err != nil {
		return nil, common.WrapError(common.ErrDecryption, err.Error())
	}

	var m map[string]common.Credential
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, common.WrapError(err, "decoding credential file")
	}
	return m, nil
}

func (b *fileBackend) save(m map[string]common.Credential) error {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return err
	}

	encrypted, err := encrypt(plaintext, b.key)
	if err != nil {
		return err
	}

	// The temp-write-then-rename keeps a crash from leaving a partially
	// written secrets file behind with wrong permissions.
	return common.WriteFileAtomic(b.path, encrypted, 0600)
}

// deriveFileKey derives the file encryption key from machine-specific
// data, so the credential file is not portable between machines.
func deriveFileKey() []byte {
	hostname, _ := os.Hostname()
	seed := strings.Join([]string{
		common.KeyringService,
		hostname,
		machineID(),
		strings.TrimSpace(os.Getenv("USER")),
	}, "|")
	return pbkdf2.Key([]byte(seed), keySalt, keyIterations, keyLength, sha256.New)
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(data, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
