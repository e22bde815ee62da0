package keyring

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yllada/ovpn3-manager/common"
)

// fakeBackend records saves and replays canned load results.
type fakeBackend struct {
	label   string
	data    map[string]common.Credential
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeBackend) name() string { return f.label }

func (f *fakeBackend) load() (map[string]common.Credential, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.data, nil
}

func (f *fakeBackend) save(m map[string]common.Credential) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.data = m
	return nil
}

func newTestStore(t *testing.T, secureEnabled bool) (*Store, *fakeBackend, *fileBackend) {
	t.Helper()
	secure := &fakeBackend{label: "secret-service"}
	file := &fileBackend{
		path: filepath.Join(t.TempDir(), common.CredentialsFileName),
		key:  deriveFileKey(),
	}
	return &Store{
		creds:         make(map[string]common.Credential),
		secure:        secure,
		file:          file,
		secureEnabled: secureEnabled,
	}, secure, file
}

func TestFileBackendRoundTrip(t *testing.T) {
	b := &fileBackend{
		path: filepath.Join(t.TempDir(), common.CredentialsFileName),
		key:  deriveFileKey(),
	}

	want := map[string]common.Credential{
		"office.ovpn": {Username: "alice", Secret: "s3cret"},
		"home.ovpn":   {Username: "bob", Secret: "hunter2"},
	}
	if err := b.save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := b.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for name, cred := range want {
		if got[name] != cred {
			t.Errorf("entry %q = %+v, want %+v", name, got[name], cred)
		}
	}
}

func TestFileBackendPermissions(t *testing.T) {
	b := &fileBackend{
		path: filepath.Join(t.TempDir(), common.CredentialsFileName),
		key:  deriveFileKey(),
	}
	if err := b.save(map[string]common.Credential{"a": {Username: "u", Secret: "p"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(b.path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file permissions = %o, want 0600", perm)
	}
}

func TestFileBackendNotPlaintext(t *testing.T) {
	b := &fileBackend{
		path: filepath.Join(t.TempDir(), common.CredentialsFileName),
		key:  deriveFileKey(),
	}
	if err := b.save(map[string]common.Credential{"a": {Username: "alice", Secret: "topsecret"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, needle := range []string{"alice", "topsecret"} {
		if strings.Contains(string(raw), needle) {
			t.Errorf("credential file contains plaintext %q", needle)
		}
	}
}

func TestFileBackendMissingFile(t *testing.T) {
	b := &fileBackend{
		path: filepath.Join(t.TempDir(), common.CredentialsFileName),
		key:  deriveFileKey(),
	}
	m, err := b.load()
	if err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if m != nil {
		t.Errorf("load of missing file returned %v, want nil", m)
	}
}

func TestFileBackendWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), common.CredentialsFileName)
	writer := &fileBackend{path: path, key: testKey("one")}
	if err := writer.save(map[string]common.Credential{"a": {Username: "u", Secret: "p"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	reader := &fileBackend{path: path, key: testKey("two")}
	if _, err := reader.load(); !errors.Is(err, common.ErrDecryption) {
		t.Errorf("load with wrong key err = %v, want ErrDecryption", err)
	}
}

func testKey(seed string) []byte {
	key := make([]byte, keyLength)
	copy(key, seed)
	return key
}

func TestStoreSaveGet(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	cred := common.Credential{Username: "alice", Secret: "pw"}
	if err := s.Save("office.ovpn", cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.Get("office.ovpn")
	if !ok {
		t.Fatal("Get returned ok=false after Save")
	}
	if got != cred {
		t.Errorf("Get = %+v, want %+v", got, cred)
	}

	if _, ok := s.Get("unknown.ovpn"); ok {
		t.Error("Get for unknown name returned ok=true")
	}
}

func TestStoreLoadAllFromFreshStore(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	m, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("fresh store LoadAll returned %d entries, want 0", len(m))
	}
}

func TestStoreSecurePreferred(t *testing.T) {
	s, secure, _ := newTestStore(t, true)
	secure.data = map[string]common.Credential{
		"office.ovpn": {Username: "alice", Secret: "pw"},
	}

	m, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if _, ok := m["office.ovpn"]; !ok {
		t.Error("LoadAll did not use the secure backend data")
	}

	if err := s.Save("home.ovpn", common.Credential{Username: "b", Secret: "c"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if secure.saves != 1 {
		t.Errorf("secure backend saves = %d, want 1", secure.saves)
	}
}

func TestStoreLockedFallsBackToFile(t *testing.T) {
	s, secure, _ := newTestStore(t, true)
	secure.loadErr = common.ErrBackendLocked
	secure.saveErr = common.ErrBackendLocked

	var notices []string
	s.SetLockedNoticeHandler(func(msg string) { notices = append(notices, msg) })

	if _, err := s.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := s.Save("a.ovpn", common.Credential{Username: "u", Secret: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("b.ovpn", common.Credential{Username: "u", Secret: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if len(notices) != 1 {
		t.Errorf("locked notice fired %d times, want 1", len(notices))
	}

	m, err := s.file.load()
	if err != nil {
		t.Fatalf("file load: %v", err)
	}
	if len(m) != 2 {
		t.Errorf("file store has %d entries, want 2", len(m))
	}
}

func TestDisablingSecureKeepsFileCopy(t *testing.T) {
	s, secure, _ := newTestStore(t, true)
	secure.saveErr = errors.New("write failed")

	cred := common.Credential{Username: "alice", Secret: "pw"}
	if err := s.Save("office.ovpn", cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.SetSecureEnabled(false)
	if _, err := s.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	got, ok := s.Get("office.ovpn")
	if !ok || got != cred {
		t.Errorf("credential after disabling secure backend = %+v, ok=%v", got, ok)
	}
}

func TestStoreSecureDisabledSkipsSecure(t *testing.T) {
	s, secure, _ := newTestStore(t, false)

	if err := s.Save("a.ovpn", common.Credential{Username: "u", Secret: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if secure.saves != 0 {
		t.Errorf("secure backend saves = %d, want 0 when disabled", secure.saves)
	}
}

func TestStoreDelete(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	if err := s.Delete("missing"); !errors.Is(err, common.ErrCredentialsNotFound) {
		t.Errorf("Delete missing err = %v, want ErrCredentialsNotFound", err)
	}

	if err := s.Save("a.ovpn", common.Credential{Username: "u", Secret: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("a.ovpn"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("a.ovpn"); ok {
		t.Error("Get returned ok=true after Delete")
	}
}

func TestClassifyKeyringError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		locked bool
	}{
		{"locked collection", errors.New("the collection is Locked"), true},
		{"prompt dismissed", errors.New("prompt dismissed by user"), true},
		{"missing interface", errors.New("no such interface org.freedesktop.secrets"), true},
		{"other", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyKeyringError(tt.err)
			if errors.Is(got, common.ErrBackendLocked) != tt.locked {
				t.Errorf("classifyKeyringError(%v) locked = %v, want %v", tt.err, !tt.locked, tt.locked)
			}
		})
	}
}

func TestCredentialJSONShape(t *testing.T) {
	data, err := json.Marshal(common.Credential{Username: "u", Secret: "p"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["username"] != "u" || m["secret"] != "p" {
		t.Errorf("unexpected JSON shape: %s", data)
	}
}
