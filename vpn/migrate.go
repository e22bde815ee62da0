// This file contains the workflow that discovers plaintext auth files
// referenced by configurations and migrates their secrets into the
// credential store.

package vpn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yllada/ovpn3-manager/common"
)

// Finding is a discovered on-disk plaintext credential file referenced
// by a configuration. Findings are recomputed on each scan, never
// persisted.
type Finding struct {
	DisplayName  string
	ConfigPath   string
	AuthFilePath string
}

// MigrationResult is the per-finding outcome of a migration run.
type MigrationResult struct {
	Finding Finding
	Err     error
}

// Migrator moves plaintext auth-file credentials into the credential
// store, backing up originals. It never deletes anything.
type Migrator struct {
	exec    Executor
	store   common.CredentialStore
	timeout time.Duration
}

// NewMigrator creates a migration workflow over the given executor and
// credential store.
func NewMigrator(exec Executor, store common.CredentialStore, timeout time.Duration) *Migrator {
	if timeout <= 0 {
		timeout = common.PollCommandTimeout
	}
	return &Migrator{exec: exec, store: store, timeout: timeout}
}

// Scan dumps each configuration body and records a finding for every
// auth-user-pass reference whose file exists on disk. A configuration
// without such a reference, or referencing a missing file, is not a
// finding: the missing-file case is the one that genuinely needs
// interactive credentials and is handled by the connect prompt instead.
func (mg *Migrator) Scan(entries []ConfigEntry) []Finding {
	var findings []Finding

	for _, entry := range entries {
		req := Request{
			Args:    []string{"config-dump", "--config", entry.Path},
			Timeout: mg.timeout,
		}
		res := mg.runSync(req)
		if !res.OK() {
			common.LogDebug("config dump failed for %s: %v", entry.DisplayName, res.Err())
			continue
		}

		authPath := findAuthFileReference(res.Stdout)
		if authPath == "" {
			continue
		}
		if !filepath.IsAbs(authPath) {
			authPath = filepath.Join(filepath.Dir(entry.Path), authPath)
		}
		if !common.FileExists(authPath) {
			continue
		}

		findings = append(findings, Finding{
			DisplayName:  entry.DisplayName,
			ConfigPath:   entry.Path,
			AuthFilePath: authPath,
		})
	}

	return findings
}

// findAuthFileReference returns the file argument of an auth-user-pass
// directive in a configuration body, or "" when the directive is absent
// or carries no argument.
func findAuthFileReference(body string) string {
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 || fields[0] != "auth-user-pass" {
			continue
		}
		return strings.Trim(fields[1], `"'`)
	}
	return ""
}

// Migrate processes each finding independently: the two-line auth file
// is read, written through the credential store, and the original is
// copied to a backup sibling. One failure never blocks the rest.
func (mg *Migrator) Migrate(findings []Finding) (migrated int, results []MigrationResult) {
	results = make([]MigrationResult, 0, len(findings))

	for _, f := range findings {
		err := mg.migrateOne(f)
		if err == nil {
			migrated++
		} else {
			common.LogWarn("migration failed for %s: %v", f.DisplayName, err)
		}
		results = append(results, MigrationResult{Finding: f, Err: err})
	}

	return migrated, results
}

func (mg *Migrator) migrateOne(f Finding) error {
	cred, err := readAuthFile(f.AuthFilePath)
	if err != nil {
		return err
	}

	if err := mg.store.Save(f.DisplayName, cred); err != nil {
		return common.WrapError(err, "storing credentials")
	}

	return backupAuthFile(f.AuthFilePath)
}

// readAuthFile reads a two-line (username, secret) plaintext file.
func readAuthFile(path string) (common.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.Credential{}, common.WrapError(err, "reading auth file")
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return common.Credential{}, fmt.Errorf("auth file %s: expected two lines", path)
	}

	cred := common.Credential{
		Username: strings.TrimSpace(lines[0]),
		Secret:   strings.TrimSpace(lines[1]),
	}
	if cred.Username == "" || cred.Secret == "" {
		return common.Credential{}, fmt.Errorf("auth file %s: empty username or secret", path)
	}
	return cred, nil
}

// backupAuthFile copies the original next to itself with the backup
// suffix. An existing backup is never overwritten, which makes repeated
// migration runs idempotent. Originals are never deleted here.
func backupAuthFile(path string) error {
	backupPath := path + common.BackupSuffix
	if common.FileExists(backupPath) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return common.WrapError(err, "reading original for backup")
	}
	if err := common.WriteFileAtomic(backupPath, data, 0600); err != nil {
		return common.WrapError(err, "writing backup")
	}
	return nil
}

func (mg *Migrator) runSync(req Request) Result {
	ch := make(chan Result, 1)
	mg.exec.Execute(req, func(r Result) { ch <- r })
	return <-ch
}
