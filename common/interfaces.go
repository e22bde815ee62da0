// Package common provides shared constants, types, and utilities
// used across the OpenVPN3 Manager application.
package common

// Credential is a username/secret pair for one VPN configuration.
// Secret values must never appear in logs or error messages.
type Credential struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// CredentialStore defines the interface for credential storage.
// Implementations may use the system secret service, encrypted files,
// or an ordered combination of both.
type CredentialStore interface {
	// LoadAll reads the full credential mapping from the preferred
	// backend into memory. Absence of stored data is not an error.
	LoadAll() (map[string]Credential, error)
	// Save persists credentials for a configuration display name.
	Save(name string, cred Credential) error
	// Get looks up credentials in memory; it never performs I/O.
	Get(name string) (Credential, bool)
}

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
