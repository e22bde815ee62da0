// Package common provides shared constants, types, and utilities
// used across the OpenVPN3 Manager application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "OpenVPN3 Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovpn3-manager"
)

// Control-plane executable.
const (
	// ToolName is the name of the openvpn3 control-plane executable.
	ToolName = "openvpn3"
	// SessionPathPrefix is the D-Bus namespace prefix openvpn3 uses for
	// session paths in its reports.
	SessionPathPrefix = "/net/openvpn/v3/sessions/"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	HistoryFileName     = "history.db"
	LogFileName         = "ovpn3-manager.log"
)

// Keyring addressing. The whole credential mapping is stored under a
// single service/key pair in the system secret service.
const (
	KeyringService = "ovpn3-manager"
	KeyringKey     = "credentials"
)

// Default timeouts and intervals.
const (
	// DefaultPollInterval is how often session state is reconciled
	// against the control plane.
	DefaultPollInterval = 2 * time.Second
	// PollCommandTimeout bounds status commands (listings, stats).
	PollCommandTimeout = 10 * time.Second
	// StartCommandTimeout bounds session-start, which can block on the
	// remote handshake.
	StartCommandTimeout = 60 * time.Second
	// StopCommandTimeout bounds session-manage --disconnect.
	StopCommandTimeout = 30 * time.Second
)

// Traffic rate tracking.
const (
	// RateHistoryDepth is how many rate samples per direction are kept
	// for the traffic graph.
	RateHistoryDepth = 60
)

// Plaintext auth files referenced by configurations are copied to a
// sibling with this suffix before migration.
const BackupSuffix = ".backup"
