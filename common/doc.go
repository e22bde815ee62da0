// Package common provides shared constants, types, utilities, and interfaces
// used throughout the OpenVPN3 Manager application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts, file names, and
//     the control-plane executable name
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage, notifications, and logging
//   - Logger: Structured logging with file rotation
//   - Utils: Common utility functions for file operations
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/yllada/ovpn3-manager/common"
//
//	// Use constants
//	timeout := common.PollCommandTimeout
//
//	// Use logger
//	common.LogInfo("Starting session for %s", displayName)
//
//	// Check errors
//	if errors.Is(err, common.ErrAuthRejected) {
//	    // Re-prompt for credentials
//	}
package common
