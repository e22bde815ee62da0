// Package main provides the entry point for OpenVPN3 Manager, a
// terminal client for the OpenVPN 3 Linux control plane.
//
// Features:
//   - Session lifecycle management (connect, disconnect, cleanup)
//   - Secure credential storage using the system keyring with an
//     encrypted local fallback
//   - Migration of plaintext auth-user-pass files into the store
//   - Live traffic monitoring in an interactive terminal UI
//   - Connection history and desktop notifications
//
// Usage:
//
//	ovpn3-manager [command]
//
// Without a command the interactive status screen is launched. The
// openvpn3 client must be installed on the system.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/ovpn3-manager/cli"
	"github.com/yllada/ovpn3-manager/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z).
// Default values are used for local development builds.
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	logLevel := common.LevelInfo
	if os.Getenv("OVPN3_MANAGER_DEBUG") != "" {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := cli.BuildInfo{
		Version: appVersion,
		Commit:  commitSHA,
		Date:    buildTime,
	}

	if err := cli.Execute(ctx, build); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
