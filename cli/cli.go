// Package cli provides the command-line interface: one-shot session and
// configuration commands plus the interactive status screen launched
// when no subcommand is given.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yllada/ovpn3-manager/common"
	"github.com/yllada/ovpn3-manager/config"
	"github.com/yllada/ovpn3-manager/history"
	"github.com/yllada/ovpn3-manager/keyring"
	"github.com/yllada/ovpn3-manager/notify"
	"github.com/yllada/ovpn3-manager/tui"
	"github.com/yllada/ovpn3-manager/vpn"
)

// BuildInfo carries the version identifiers stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// App wires the configuration, credential store, session manager, and
// event history behind the commands.
type App struct {
	cfg      *config.Config
	store    *keyring.Store
	mgr      *vpn.Manager
	hist     *history.Store
	notifier common.Notifier
	build    BuildInfo
}

func newApp(build BuildInfo) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := keyring.NewStore(cfg.UseKeyring)
	if err != nil {
		return nil, err
	}
	store.SetLockedNoticeHandler(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	})
	if _, err := store.LoadAll(); err != nil {
		common.LogWarn("loading stored credentials: %v", err)
	}

	timeouts := vpn.Timeouts{
		Poll:  cfg.PollTimeout(),
		Start: cfg.StartTimeout(),
		Stop:  cfg.StopTimeout(),
	}
	mgr := vpn.NewManager(vpn.NewGateway(), timeouts)

	app := &App{cfg: cfg, store: store, mgr: mgr, build: build}

	if cfg.HistoryEnabled {
		hist, err := history.Open()
		if err != nil {
			common.LogWarn("history disabled: %v", err)
		} else {
			app.hist = hist
			mgr.SetRecorder(hist)
		}
	}

	if cfg.ShowNotifications {
		notifier, err := notify.New()
		if err != nil {
			common.LogDebug("notifications unavailable: %v", err)
		} else {
			app.notifier = notifier
		}
	}

	mgr.Run()
	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	a.mgr.Close()
	if a.hist != nil {
		a.hist.Close()
	}
	if c, ok := a.notifier.(*notify.Notifier); ok && c != nil {
		c.Close()
	}
}

// Execute runs the command line. Without a subcommand the interactive
// status screen is launched.
func Execute(ctx context.Context, build BuildInfo) error {
	var app *App

	root := &cobra.Command{
		Use:           "ovpn3-manager",
		Short:         "Manage OpenVPN 3 sessions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if !vpn.ToolInstalled() {
				return fmt.Errorf("%s not found on PATH; install the OpenVPN 3 Linux client first", common.ToolName)
			}
			var err error
			app, err = newApp(build)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(cmd.Context(), app.mgr, app.store, app.notifier, app.cfg.PollInterval())
		},
	}

	root.AddCommand(
		newConfigsCmd(&app),
		newSessionsCmd(&app),
		newConnectCmd(&app),
		newDisconnectCmd(&app),
		newStatusCmd(&app),
		newCleanupCmd(&app),
		newImportCmd(&app),
		newMigrateCmd(&app),
		newHistoryCmd(&app),
		newVersionCmd(build),
	)

	return root.ExecuteContext(ctx)
}
