package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/ovpn3-manager/common"
	"github.com/yllada/ovpn3-manager/vpn"
)

// maxAuthAttempts bounds the interactive re-prompt loop after rejected
// credentials.
const maxAuthAttempts = 3

func newConfigsCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List imported VPN configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := (*app).mgr.RefreshConfigsSync()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No configurations imported.")
				fmt.Println("Import one with: ovpn3-manager import <file.ovpn>")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPATH\tCREDENTIALS")
			fmt.Fprintln(w, "----\t----\t-----------")
			for _, e := range entries {
				saved := "no"
				if _, ok := (*app).store.Get(e.DisplayName); ok {
					saved = "saved"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.DisplayName, e.Path, saved)
			}
			return w.Flush()
		},
	}
}

func newSessionsCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active VPN sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := (*app).mgr.ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}
			for _, ref := range sessions {
				fmt.Println(ref)
			}
			return nil
		},
	}
}

func newConnectCmd(app **App) *cobra.Command {
	var askCreds bool
	cmd := &cobra.Command{
		Use:   "connect <config-name>",
		Short: "Start a VPN session for a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*app).connect(args[0], askCreds)
		},
	}
	cmd.Flags().BoolVar(&askCreds, "ask", false, "Prompt for credentials even when saved ones exist")
	return cmd
}

// connect resolves credentials, starts the session, and waits for the
// outcome. Rejected credentials re-prompt up to the attempt bound.
func (a *App) connect(name string, askCreds bool) error {
	entries, err := a.mgr.RefreshConfigsSync()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return common.ErrNoConfigs
	}
	if _, ok := vpn.ConfigMap(entries)[name]; !ok {
		return fmt.Errorf("%w: %s", common.ErrConfigNotFound, name)
	}

	cred, saved := a.store.Get(name)
	if askCreds || !saved {
		var err error
		cred, err = promptCredentials(name)
		if err != nil {
			return err
		}
		if err := a.store.Save(name, cred); err != nil {
			common.LogWarn("saving credentials: %v", err)
		}
	}

	for attempt := 1; ; attempt++ {
		fmt.Printf("Connecting to %s...\n", name)
		outcome := a.waitForSession(name, cred)
		switch {
		case outcome == nil:
			fmt.Println("Connected.")
			a.notify("VPN connected")
			return nil
		case errors.Is(outcome, common.ErrAuthRejected) && attempt < maxAuthAttempts:
			fmt.Fprintln(os.Stderr, "Authentication failed; try again.")
			var err error
			cred, err = promptCredentials(name)
			if err != nil {
				return err
			}
			if err := a.store.Save(name, cred); err != nil {
				common.LogWarn("saving credentials: %v", err)
			}
		default:
			return outcome
		}
	}
}

// waitForSession starts the session and blocks until it settles. A nil
// return means connected.
func (a *App) waitForSession(name string, cred common.Credential) error {
	done := make(chan error, 1)
	settle := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	a.mgr.SetCallbacks(vpn.Callbacks{
		OnStateChange: func(state vpn.ConnectionState) {
			if state == vpn.StateConnected {
				settle(nil)
			}
		},
		OnAuthRequired: func(string) { settle(common.ErrAuthRejected) },
		OnError:        func(err error) { settle(err) },
	})
	defer a.mgr.SetCallbacks(vpn.Callbacks{})

	a.mgr.StartSession(name, cred)

	select {
	case err := <-done:
		return err
	case <-time.After(a.cfg.StartTimeout() + 5*time.Second):
		return common.ErrTimeout
	}
}

func newDisconnectCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the active VPN session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*app).disconnect()
		},
	}
}

func (a *App) disconnect() error {
	done := make(chan error, 1)
	settle := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	a.mgr.SetCallbacks(vpn.Callbacks{
		OnStateChange: func(state vpn.ConnectionState) {
			if state == vpn.StateDisconnected {
				settle(nil)
			}
		},
		OnError: func(err error) { settle(err) },
	})
	defer a.mgr.SetCallbacks(vpn.Callbacks{})

	a.mgr.StopSession()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		fmt.Println("Disconnected.")
		a.notify("VPN disconnected")
		return nil
	case <-time.After(a.cfg.StopTimeout() + 5*time.Second):
		return common.ErrTimeout
	}
}

func newStatusCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session status and traffic counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*app).printStatus()
		},
	}
}

func (a *App) printStatus() error {
	sessions, err := a.mgr.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("Disconnected")
		return nil
	}

	ref := sessions[0]
	stats, err := a.mgr.SessionStatsFor(ref)
	if err != nil {
		return err
	}

	fmt.Println("Connected")
	fmt.Printf("Session:   %s\n", ref)
	if stats.StatusLine != "" {
		fmt.Printf("Status:    %s\n", stats.StatusLine)
	}
	fmt.Printf("Bytes in:  %d\n", stats.BytesIn)
	fmt.Printf("Bytes out: %d\n", stats.BytesOut)
	return nil
}

func newCleanupCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Disconnect every active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := (*app).mgr.CleanupAll()
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}

			failures := 0
			for _, r := range results {
				if r.Err != nil {
					failures++
					fmt.Printf("failed   %s: %v\n", r.Session, r.Err)
				} else {
					fmt.Printf("cleaned  %s\n", r.Session)
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d sessions could not be disconnected", failures, len(results))
			}
			return nil
		},
	}
}

func newImportCmd(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ovpn>",
		Short: "Import a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*app).mgr.ImportConfig(args[0]); err != nil {
				return err
			}
			fmt.Printf("Imported %s\n", args[0])
			return nil
		},
	}
}

func newMigrateCmd(app **App) *cobra.Command {
	var scanOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move plaintext auth-file credentials into the credential store",
		Long: "Scans every imported configuration for an auth-user-pass file\n" +
			"reference, stores the file's credentials securely, and renames the\n" +
			"original aside as a backup. Originals are never deleted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*app).migrate(scanOnly)
		},
	}
	cmd.Flags().BoolVar(&scanOnly, "scan-only", false, "Report findings without migrating")
	return cmd
}

func (a *App) migrate(scanOnly bool) error {
	entries, err := a.mgr.RefreshConfigsSync()
	if err != nil {
		return err
	}

	mg := vpn.NewMigrator(vpn.NewGateway(), a.store, a.cfg.PollTimeout())
	findings := mg.Scan(entries)
	if len(findings) == 0 {
		fmt.Println("No plaintext credential files found.")
		return nil
	}

	for _, f := range findings {
		fmt.Printf("found  %s -> %s\n", f.DisplayName, f.AuthFilePath)
	}
	if scanOnly {
		return nil
	}

	migrated, results := mg.Migrate(findings)
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("failed %s: %v\n", r.Finding.DisplayName, r.Err)
		}
	}
	fmt.Printf("Migrated %d of %d credential files; originals backed up with %s.\n",
		migrated, len(findings), common.BackupSuffix)
	return nil
}

func newHistoryCmd(app **App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent connection events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			if a.hist == nil {
				return errors.New("history is disabled in the configuration")
			}
			events, err := a.hist.Recent(limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No recorded events.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tEVENT\tNAME\tBYTES IN\tBYTES OUT")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
					e.Occurred.Local().Format("2006-01-02 15:04:05"),
					e.Kind, e.Name, e.BytesIn, e.BytesOut)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events to show")
	return cmd
}

func newVersionCmd(build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", common.AppName, build.Version)
			if build.Commit != "" {
				fmt.Printf("commit: %s\n", build.Commit)
			}
			if build.Date != "" {
				fmt.Printf("built:  %s\n", build.Date)
			}
		},
	}
}

// notify sends a best-effort desktop notification.
func (a *App) notify(message string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(common.AppName, message); err != nil {
		common.LogDebug("notification failed: %v", err)
	}
}

// promptCredentials reads a username and a hidden password from the
// terminal. The password never echoes.
func promptCredentials(name string) (common.Credential, error) {
	fmt.Printf("Credentials for %s\n", name)

	fmt.Print("Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return common.Credential{}, common.WrapError(err, "reading username")
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return common.Credential{}, common.WrapError(err, "reading password")
	}

	cred := common.Credential{Username: username, Secret: string(secret)}
	if cred.Username == "" || cred.Secret == "" {
		return common.Credential{}, fmt.Errorf("%w: username and password are required", common.ErrValidation)
	}
	return cred, nil
}
