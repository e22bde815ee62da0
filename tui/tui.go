// Package tui is the interactive terminal frontend: a configuration
// picker, a credential prompt, and a live status pane with traffic
// sparklines. All VPN work happens in the session manager; this package
// only renders snapshots and forwards user intent.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn3-manager/common"
	"github.com/yllada/ovpn3-manager/vpn"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	sparkInStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	sparkOutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// inputMode tracks what the keyboard currently controls.
type inputMode int

const (
	modeList inputMode = iota
	modeAuth
)

type (
	tickMsg         time.Time
	authRequiredMsg struct{ name string }
	errMsg          struct{ err error }
)

// Model is the Bubble Tea model for the status screen.
type Model struct {
	mgr   *vpn.Manager
	store common.CredentialStore

	spinner   spinner.Model
	userInput textinput.Model
	passInput textinput.Model

	mode     inputMode
	cursor   int
	authName string
	authUser bool

	status  vpn.Status
	lastErr string

	width  int
	height int
}

// New builds the model. The manager must already be running.
func New(mgr *vpn.Manager, store common.CredentialStore) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	user := textinput.New()
	user.Placeholder = "username"
	user.CharLimit = 128

	pass := textinput.New()
	pass.Placeholder = "password"
	pass.EchoMode = textinput.EchoPassword
	pass.EchoCharacter = '•'
	pass.CharLimit = 128

	return Model{
		mgr:       mgr,
		store:     store,
		spinner:   sp,
		userInput: user,
		passInput: pass,
		status:    mgr.Snapshot(),
	}
}

// Run wires the manager to a program and blocks until the user quits.
func Run(ctx context.Context, mgr *vpn.Manager, store common.CredentialStore, notifier common.Notifier, pollInterval time.Duration) error {
	model := New(mgr, store)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	// Manager callbacks fire on its event loop; Send hands them to the
	// program and notifications go to a goroutine, so neither blocks it.
	mgr.SetCallbacks(vpn.Callbacks{
		OnAuthRequired: func(name string) { program.Send(authRequiredMsg{name: name}) },
		OnError:        func(err error) { program.Send(errMsg{err: err}) },
		OnStateChange: func(state vpn.ConnectionState) {
			if notifier == nil {
				return
			}
			switch state {
			case vpn.StateConnected, vpn.StateDisconnected:
				go notifier.Notify(common.AppName, "VPN "+strings.ToLower(state.String()))
			}
		},
	})
	mgr.RefreshConfigs()
	mgr.StartPolling(ctx, pollInterval)

	_, err := program.Run()
	return err
}

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update applies incoming messages to the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.status = m.mgr.Snapshot()
		m.clampCursor()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case authRequiredMsg:
		m.lastErr = ""
		return m.beginAuth(msg.name), nil

	case errMsg:
		m.lastErr = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}
		if m.mode == modeAuth {
			return m.updateAuth(msg)
		}
		return m.updateList(msg)
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.status.Configs)-1 {
			m.cursor++
		}
	case "r":
		m.lastErr = ""
		m.mgr.RefreshConfigs()
	case "d":
		m.lastErr = ""
		m.mgr.StopSession()
	case "enter", "c":
		return m.connectSelected()
	}
	return m, nil
}

// connectSelected starts the highlighted configuration, prompting for
// credentials only when the store has none for it.
func (m Model) connectSelected() (tea.Model, tea.Cmd) {
	if len(m.status.Configs) == 0 {
		return m, nil
	}
	m.lastErr = ""
	name := m.status.Configs[m.cursor].DisplayName

	if cred, ok := m.store.Get(name); ok {
		m.mgr.StartSession(name, cred)
		return m, nil
	}
	return m.beginAuth(name), nil
}

func (m Model) beginAuth(name string) Model {
	m.mode = modeAuth
	m.authName = name
	m.authUser = true
	m.userInput.SetValue("")
	m.passInput.SetValue("")
	m.userInput.Focus()
	m.passInput.Blur()
	return m
}

func (m Model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		return m, nil
	case "tab":
		return m.toggleAuthFocus(), nil
	case "enter":
		if m.authUser {
			return m.toggleAuthFocus(), nil
		}
		return m.submitAuth()
	}

	var cmd tea.Cmd
	if m.authUser {
		m.userInput, cmd = m.userInput.Update(msg)
	} else {
		m.passInput, cmd = m.passInput.Update(msg)
	}
	return m, cmd
}

func (m Model) toggleAuthFocus() Model {
	m.authUser = !m.authUser
	if m.authUser {
		m.userInput.Focus()
		m.passInput.Blur()
	} else {
		m.passInput.Focus()
		m.userInput.Blur()
	}
	return m
}

func (m Model) submitAuth() (tea.Model, tea.Cmd) {
	cred := common.Credential{
		Username: strings.TrimSpace(m.userInput.Value()),
		Secret:   m.passInput.Value(),
	}
	if cred.Username == "" || cred.Secret == "" {
		m.lastErr = "username and password are required"
		return m, nil
	}

	if err := m.store.Save(m.authName, cred); err != nil {
		// The connection attempt still proceeds with the typed values.
		m.lastErr = err.Error()
	}
	m.mgr.StartSession(m.authName, cred)
	m.mode = modeList
	return m, nil
}

// View renders the whole screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(common.AppName))
	b.WriteString("\n\n")

	if m.mode == modeAuth {
		b.WriteString(fmt.Sprintf("Credentials for %s\n\n", selectedStyle.Render(m.authName)))
		b.WriteString("  " + m.userInput.View() + "\n")
		b.WriteString("  " + m.passInput.View() + "\n\n")
		b.WriteString(dimStyle.Render("enter: next/connect • tab: switch • esc: cancel"))
		return b.String()
	}

	m.renderConfigs(&b)
	m.renderStatus(&b)

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("enter: connect • d: disconnect • r: refresh • q: quit"))
	return b.String()
}

func (m Model) renderConfigs(b *strings.Builder) {
	if len(m.status.Configs) == 0 {
		b.WriteString(dimStyle.Render("No configurations imported."))
		b.WriteString("\n")
		return
	}

	for i, entry := range m.status.Configs {
		line := "  " + entry.DisplayName
		if entry.DisplayName == m.status.ActiveName {
			line += " *"
		}
		if i == m.cursor {
			line = selectedStyle.Render("> " + strings.TrimSpace(line))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (m Model) renderStatus(b *strings.Builder) {
	b.WriteString("\n")

	state := m.status.State
	switch state {
	case vpn.StateConnecting, vpn.StateDisconnecting:
		b.WriteString(m.spinner.View() + " " + state.String())
	case vpn.StateConnected:
		b.WriteString(statusStyle.Render(state.String()))
	default:
		b.WriteString(dimStyle.Render(state.String()))
	}
	b.WriteString("\n")

	if state != vpn.StateConnected {
		return
	}

	stats := m.status.Stats
	b.WriteString(fmt.Sprintf("  in %s  out %s\n",
		formatBytes(stats.BytesIn), formatBytes(stats.BytesOut)))

	width := m.width - 8
	if width < 10 {
		width = 10
	}
	b.WriteString("  " + sparkInStyle.Render(Sparkline(m.status.RatesIn, m.status.RateScale, width)) + "\n")
	b.WriteString("  " + sparkOutStyle.Render(Sparkline(m.status.RatesOut, m.status.RateScale, width)) + "\n")
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.status.Configs) {
		m.cursor = len(m.status.Configs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// sparkRunes maps a normalized sample to one of eight bar heights.
var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the newest samples as a fixed-width bar strip.
// Samples are normalized against scale; a non-positive scale yields a
// flat line. Older samples beyond width are dropped from the left.
func Sparkline(samples []uint64, scale float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	var b strings.Builder
	for _, v := range samples {
		b.WriteRune(sparkRune(v, scale))
	}
	for i := len(samples); i < width; i++ {
		b.WriteRune(sparkRunes[0])
	}
	return b.String()
}

func sparkRune(v uint64, scale float64) rune {
	if scale <= 0 || v == 0 {
		return sparkRunes[0]
	}
	idx := int(float64(v) / scale * float64(len(sparkRunes)))
	if idx >= len(sparkRunes) {
		idx = len(sparkRunes) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sparkRunes[idx]
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
