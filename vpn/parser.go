// This file parses the control-plane tool's human-formatted text
// reports into typed records. The reports are padded tables meant for
// people, not a machine format, so every parse function is total:
// malformed input degrades to empty or zero fields, never an error.

package vpn

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yllada/ovpn3-manager/common"
)

// ConfigEntry is one imported configuration as reported by configs-list.
// The display name is the final path segment of the configuration path.
type ConfigEntry struct {
	DisplayName string
	Path        string
}

// SessionStats holds the cumulative byte counters of one session plus
// the raw report text for display. Counters only grow while a session
// lives; a decrease means a different underlying session.
type SessionStats struct {
	BytesIn    uint64
	BytesOut   uint64
	StatusLine string
	Raw        string
}

// tunnelStatPrefix marks tunnel-level counter variants that must not be
// confused with the session-level BYTES_IN/BYTES_OUT values.
const tunnelStatPrefix = "TUN_"

var sessionPathRe = regexp.MustCompile(regexp.QuoteMeta(common.SessionPathPrefix) + `\S+`)

// ParseConfigList converts configs-list output into entries. The first
// two lines are a header; separator lines start with a dash run. The
// first whitespace-delimited token of each remaining line is the
// configuration path.
func ParseConfigList(text string) []ConfigEntry {
	var entries []ConfigEntry

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i < 2 {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "-") {
			continue
		}
		fields := strings.Fields(trimmed)
		path := fields[0]
		entries = append(entries, ConfigEntry{
			DisplayName: filepath.Base(path),
			Path:        path,
		})
	}

	return entries
}

// ConfigMap builds the display-name to path mapping from a listing.
// Duplicate display names overwrite earlier entries; the last one wins.
func ConfigMap(entries []ConfigEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.DisplayName] = e.Path
	}
	return m
}

// ParseSessionList extracts session paths from sessions-list output.
// Every line is scanned for the session-path namespace prefix; the
// first token containing it is taken per line.
func ParseSessionList(text string) []string {
	var sessions []string

	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, common.SessionPathPrefix) {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.Contains(field, common.SessionPathPrefix) {
				sessions = append(sessions, field)
				break
			}
		}
	}

	return sessions
}

// ParseSessionStats extracts byte counters from session-stats output.
// Counter lines look like "BYTES_IN................3630" with a dot run
// as visual padding. Lines carrying the tunnel-level variant prefix are
// excluded. Malformed numeric fields degrade to zero. A CONNECTED
// marker line, if present, is retained for display.
func ParseSessionStats(text string) SessionStats {
	stats := SessionStats{Raw: text}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if stats.StatusLine == "" && strings.Contains(trimmed, "CONNECTED") {
			stats.StatusLine = trimmed
			continue
		}
		if strings.HasPrefix(trimmed, tunnelStatPrefix) {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "BYTES_IN"):
			stats.BytesIn = trailingCounter(trimmed)
		case strings.HasPrefix(trimmed, "BYTES_OUT"):
			stats.BytesOut = trailingCounter(trimmed)
		}
	}

	return stats
}

// trailingCounter returns the numeric field after the last padding dot,
// or zero when the field is missing or malformed.
func trailingCounter(line string) uint64 {
	idx := strings.LastIndexByte(line, '.')
	if idx < 0 || idx+1 >= len(line) {
		return 0
	}
	value, err := strconv.ParseUint(strings.TrimSpace(line[idx+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// ExtractSessionPath pulls the session reference out of session-start
// output. The labeled "Session path:" line is the primary source; a
// scan for the session-path namespace token is the fallback.
func ExtractSessionPath(text string) string {
	const label = "Session path:"

	for _, line := range strings.Split(text, "\n") {
		if idx := strings.Index(line, label); idx >= 0 {
			if ref := strings.TrimSpace(line[idx+len(label):]); ref != "" {
				return ref
			}
		}
	}

	return sessionPathRe.FindString(text)
}
