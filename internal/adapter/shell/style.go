package shell

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"xyz-agents/internal/domain"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	styleHeader  = lipgloss.NewStyle().Bold(true).Underline(true)
	styleOK      = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleErr     = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleCommand = lipgloss.NewStyle().Bold(true).Width(30)
)

var stateStyles = map[domain.AgentState]lipgloss.Style{
	domain.AgentStateInitialized: lipgloss.NewStyle().Foreground(colorInfo),
	domain.AgentStateRunning:     lipgloss.NewStyle().Foreground(colorSuccess),
	domain.AgentStatePaused:      lipgloss.NewStyle().Foreground(colorWarning),
	domain.AgentStateStopped:     lipgloss.NewStyle().Foreground(colorMuted),
	domain.AgentStateError:       lipgloss.NewStyle().Foreground(colorError).Bold(true),
}

// symbols are ASCII when XYZ_ASCII_SYMBOLS is set or the locale is not UTF-8.
type symbols struct {
	ok, fail, bullet string
}

func detectSymbols() symbols {
	if v := os.Getenv("XYZ_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return symbols{ok: "[OK]", fail: "[ERR]", bullet: "*"}
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if val == "" {
			continue
		}
		if !strings.Contains(val, "utf-8") && !strings.Contains(val, "utf8") {
			return symbols{ok: "[OK]", fail: "[ERR]", bullet: "*"}
		}
		break
	}
	return symbols{ok: "✓", fail: "✗", bullet: "•"}
}

// renderState pads to a fixed width before styling so columns line up.
func renderState(s domain.AgentState) string {
	style, ok := stateStyles[s]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return style.Width(12).Render(string(s))
}
