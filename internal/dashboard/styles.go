package dashboard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for error messages.
	ErrorStyle = lipgloss.NewStyle().Bold(true)

	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// FormatPriceWithColor formats a price with indicator based on comparison with previous price.
func FormatPriceWithColor(current, previous float64) string {
	priceStr := fmt.Sprintf("%.4f", current)

	if previous == 0 {
		return priceStr
	}

	if current > previous {
		return priceStr + " ▲"
	} else if current < previous {
		return priceStr + " ▼"
	}

	return priceStr
}

// FormatHold renders a hold status, highlighting restricted symbols.
func FormatHold(status types.HoldStatus) string {
	switch {
	case status == "":
		return "-"
	case status.Blocked():
		return blockedStyle.Render(string(status))
	case status != types.HoldOpen:
		return partialStyle.Render(string(status))
	default:
		return string(status)
	}
}
