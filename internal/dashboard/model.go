// Package dashboard renders a terminal view of the running live core.
package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	"github.com/rxtech-lab/argo-live/internal/types"
)

type symbolRow struct {
	hold      types.HoldStatus
	qty       float64
	last      float64
	prev      float64
	weight    float64
	hasWeight bool
	signal    types.Signal
}

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	symbols []string
	rows    map[string]*symbolRow
	table   table.Model
	state   engine.State
	cash    string
	power   string
	err     error
	width   int
	height  int
}

// NewModel creates a model for the given roster.
func NewModel(symbols []string) Model {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	rows := make(map[string]*symbolRow, len(sorted))
	for _, s := range sorted {
		rows[s] = &symbolRow{}
	}

	m := Model{
		symbols: sorted,
		rows:    rows,
		table:   NewSymbolTable(),
		state:   engine.StateIdle,
	}
	m.refresh()

	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(msg.Height - 8)

		return m, nil

	case HoldMsg:
		m.row(msg.Change.Symbol).hold = msg.Change.To
		m.refresh()

		return m, nil

	case WeightsMsg:
		for _, r := range m.rows {
			r.weight = 0
			r.hasWeight = false
		}

		for symbol, w := range msg.Weights.Weights {
			r := m.row(symbol)
			r.weight = w
			r.hasWeight = true
		}

		m.refresh()

		return m, nil

	case SignalMsg:
		m.row(msg.Signal.Symbol).signal = msg.Signal
		m.refresh()

		return m, nil

	case BarMsg:
		if msg.Bar.EndOfStream {
			return m, nil
		}

		r := m.row(msg.Bar.Symbol)
		r.prev = r.last
		r.last = msg.Bar.Close
		m.refresh()

		return m, nil

	case LedgerMsg:
		m.cash = msg.Snapshot.AvailableCash.StringFixed(2)
		m.power = msg.Snapshot.BuyingPower.StringFixed(2)

		for _, r := range m.rows {
			r.qty = 0
		}

		for symbol, p := range msg.Snapshot.Positions {
			m.row(symbol).qty = p.Qty
		}

		m.refresh()

		return m, nil

	case StateMsg:
		m.state = msg.State

		return m, nil

	case ErrorMsg:
		m.err = msg.Err

		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

// row returns the row of symbol, adding symbols outside the roster.
func (m *Model) row(symbol string) *symbolRow {
	r, ok := m.rows[symbol]
	if !ok {
		r = &symbolRow{}
		m.rows[symbol] = r
		m.symbols = append(m.symbols, symbol)
		sort.Strings(m.symbols)
	}

	return r
}

func (m *Model) refresh() {
	rows := make([]table.Row, 0, len(m.symbols))

	for _, symbol := range m.symbols {
		r := m.rows[symbol]

		price := "-"
		if r.last != 0 {
			price = FormatPriceWithColor(r.last, r.prev)
		}

		weight := "-"
		if r.hasWeight {
			weight = fmt.Sprintf("%.2f%%", r.weight*100)
		}

		signal := "-"
		if r.signal.Entry != "" {
			signal = fmt.Sprintf("%s/%s %+.2f", r.signal.Entry, r.signal.Exit, r.signal.Score)
		}

		rows = append(rows, table.Row{
			symbol,
			FormatHold(r.hold),
			fmt.Sprintf("%g", r.qty),
			price,
			weight,
			signal,
		})
	}

	m.table.SetRows(rows)
}

// View implements tea.Model.
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render(fmt.Sprintf("Argo Live - %s", m.state)))
	s.WriteString("\n")

	if m.cash != "" {
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			"cash "+m.cash,
			"   buying power "+m.power,
		))
		s.WriteString("\n")
	}

	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	s.WriteString(m.table.View())
	s.WriteString("\n")
	s.WriteString(HelpStyle.Render(fmt.Sprintf("q: quit | %d symbols", len(m.symbols))))

	return s.String()
}

// NewSymbolTable creates the per-symbol table.
func NewSymbolTable() table.Model {
	columns := []table.Column{
		{Title: "Symbol", Width: 10},
		{Title: "Hold", Width: 16},
		{Title: "Qty", Width: 12},
		{Title: "Last", Width: 14},
		{Title: "Weight", Width: 10},
		{Title: "Signal", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	t.SetStyles(s)

	return t
}
