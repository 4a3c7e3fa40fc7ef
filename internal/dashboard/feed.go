package dashboard

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// holdQueue keeps room for a burst of roster-wide transitions.
const holdQueue = 64

// Feed forwards bus traffic to a Bubble Tea program. Every subscription is
// latest-wins so a slow terminal never backs up the pipeline.
type Feed struct {
	mu   sync.Mutex
	subs []*bus.Subscriber
}

// Attach subscribes to the dashboard topics of symbols and calls send for
// every message.
func Attach(b *bus.Bus, symbols []string, send func(tea.Msg)) *Feed {
	f := &Feed{}

	f.add(bus.Subscribe(b, bus.HoldTopic(), "dashboard.holds", func(_ context.Context, c types.HoldChange) error {
		send(HoldMsg{Change: c})

		return nil
	}, bus.WithPolicy(bus.LatestWins(holdQueue))))

	f.add(bus.Subscribe(b, bus.WeightsTopic(), "dashboard.weights", func(_ context.Context, w types.TargetWeights) error {
		send(WeightsMsg{Weights: w})

		return nil
	}, bus.WithPolicy(bus.LatestWins(1))))

	f.add(bus.Subscribe(b, bus.LedgerTopic(), "dashboard.ledger", func(_ context.Context, s types.LedgerSnapshot) error {
		send(LedgerMsg{Snapshot: s})

		return nil
	}, bus.WithPolicy(bus.LatestWins(1))))

	for _, symbol := range symbols {
		f.add(bus.Subscribe(b, bus.SignalTopic(symbol), "dashboard.signal."+symbol, func(_ context.Context, s types.Signal) error {
			send(SignalMsg{Signal: s})

			return nil
		}, bus.WithPolicy(bus.LatestWins(1))))

		f.add(bus.Subscribe(b, bus.BarTopic(symbol), "dashboard.bars."+symbol, func(_ context.Context, bar types.Bar) error {
			send(BarMsg{Bar: bar})

			return nil
		}, bus.WithPolicy(bus.LatestWins(1))))
	}

	return f
}

func (f *Feed) add(sub *bus.Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subs = append(f.subs, sub)
}

// Drain waits until every forwarded message was handed to send.
func (f *Feed) Drain(ctx context.Context) error {
	f.mu.Lock()
	subs := append([]*bus.Subscriber(nil), f.subs...)
	f.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Close removes every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Dashboard runs the model as a terminal program fed by the bus.
type Dashboard struct {
	program *tea.Program
	feed    *Feed
}

// New creates a dashboard for symbols attached to b.
func New(ctx context.Context, b *bus.Bus, symbols []string, opts ...tea.ProgramOption) *Dashboard {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	program := tea.NewProgram(NewModel(symbols), opts...)

	return &Dashboard{
		program: program,
		feed:    Attach(b, symbols, program.Send),
	}
}

// Send delivers a message to the running program.
func (d *Dashboard) Send(msg tea.Msg) {
	d.program.Send(msg)
}

// Run blocks until the user quits the dashboard or its context ends.
func (d *Dashboard) Run() error {
	defer d.feed.Close()

	_, err := d.program.Run()

	return err
}
