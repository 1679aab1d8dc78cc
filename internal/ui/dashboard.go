package ui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/nozo-moto/gnethogs/internal/collector"
	"github.com/nozo-moto/gnethogs/internal/metrics"
	"github.com/nozo-moto/gnethogs/pkg/types"
)

// ErrStopped is returned by Do once the dashboard has stopped.
var ErrStopped = errors.New("dashboard stopped")

const statusInterval = time.Second

type Dashboard struct {
	app   *tview.Application
	pages *tview.Pages

	table      *TableView
	totalsView *tview.TextView
	statusView *tview.TextView
	helpView   *tview.TextView

	systemCollector *collector.SystemCollector
	metrics         *metrics.Metrics
	log             *zap.Logger

	stopOnce sync.Once
	stopping atomic.Bool
	done     chan struct{}
}

func NewDashboard(title string, m *metrics.Metrics, log *zap.Logger) *Dashboard {
	if log == nil {
		log = zap.NewNop()
	}
	app := tview.NewApplication()
	d := &Dashboard{
		app:             app,
		pages:           tview.NewPages(),
		systemCollector: collector.NewSystemCollector(),
		metrics:         m,
		log:             log,
		done:            make(chan struct{}),
	}

	d.table = NewTableView(app, title)
	d.setupUI()
	return d
}

// Table is the presenter the reconciliation loop writes to.
func (d *Dashboard) Table() *TableView {
	return d.table
}

// Run blocks until the application stops.
func (d *Dashboard) Run() error {
	defer close(d.done)
	if d.stopping.Load() {
		return nil
	}

	go d.statusLoop()

	d.log.Info("dashboard starting")
	return d.app.Run()
}

// Stop ends Run. It is safe to call more than once and before Run.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		// picked up by the event loop if Run has not started drawing yet
		d.app.QueueUpdate(d.app.Stop)
		d.app.Stop()
	})
}

// Done is closed once Run has returned.
func (d *Dashboard) Done() <-chan struct{} {
	return d.done
}

// Do runs fn on the UI goroutine and waits for it to finish.
func (d *Dashboard) Do(ctx context.Context, fn func()) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}

	finished := make(chan struct{})
	d.app.QueueUpdateDraw(func() {
		defer close(finished)
		fn()
		d.updateTotals()
	})

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrStopped
	}
}

func (d *Dashboard) setupUI() {
	d.totalsView = tview.NewTextView().
		SetDynamicColors(true)
	d.totalsView.SetBorder(true).
		SetTitle(" Totals ")

	d.statusView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight)
	d.statusView.SetBorder(true).
		SetTitle(" Host ")

	d.helpView = tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]s[white] sort  [yellow]S[white] reverse  [yellow]/[white] filter  [yellow]q[white] quit")

	header := tview.NewFlex().
		AddItem(d.totalsView, 0, 1, false).
		AddItem(d.statusView, 0, 1, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 3, 1, false).
		AddItem(d.table.Primitive(), 0, 1, true).
		AddItem(d.helpView, 1, 1, false)

	d.pages.AddPage("main", mainFlex, true, true)
	d.updateTotals()

	d.app.SetRoot(d.pages, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if d.app.GetFocus() != d.table.table {
				// the filter dialog has focus
				return event
			}
			switch event.Key() {
			case tcell.KeyEsc:
				d.app.Stop()
				return nil
			case tcell.KeyRune:
				if event.Rune() == 'q' {
					d.app.Stop()
					return nil
				}
			}
			return event
		})
}

func (d *Dashboard) updateTotals() {
	d.totalsView.SetText(formatTotals(d.table.Totals(), d.eventRate()))
}

func (d *Dashboard) eventRate() float64 {
	if d.metrics == nil {
		return 0
	}
	return d.metrics.EventRate()
}

func (d *Dashboard) statusLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			stats, err := d.systemCollector.Collect()
			if err != nil {
				d.log.Debug("host stats unavailable", zap.Error(err))
				continue
			}
			d.app.QueueUpdateDraw(func() {
				d.statusView.SetText(formatHost(stats))
				d.updateTotals()
			})
		}
	}
}

func formatTotals(t types.Totals, eventsPerSec float64) string {
	return fmt.Sprintf("[green]Sent: %.3fkbps[white]  [red]Received: %.3fkbps[white]  [gray]%.1f events/s",
		t.Sent, t.Received, eventsPerSec)
}

func formatHost(s *types.HostStats) string {
	return fmt.Sprintf("[yellow]CPU:[white] %.1f%%  [yellow]Mem:[white] %s / %s (%.1f%%)  [yellow]Goroutines:[white] %d",
		s.CPUPercent,
		formatBytes(s.MemoryUsed),
		formatBytes(s.MemoryTotal),
		s.MemoryPerc,
		s.Goroutines,
	)
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
