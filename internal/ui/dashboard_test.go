package ui

import (
	"context"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

func TestDashboardDoRunsOnEventLoop(t *testing.T) {
	d := NewDashboard("GNethogs", nil, nil)
	d.app.SetScreen(tcell.NewSimulationScreen("UTF-8"))

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, d.Do(ctx, func() {
		d.Table().AppendRow(1, types.Row{PID: 100, User: "root", Program: "curl", Device: "eth0", Sent: 5, Received: 2})
		d.Table().SetTotals(types.Totals{Sent: 5, Received: 2})
	}))

	totals := make(chan string, 1)
	require.NoError(t, d.Do(ctx, func() { totals <- d.totalsView.GetText(true) }))
	assert.Contains(t, <-totals, "Sent: 5.000kbps")

	d.Stop()
	d.Stop()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dashboard did not stop")
	}

	assert.ErrorIs(t, d.Do(ctx, func() {}), ErrStopped)
}

func TestDashboardStopBeforeRun(t *testing.T) {
	d := NewDashboard("GNethogs", nil, nil)
	d.Stop()

	require.NoError(t, d.Run())
	<-d.Done()
	assert.ErrorIs(t, d.Do(context.Background(), func() {}), ErrStopped)
}
