//go:build !(linux && cgo && nethogs)

package collector

import (
	"time"

	"go.uber.org/zap"
)

// NethogsEngine is unavailable in builds without the nethogs tag.
type NethogsEngine struct{}

// NewNethogsEngine reports that libnethogs support was not compiled in.
// Build with `-tags nethogs` on Linux to enable it.
func NewNethogsEngine(log *zap.Logger) (*NethogsEngine, error) {
	return nil, ErrNotSupported
}

func (e *NethogsEngine) Loop(cb Callback, interval time.Duration) error {
	return ErrNotSupported
}

func (e *NethogsEngine) BreakLoop() {}
