package collector

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nozo-moto/gnethogs/internal/eventchan"
	"github.com/nozo-moto/gnethogs/internal/metrics"
	"github.com/nozo-moto/gnethogs/pkg/types"
)

// Producer runs an engine loop and forwards every record update onto an
// event channel.
type Producer struct {
	engine   Engine
	tx       *eventchan.Sender
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger

	stopOnce sync.Once
	stopReq  chan struct{}
	// set once the receiving side has gone away
	receiverGone atomic.Bool
}

// NewProducer wires engine to tx. The channel must exist before the
// producer is started.
func NewProducer(engine Engine, tx *eventchan.Sender, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		engine:   engine,
		tx:       tx,
		interval: interval,
		metrics:  m,
		log:      log,
		stopReq:  make(chan struct{}),
	}
}

// Run blocks in the engine loop. It closes the sender when the loop
// returns. A receiver that went away is a normal stop, not an error.
func (p *Producer) Run() error {
	if p.tx == nil {
		return errors.New("producer started without an event channel")
	}
	defer p.tx.Close()

	done := make(chan struct{})
	go p.repeatBreak(done)

	p.log.Info("engine loop starting", zap.Duration("interval", p.interval))
	err := p.engine.Loop(p.handle, p.interval)
	close(done)
	if p.receiverGone.Load() {
		p.log.Info("engine loop stopped, receiver closed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine loop: %w", err)
	}
	p.log.Info("engine loop stopped")
	return nil
}

// Stop asks the engine loop to return. Only the first call has an effect.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopReq)
		p.engine.BreakLoop()
	})
}

// repeatBreak keeps breaking the engine loop after Stop until Loop returns.
// An engine still initialising may overwrite a break issued before its loop
// has started.
func (p *Producer) repeatBreak(done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-p.stopReq:
	}

	interval := p.interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.log.Debug("engine loop still running, breaking again")
			p.engine.BreakLoop()
		}
	}
}

func (p *Producer) handle(action int32, rec *RawRecord) {
	if rec == nil {
		p.log.Warn("engine reported a nil record", zap.Int32("action", action))
		p.observeAnomaly(metrics.BadAction)
		return
	}

	ev, ok := p.convert(action, rec)
	if !ok {
		return
	}

	if err := p.tx.Send(ev); err != nil {
		if p.receiverGone.CompareAndSwap(false, true) {
			p.log.Info("event channel closed, stopping engine", zap.Error(err))
		}
		p.Stop()
	}
}

func (p *Producer) convert(action int32, rec *RawRecord) (types.BandwidthEvent, bool) {
	act := types.Action(action)
	if !act.Valid() {
		p.log.Warn("dropping record with unknown action",
			zap.Int32("action", action),
			zap.Int32("record_id", rec.RecordID))
		p.observeAnomaly(metrics.BadAction)
		return types.BandwidthEvent{}, false
	}

	program, ok := decodeText(rec.Name)
	if !ok {
		p.log.Warn("program name is not valid UTF-8", zap.Int32("record_id", rec.RecordID))
		p.observeAnomaly(metrics.BadText)
	}
	device, ok := decodeText(rec.Device)
	if !ok {
		p.log.Warn("device name is not valid UTF-8", zap.Int32("record_id", rec.RecordID))
		p.observeAnomaly(metrics.BadText)
	}

	return types.BandwidthEvent{
		Action:   act,
		RecordID: rec.RecordID,
		PID:      rec.PID,
		UID:      rec.UID,
		Program:  program,
		Device:   device,
		Sent:     rec.SentKBs,
		Received: rec.RecvKBs,
	}, true
}

func (p *Producer) observeAnomaly(kind string) {
	if p.metrics != nil {
		p.metrics.ObserveAnomaly(kind)
	}
}

// decodeText turns a possibly NUL-terminated byte string into a Go string.
// Invalid UTF-8 is replaced with U+FFFD and reported through ok.
func decodeText(b []byte) (s string, ok bool) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if utf8.Valid(b) {
		return string(b), true
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError)), false
}
