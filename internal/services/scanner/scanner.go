package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bartoszx/doordrop/internal/broker/messages"
	"github.com/bartoszx/doordrop/internal/carriers"
	"github.com/bartoszx/doordrop/internal/mail"
)

type Source interface {
	FetchUnseen(ctx context.Context) ([]mail.Message, error)
}

type Ledger interface {
	UpsertDiscovered(ctx context.Context, code string) (created bool, err error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Scanner runs the periodic inbox scan: fetch unseen messages, identify the
// carrier, extract the tracking code, record it in the ledger. Cycles run
// one at a time on a single goroutine; a cycle that outlives the interval
// delays the next tick, it never overlaps it.
type Scanner struct {
	source   Source
	ledger   Ledger
	producer Producer

	discoveryTopic string

	interval     time.Duration
	cycleTimeout time.Duration

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalCycles       atomic.Int64
	totalMessages     atomic.Int64
	totalCodes        atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(source Source, ledger Ledger, interval time.Duration) *Scanner {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Scanner{
		source:            source,
		ledger:            ledger,
		interval:          interval,
		cycleTimeout:      2 * time.Minute,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithDiscoveryPublisher makes the scanner announce newly created ledger
// rows on the given topic. Best effort: publish failures are logged only.
func (s *Scanner) WithDiscoveryPublisher(p Producer, topic string) *Scanner {
	s.producer = p
	s.discoveryTopic = topic
	return s
}

// Trigger forces an immediate scan cycle (best-effort, non-blocking).
func (s *Scanner) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalMessages int64      `json:"totalMessages"`
	TotalCodes    int64      `json:"totalCodes"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Scanner) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles:   s.totalCycles.Load(),
		TotalMessages: s.totalMessages.Load(),
		TotalCodes:    s.totalCodes.Load(),
		TotalErrors:   s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scanner) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.totalCycles.Add(1)

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	msgs, err := s.source.FetchUnseen(cycleCtx)
	if err != nil {
		// mail failure kills only this cycle; next tick retries
		s.recordError(err)
		slog.Error("inbox scan", "error", err.Error())
		return
	}
	s.totalMessages.Add(int64(len(msgs)))

	for _, msg := range msgs {
		if err := s.processMessage(cycleCtx, msg); err != nil {
			s.recordError(err)
			slog.Error("process message", "subject", msg.Subject, "error", err.Error())
		}
	}
}

func (s *Scanner) processMessage(ctx context.Context, msg mail.Message) error {
	candidates := carriers.Identify(msg.Subject, msg.Body)
	carrier, code, ok := carriers.ExtractAny(candidates, msg.Body)
	if !ok {
		slog.Debug("no tracking code in message", "subject", msg.Subject)
		return nil
	}

	created, err := s.ledger.UpsertDiscovered(ctx, code)
	if err != nil {
		return err
	}
	if !created {
		slog.Info("tracking code already known", "code", code)
		return nil
	}

	s.totalCodes.Add(1)
	slog.Info("tracking code discovered", "carrier", carrier, "code", code)

	if s.producer != nil && s.discoveryTopic != "" {
		ev := messages.ShipmentDiscovered{
			Code:         code,
			Carrier:      carrier,
			DiscoveredAt: time.Now().UTC(),
		}
		b, err := json.Marshal(ev)
		if err == nil {
			err = s.producer.Publish(ctx, s.discoveryTopic, []byte(code), b)
		}
		if err != nil {
			slog.Warn("publish discovery", "code", code, "error", err.Error())
		}
	}
	return nil
}

func (s *Scanner) recordError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
