// Package gate decides whether a presented barcode opens the gate. A code
// authorizes at most once: the ledger consume is a single conditional
// update, so two near-simultaneous scans of the same label cannot both win.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bartoszx/doordrop/internal/actuator"
	"github.com/bartoszx/doordrop/internal/broker/messages"
	"github.com/bartoszx/doordrop/internal/errkind"
	"github.com/bartoszx/doordrop/internal/models"
)

type Ledger interface {
	Consume(ctx context.Context, code string, now time.Time) (consumed bool, err error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const (
	viaStatic = "static"
	viaLedger = "ledger"
)

type Service struct {
	ledger   Ledger
	act      actuator.Client
	producer Producer
	rl       RateLimiter

	statusTopic string
	authorized  map[string]struct{}

	// presentations of one code permitted per minute before the handler
	// short-circuits to Unauthorized without touching storage
	presentLimit int64

	totalEvents       atomic.Int64
	totalAuthorized   atomic.Int64
	totalUnauthorized atomic.Int64
	totalStaticHits   atomic.Int64
	totalFlooded      atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(ledger Ledger, act actuator.Client, producer Producer, statusTopic string) *Service {
	return &Service{
		ledger:      ledger,
		act:         act,
		producer:    producer,
		statusTopic: statusTopic,
		authorized:  map[string]struct{}{},
	}
}

// WithAuthorizedBarcodes installs the static always-authorized set. These
// codes bypass the ledger entirely and stay reusable.
func (s *Service) WithAuthorizedBarcodes(set map[string]struct{}) *Service {
	if set != nil {
		s.authorized = set
	}
	return s
}

// WithFloodGuard enables the per-code presentation rate limit.
func (s *Service) WithFloodGuard(rl RateLimiter, perMinute int) *Service {
	if rl != nil && perMinute > 0 {
		s.rl = rl
		s.presentLimit = int64(perMinute)
	}
	return s
}

type Stats struct {
	TotalEvents       int64  `json:"totalEvents"`
	TotalAuthorized   int64  `json:"totalAuthorized"`
	TotalUnauthorized int64  `json:"totalUnauthorized"`
	TotalStaticHits   int64  `json:"totalStaticHits"`
	TotalFlooded      int64  `json:"totalFlooded"`
	LastError         string `json:"lastError,omitempty"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		TotalEvents:       s.totalEvents.Load(),
		TotalAuthorized:   s.totalAuthorized.Load(),
		TotalUnauthorized: s.totalUnauthorized.Load(),
		TotalStaticHits:   s.totalStaticHits.Load(),
		TotalFlooded:      s.totalFlooded.Load(),
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// HandlePresented processes one barcode payload from the code topic and
// always publishes exactly one verdict. It never returns an error for
// taxonomy failures (storage down, actuator down, flood): the safe default
// is an Unauthorized verdict and the consumer keeps running.
func (s *Service) HandlePresented(ctx context.Context, payload []byte) error {
	s.totalEvents.Add(1)

	// scanners append CR/LF to scanned labels; beyond trimming that, the
	// code is compared verbatim, no re-extraction through the patterns
	code := strings.TrimSpace(string(payload))
	if code == "" {
		s.publishVerdict(ctx, code, models.VerdictUnauthorized, "")
		return nil
	}

	if _, ok := s.authorized[code]; ok {
		s.totalStaticHits.Add(1)
		slog.Info("static barcode authorized", "code", code)
		s.pressGate(ctx, code)
		s.publishVerdict(ctx, code, models.VerdictAuthorized, viaStatic)
		return nil
	}

	if s.rl != nil {
		key := fmt.Sprintf("present:%s:%s", code, time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, key, s.presentLimit, 70*time.Second)
		if err != nil {
			// redis being down must not block authorization
			slog.Warn("flood guard unavailable", "error", err.Error())
		} else if !allowed {
			s.totalFlooded.Add(1)
			slog.Warn("presentation flood", "code", code, "count", n)
			s.publishVerdict(ctx, code, models.VerdictUnauthorized, "")
			return nil
		}
	}

	consumed, err := s.ledger.Consume(ctx, code, time.Now().UTC())
	if err != nil {
		s.recordError(err)
		slog.Error("consume code", "code", code, "error", err.Error())
		s.publishVerdict(ctx, code, models.VerdictUnauthorized, "")
		return nil
	}
	if !consumed {
		// неизвестный или уже использованный код — не авторизован
		s.publishVerdict(ctx, code, models.VerdictUnauthorized, "")
		return nil
	}

	slog.Info("shipment code authorized", "code", code)
	s.pressGate(ctx, code)
	s.publishVerdict(ctx, code, models.VerdictAuthorized, viaLedger)
	return nil
}

func (s *Service) pressGate(ctx context.Context, code string) {
	if err := s.act.Press(ctx); err != nil {
		// the verdict stands; the gate just did not move
		s.recordError(err)
		slog.Error("press gate button", "code", code, "error", err.Error())
	}
}

func (s *Service) publishVerdict(ctx context.Context, code, verdict, via string) {
	if verdict == models.VerdictAuthorized {
		s.totalAuthorized.Add(1)
	} else {
		s.totalUnauthorized.Add(1)
	}

	msg := messages.GateVerdict{
		Code:    code,
		Verdict: verdict,
		Via:     via,
		At:      time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err == nil {
		err = s.producer.Publish(ctx, s.statusTopic, []byte(code), b)
	}
	if err != nil {
		s.recordError(errkind.BusPublish(err))
		slog.Error("publish verdict", "code", code, "verdict", verdict, "error", err.Error())
	}
}

func (s *Service) recordError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
