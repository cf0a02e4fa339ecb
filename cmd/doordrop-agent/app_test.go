package main

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bartoszx/doordrop/config"
	"github.com/bartoszx/doordrop/internal/actuator"
	"github.com/bartoszx/doordrop/internal/mail"
	"github.com/bartoszx/doordrop/internal/models"
	"github.com/bartoszx/doordrop/internal/services/gate"
	"github.com/bartoszx/doordrop/internal/services/scanner"
)

func TestResolveSettings_Defaults(t *testing.T) {
	set := resolveSettings(&config.Config{})
	require.Equal(t, time.Minute, set.scanInterval)
	require.Equal(t, "doordrop.kod", set.codeTopic)
	require.Equal(t, "doordrop.status", set.statusTopic)
	require.Equal(t, "doordrop-agent", set.consumerGroup)
	require.Equal(t, ":8082", set.httpAddr)
	require.Empty(t, set.discoveryTopic)
}

func TestResolveSettings_Configured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mail.ScanIntervalMinutes = 5
	cfg.Kafka.CodeTopicName = "in"
	cfg.Kafka.StatusTopicName = "out"
	cfg.Kafka.DiscoveryTopicName = "disc"
	cfg.Gate.HTTPAddr = ":9999"

	set := resolveSettings(cfg)
	require.Equal(t, 5*time.Minute, set.scanInterval)
	require.Equal(t, "in", set.codeTopic)
	require.Equal(t, "out", set.statusTopic)
	require.Equal(t, "disc", set.discoveryTopic)
	require.Equal(t, ":9999", set.httpAddr)
}

func TestDefaultAgentFactories_ActuatorFallsBackToFake(t *testing.T) {
	f := defaultAgentFactories()

	a := f.newActuator(&config.Config{})
	_, ok := a.(*actuator.Fake)
	require.True(t, ok)

	cfg := &config.Config{}
	cfg.Gate.SupervisorURL = "http://supervisor/core"
	cfg.Gate.SupervisorToken = "tok"
	a = f.newActuator(cfg)
	_, ok = a.(*actuator.HTTPClient)
	require.True(t, ok)
}

func TestDefaultAgentFactories_NoRedisMeansNoLimiter(t *testing.T) {
	f := defaultAgentFactories()
	require.Nil(t, f.newRateLimiter(&config.Config{}))
	require.Nil(t, f.newCache(&config.Config{}))

	cfg := &config.Config{}
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 6379
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newCache(cfg))
}

type memStore struct {
	upserts  atomic.Int32
	consumes atomic.Int32
	recents  atomic.Int32
}

func (m *memStore) UpsertDiscovered(ctx context.Context, code string) (bool, error) {
	m.upserts.Add(1)
	return true, nil
}

func (m *memStore) Consume(ctx context.Context, code string, now time.Time) (bool, error) {
	m.consumes.Add(1)
	return true, nil
}

func (m *memStore) ActiveCount(ctx context.Context) (int64, error) { return 0, nil }

func (m *memStore) RecentShipments(ctx context.Context, limit int) ([]*models.Shipment, error) {
	m.recents.Add(1)
	return []*models.Shipment{{Code: "123456789012", Active: true}}, nil
}

// memCache is a map-backed responseCache, TTL ignored.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string][]byte{}
	}
	c.entries[key] = value
	return nil
}

type memSource struct{ fetched atomic.Int32 }

func (s *memSource) FetchUnseen(ctx context.Context) ([]mail.Message, error) {
	s.fetched.Add(1)
	return []mail.Message{{Subject: "Allegro", Body: "Kod A0001234AB"}}, nil
}

type memProducer struct{ published atomic.Int32 }

func (p *memProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.published.Add(1)
	return nil
}

type memConsumer struct{ payloads [][]byte }

func (c *memConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for _, p := range c.payloads {
		if err := handler(nil, p); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *memConsumer) Close() error { return nil }

func TestRunAgent_WiresScanAndAuthorize(t *testing.T) {
	store := &memStore{}
	source := &memSource{}
	prod := &memProducer{}
	act := &actuator.Fake{}

	f := agentFactories{
		newStorage: func(cfg *config.Config) (ledgerStore, func(), error) {
			return store, func() {}, nil
		},
		newProducer: func(cfg *config.Config) producer { return prod },
		newConsumer: func(cfg *config.Config, topic, group string) codeConsumer {
			return &memConsumer{payloads: [][]byte{[]byte("123456789012\r\n")}}
		},
		newRateLimiter: func(cfg *config.Config) gate.RateLimiter { return nil },
		newCache:       func(cfg *config.Config) responseCache { return nil },
		newMailSource:  func(cfg *config.Config) scanner.Source { return source },
		newActuator:    func(cfg *config.Config) actuator.Client { return act },
	}

	cfg := &config.Config{}
	cfg.Gate.HTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunAgent(ctx, cfg, f) }()

	require.Eventually(t, func() bool {
		return store.upserts.Load() >= 1 && store.consumes.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestAgentHTTPServer_ShipmentsServedFromCache(t *testing.T) {
	store := &memStore{}
	cache := &memCache{}

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			store:    store,
			cache:    cache,
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(3 * time.Second):
		t.Fatal("ops server did not start")
	}

	get := func() string {
		resp, err := http.Get("http://" + addr + "/shipments?limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}

	first := get()
	require.Contains(t, first, "123456789012")

	second := get()
	require.Equal(t, first, second)
	// второй запрос обслужен из кэша, в хранилище не ходили
	require.Equal(t, int32(1), store.recents.Load())
}
