package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartoszx/doordrop/config"
	"github.com/bartoszx/doordrop/internal/actuator"
	"github.com/bartoszx/doordrop/internal/broker/kafka"
	"github.com/bartoszx/doordrop/internal/cache/rediscache"
	"github.com/bartoszx/doordrop/internal/mail"
	"github.com/bartoszx/doordrop/internal/models"
	"github.com/bartoszx/doordrop/internal/services/gate"
	"github.com/bartoszx/doordrop/internal/services/scanner"
	"github.com/bartoszx/doordrop/internal/storage/pgshipments"
)

// ledgerStore is everything the agent needs from the shipment ledger.
type ledgerStore interface {
	scanner.Ledger
	gate.Ledger
	ActiveCount(ctx context.Context) (int64, error)
	RecentShipments(ctx context.Context, limit int) ([]*models.Shipment, error)
}

type producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type codeConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type agentFactories struct {
	newStorage     func(cfg *config.Config) (ledgerStore, func(), error)
	newProducer    func(cfg *config.Config) producer
	newConsumer    func(cfg *config.Config, topic, group string) codeConsumer
	newRateLimiter func(cfg *config.Config) gate.RateLimiter
	newCache       func(cfg *config.Config) responseCache
	newMailSource  func(cfg *config.Config) scanner.Source
	newActuator    func(cfg *config.Config) actuator.Client
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newStorage: func(cfg *config.Config) (ledgerStore, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipments.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config, topic, group string) codeConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) gate.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newCache: func(cfg *config.Config) responseCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newMailSource: func(cfg *config.Config) scanner.Source {
			return mail.NewClient(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.Mailbox)
		},
		newActuator: func(cfg *config.Config) actuator.Client {
			if cfg.Gate.SupervisorURL == "" && cfg.Gate.SupervisorToken == "" {
				// nothing to call; keep the agent useful in dry runs
				return &actuator.Fake{}
			}
			return actuator.New(cfg.Gate.SupervisorURL, cfg.Gate.SupervisorToken, cfg.Gate.ButtonEntityID)
		},
	}
}

type agentSettings struct {
	scanInterval   time.Duration
	codeTopic      string
	statusTopic    string
	discoveryTopic string
	consumerGroup  string
	httpAddr       string
}

func resolveSettings(cfg *config.Config) agentSettings {
	s := agentSettings{
		scanInterval:   time.Duration(cfg.Mail.ScanIntervalMinutes) * time.Minute,
		codeTopic:      cfg.Kafka.CodeTopicName,
		statusTopic:    cfg.Kafka.StatusTopicName,
		discoveryTopic: cfg.Kafka.DiscoveryTopicName,
		consumerGroup:  cfg.Kafka.ConsumerGroup,
		httpAddr:       cfg.Gate.HTTPAddr,
	}
	if s.scanInterval < time.Minute {
		s.scanInterval = time.Minute
	}
	if s.codeTopic == "" {
		s.codeTopic = "doordrop.kod"
	}
	if s.statusTopic == "" {
		s.statusTopic = "doordrop.status"
	}
	if s.consumerGroup == "" {
		s.consumerGroup = "doordrop-agent"
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8082"
	}
	return s
}

func RunAgent(ctx context.Context, cfg *config.Config, f agentFactories) error {
	set := resolveSettings(cfg)

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	prod := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	rcache := f.newCache(cfg)
	act := f.newActuator(cfg)
	source := f.newMailSource(cfg)

	gateSvc := gate.New(store, act, prod, set.statusTopic).
		WithAuthorizedBarcodes(cfg.Gate.AuthorizedBarcodeSet()).
		WithFloodGuard(rl, cfg.Gate.PresentationLimitPerMinute)

	sc := scanner.New(source, store, set.scanInterval)
	if set.discoveryTopic != "" {
		sc = sc.WithDiscoveryPublisher(prod, set.discoveryTopic)
	}

	go runCodeConsumer(ctx, cfg, f, set, gateSvc)

	go func() {
		err := runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: set.httpAddr,
			scanner:  sc,
			gate:     gateSvc,
			store:    store,
			cache:    rcache,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("ops http server", "error", err.Error())
		}
	}()

	// one scan right away, as the integration does on setup
	sc.Trigger()

	return sc.Run(ctx)
}

// runCodeConsumer keeps a consumer on the code topic alive, reconnecting
// with a small backoff. Handler errors never reach here (the gate service
// swallows them into Unauthorized verdicts), so an exit means broker
// trouble.
func runCodeConsumer(ctx context.Context, cfg *config.Config, f agentFactories, set agentSettings, gateSvc *gate.Service) {
	for {
		c := f.newConsumer(cfg, set.codeTopic, set.consumerGroup)
		err := c.Consume(ctx, func(key, value []byte) error {
			return gateSvc.HandlePresented(ctx, value)
		})
		_ = c.Close()
		if ctx.Err() != nil {
			return
		}
		slog.Error("code consumer", "topic", set.codeTopic, "error", err.Error())
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}
