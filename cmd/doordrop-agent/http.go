package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bartoszx/doordrop/internal/services/gate"
	"github.com/bartoszx/doordrop/internal/services/scanner"
)

// responseCache keeps rendered ops responses out of the database on
// repeated polls. Satisfied by rediscache.RedisCache.
type responseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const shipmentsCacheTTL = 10 * time.Second

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	scanner *scanner.Scanner
	gate    *gate.Service
	store   ledgerStore
	cache   responseCache
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{}
		if opts.scanner != nil {
			out["scanner"] = opts.scanner.Stats()
		}
		if opts.gate != nil {
			out["gate"] = opts.gate.Stats()
		}
		if opts.store != nil {
			if n, err := opts.store.ActiveCount(r.Context()); err == nil {
				out["activeShipments"] = n
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/shipments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.store == nil {
			_, _ = w.Write([]byte(`{"error":"store not wired"}`))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		cacheKey := "ops:shipments:" + strconv.Itoa(limit)
		if opts.cache != nil {
			if cached, ok, err := opts.cache.Get(r.Context(), cacheKey); err == nil && ok {
				_, _ = w.Write(cached)
				return
			}
		}
		list, err := opts.store.RecentShipments(r.Context(), limit)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		payload, err := json.Marshal(list)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if opts.cache != nil {
			// best effort, списки устаревают сами по TTL
			_ = opts.cache.Set(r.Context(), cacheKey, payload, shipmentsCacheTTL)
		}
		_, _ = w.Write(payload)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.scanner == nil {
			_, _ = w.Write([]byte(`{"error":"scanner not wired"}`))
			return
		}
		opts.scanner.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
