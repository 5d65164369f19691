package main

import (
	"context"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/memory"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/postgres"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/redis"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/sqlite"
)

func openStore(ctx context.Context, cfg config.Config, m *metrics.Metrics) (hub.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory, "":
		return memory.New(), nil
	case config.StoreBackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreBackendPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreBackendRedis:
		s, err := redis.Open(ctx, redis.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		s.OnConflict = func() { m.Inc(metrics.StoreConflict) }
		return s, nil
	default:
		// Should be validated by config.Load.
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
