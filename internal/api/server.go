package api

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"freightalloc/internal/auth"
	"freightalloc/internal/capacity"
	"freightalloc/internal/engine"
	"freightalloc/internal/opt"
	"freightalloc/internal/store"
	"freightalloc/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Broker  EventBroker
	Engine  *engine.Engine
	Auth    *auth.Verifier
	Pub     *webhooks.Publisher
	Worker  *webhooks.Worker
	Limiter *rate.Limiter

	// Applied when an allocation request leaves them unset.
	DefaultStrategy   opt.Strategy
	DefaultTimeBudget time.Duration
}

// NewServer wires a Server from the environment. Without DATABASE_URL the
// in-memory store is used; without REDIS_URL the in-process broker.
func NewServer() (*Server, error) {
	m, err := capacity.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	strategy, err := opt.ParseStrategy(os.Getenv("ALLOCATION_STRATEGY"))
	if err != nil {
		return nil, err
	}

	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Printf("migrate err=%v", err)
			}
		}
		s = sp
	}

	var broker EventBroker = NewBroker()
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
		}
	}

	return &Server{
		Store:             s,
		Broker:            broker,
		Engine:            engine.New(m),
		Auth:              auth.NewVerifierFromEnv(),
		Pub:               webhooks.NewPublisherFromEnv(),
		Limiter:           newLimiterFromEnv(),
		DefaultStrategy:   strategy,
		DefaultTimeBudget: time.Duration(envInt("SOLVER_TIME_BUDGET_MS", 0)) * time.Millisecond,
	}, nil
}

// newLimiterFromEnv limits allocation runs to RATE_RPS per second with
// RATE_BURST burst; RATE_RPS <= 0 disables limiting.
func newLimiterFromEnv() *rate.Limiter {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
	if err != nil {
		rps = 2
	}
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), envInt("RATE_BURST", 4))
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return d
}

// NewWebhookWorker creates the background worker for allocation webhooks.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	s.Worker = webhooks.NewWorker(s.Pub)
	return s.Worker
}
