package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waldiez/runner/internal/authn"
	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/collector"
	"github.com/waldiez/runner/internal/config"
	"github.com/waldiez/runner/internal/events"
	"github.com/waldiez/runner/internal/mediator"
	"github.com/waldiez/runner/internal/metrics"
	"github.com/waldiez/runner/internal/objectstore"
	"github.com/waldiez/runner/internal/permission"
	"github.com/waldiez/runner/internal/scheduler"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

const hoursPerDay = 24

// deps holds every collaborator shared by the server/worker/scheduler
// subcommands, built once from Config so each subcommand only wires what it
// actually serves.
type deps struct {
	cfg       *config.Config
	taskStore store.TaskStore
	objects   objectstore.Store
	redisBus  bus.Bus
	registry  *task.Registry
	mediator  *mediator.Mediator
	eventsBus *events.Bus
	verifier  authn.Verifier
	sched     *scheduler.Scheduler
	collector *collector.Collector
}

func newDeps(cfg *config.Config) (*deps, error) {
	taskStore, err := store.Open(cfg.PersistenceURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	objects, err := objectstore.NewLocalStore(cfg.ObjectStoragePath)
	if err != nil {
		taskStore.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.StreamBackendURL)
	if err != nil {
		taskStore.Close()
		return nil, fmt.Errorf("parse stream backend url: %w", err)
	}
	redisBus := bus.NewRedisBus(redis.NewClient(redisOpts))

	registry := task.NewRegistry()
	med := mediator.New(redisBus, registry,
		mediator.WithDefaultInputTimeout(time.Duration(cfg.DefaultInputTimeoutSec)*time.Second))

	eventsBus := events.NewBus()
	metricsListener := metrics.NewListener()
	eventsBus.SubscribeAll(metricsListener.EventsListener())

	var oracle permission.Oracle = permission.AllowAll{}

	var verifier authn.Verifier
	switch cfg.AuthMode {
	case "jwt":
		verifier = authn.NewJWTVerifier(cfg.JWTSigningKey)
	default:
		verifier = authn.NopVerifier{}
	}

	retention := time.Duration(cfg.TaskRetentionDays) * hoursPerDay * time.Hour
	coll := collector.New(objects, redisBus, med, retention)

	runner := scheduler.NewSupervisorRunner(cfg.StreamBackendURL, med)
	sched := scheduler.New(cfg.MaxJobs, taskStore, registry, oracle, runner, eventsBus, coll)

	return &deps{
		cfg:       cfg,
		taskStore: taskStore,
		objects:   objects,
		redisBus:  redisBus,
		registry:  registry,
		mediator:  med,
		eventsBus: eventsBus,
		verifier:  verifier,
		sched:     sched,
		collector: coll,
	}, nil
}

func (d *deps) Close() {
	_ = d.redisBus.Close()
	_ = d.taskStore.Close()
}

// checkOriginFromHosts builds a gorilla/websocket CheckOrigin func from the
// configured trusted-WS-hosts list. An empty list returns nil, which leaves
// wsgateway on gorilla/websocket's default same-origin check.
func checkOriginFromHosts(hosts []string) func(*http.Request) bool {
	if len(hosts) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		return allowed[strings.ToLower(host)]
	}
}
