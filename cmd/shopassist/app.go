package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shopassist/internal/adapter/agents"
	"shopassist/internal/adapter/audit"
	"shopassist/internal/adapter/catalog"
	"shopassist/internal/adapter/channel"
	"shopassist/internal/adapter/remoteagent"
	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/infra/logger"
	"shopassist/internal/usecase/a2a"
	"shopassist/internal/usecase/eventbus"
	"shopassist/internal/usecase/host"
	"shopassist/internal/usecase/intent"
	"shopassist/internal/usecase/resilience"
	"shopassist/internal/usecase/scheduling"
	"shopassist/internal/usecase/session"
)

// app holds the wired assistant.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	recorder  *audit.SQLiteRecorder
	catalog   *catalog.Client
	protocol  *a2a.Protocol
	suite     *agents.Suite
	sessions  *session.Store
	host      *host.Host
	server    *channel.HTTPServer
	scheduler *scheduling.Scheduler
}

// buildApp wires every component from cfg and starts the protocol. The
// returned cleanup shuts the protocol down within the configured timeout
// and releases the audit store and event bus.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, func(context.Context) error, error) {
	log = logger.OrDiscard(log)
	a := &app{cfg: cfg, log: log}

	// 1. Event bus
	a.bus = eventbus.New(log)
	a.bus.SubscribeAll(logger.EventSink(log))

	// 2. Audit trail
	protoOpts := []a2a.Option{
		a2a.WithRequestTimeout(cfg.Protocol.RequestTimeout),
		a2a.WithSweepInterval(cfg.Protocol.SweepInterval),
		a2a.WithEventBus(a.bus),
		a2a.WithLogger(log),
	}
	if cfg.Audit.Enabled {
		rec, err := audit.NewSQLiteRecorder(cfg.Audit.Path)
		if err != nil {
			a.bus.Close()
			return nil, nil, fmt.Errorf("audit: %w", err)
		}
		a.recorder = rec
		protoOpts = append(protoOpts, a2a.WithRecorder(rec))
	}

	// 3. Remote transport
	breakerOpened := func(name string) {
		eventbus.Emit(context.Background(), a.bus, log, domain.EventBreakerOpened, "", map[string]string{"breaker": name})
	}
	if len(cfg.RemoteAgents) > 0 {
		transport := remoteagent.FromConfig(cfg.RemoteAgents, log, remoteagent.OnTrip(breakerOpened))
		protoOpts = append(protoOpts, a2a.WithTransport(transport))
	}

	// 4. Protocol
	a.protocol = a2a.New(protoOpts...)

	// 5. Catalog and capability agents
	a.catalog = catalog.New(cfg.Catalog, log, catalog.WithBreakerOptions(
		resilience.OnOpen(func(name string, _ int) { breakerOpened(name) }),
	))
	vocab := intent.VocabularyFor(a.catalog.Names(ctx))
	a.suite = agents.NewSuite(a.catalog, agents.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL,
	}, log, agents.WithVocabulary(vocab))

	remote := make(map[string]bool, len(cfg.RemoteAgents))
	for _, ra := range cfg.RemoteAgents {
		remote[ra.Name] = true
		if err := a.protocol.RegisterAgent(ra.Name, nil, a2a.WithEndpoint(ra.Endpoint)); err != nil {
			return nil, nil, a.abort(fmt.Errorf("register remote %s: %w", ra.Name, err))
		}
	}
	for name, handle := range a.suite.Handles() {
		if remote[name] {
			continue
		}
		if err := a.protocol.RegisterAgent(name, handle); err != nil {
			return nil, nil, a.abort(fmt.Errorf("register %s: %w", name, err))
		}
	}

	// 6. Host
	a.sessions = session.NewStore(session.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL,
		MaxTurns:    cfg.Sessions.MaxTurns,
	}, log)
	classifier := intent.New(
		intent.WithPrecedence(intent.Precedence(cfg.Classifier.FollowUpPrecedence)),
		intent.WithVocabulary(vocab),
		intent.WithLogger(log),
	)
	a.host = host.New(a.protocol, classifier, a.sessions,
		host.WithEventBus(a.bus),
		host.WithLogger(log),
	)
	if err := a.protocol.RegisterAgent(domain.AgentHost, a.host); err != nil {
		return nil, nil, a.abort(fmt.Errorf("register host: %w", err))
	}

	if err := a.protocol.Initialize(ctx); err != nil {
		return nil, nil, a.abort(fmt.Errorf("protocol: %w", err))
	}

	a.server = channel.NewHTTPServer(cfg.Server, a.host, a.protocol, log)

	// 7. Housekeeping
	a.scheduler = scheduling.New(log)
	if err := a.scheduleTasks(); err != nil {
		_ = a.protocol.Shutdown(ctx)
		return nil, nil, a.abort(err)
	}
	return a, a.shutdown, nil
}

func (a *app) scheduleTasks() error {
	if a.recorder != nil && a.cfg.Audit.Retention > 0 {
		err := a.scheduler.Add(scheduling.Task{
			Name:     "audit_retention",
			Schedule: a.cfg.Audit.PruneSchedule,
			Run: func(ctx context.Context) error {
				n, err := a.recorder.Prune(ctx, time.Now().Add(-a.cfg.Audit.Retention))
				if err != nil {
					return err
				}
				if n > 0 {
					a.log.Info("audit entries pruned", "count", n, "retention", a.cfg.Audit.Retention)
				}
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	if a.cfg.Protocol.HealthSchedule != "" {
		err := a.scheduler.Add(scheduling.Task{
			Name:     "health_report",
			Schedule: a.cfg.Protocol.HealthSchedule,
			Run: func(ctx context.Context) error {
				report := a.protocol.HealthCheck(ctx)
				level := slog.LevelDebug
				if report.Status != domain.HealthHealthy {
					level = slog.LevelWarn
				}
				a.log.Log(ctx, level, "protocol health",
					"status", report.Status,
					"pending", report.PendingMessages,
					"agents", report.Agents,
				)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) abort(err error) error {
	a.bus.Close()
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	return err
}

func (a *app) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Protocol.ShutdownTimeout)
	defer cancel()

	a.scheduler.Stop()

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.protocol.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("protocol: %w", err))
	}
	a.bus.Close()
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	return errors.Join(errs...)
}
