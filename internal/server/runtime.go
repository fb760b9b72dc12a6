package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"runbot/internal/orchestrator"
	"runbot/internal/policy"
	"runbot/internal/queue"
	"runbot/internal/store"
	"runbot/internal/webapi"
)

type Options struct {
	Addr            string
	PolicyPath      string
	DBPath          string
	ShutdownTimeout time.Duration
}

type Runtime struct {
	opts    Options
	cfg     policy.Config
	queue   *queue.Service
	server  *http.Server
	started time.Time
}

func NewRuntime(options Options) (*Runtime, error) {
	options = normalizeOptions(options)
	cfg, _, err := policy.Load(options.PolicyPath)
	if err != nil {
		return nil, err
	}
	if options.DBPath != "" {
		cfg.Store.Path = options.DBPath
	}
	st, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.NewService(cfg, st, nil)

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	q := queue.NewService(transport, orch, cfg.Queue.WorkerEnabled, nil)

	mux := http.NewServeMux()
	webapi.New(orch, q).Register(mux)

	return &Runtime{
		opts:    options,
		cfg:     cfg,
		queue:   q,
		server:  &http.Server{Addr: options.Addr, Handler: mux},
		started: time.Now().UTC(),
	}, nil
}

func buildStore(cfg policy.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		st := store.NewSQLiteStore(cfg.Store.Path)
		if err := st.Init(); err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func buildTransport(cfg policy.Config) (queue.Transport, error) {
	if cfg.Queue.RedisURL != "" {
		return queue.NewRedisTransport(cfg.Queue.RedisURL, nil)
	}
	return queue.NewChannelTransport(nil), nil
}

func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if err := r.queue.Start(workerCtx); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			r.queue.Stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.queue.Stop()
		return err
	}
	r.queue.Stop()
	return nil
}

func normalizeOptions(options Options) Options {
	if options.Addr == "" {
		options.Addr = ":3001"
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	return options
}
