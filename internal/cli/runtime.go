package cli

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/config"
	"github.com/vburojevic/heirlock/internal/lock"
	"github.com/vburojevic/heirlock/internal/messenger"
	"github.com/vburojevic/heirlock/internal/orchestrator"
	"github.com/vburojevic/heirlock/internal/session"
	"github.com/vburojevic/heirlock/internal/store"
	"github.com/vburojevic/heirlock/internal/tmux"
)

// runtime is one host instance wired from configuration.
type runtime struct {
	clock     clock.Clock
	logger    *zap.Logger
	store     *store.Store
	messenger *messenger.Messenger
	link      *messenger.WSLink
	lock      *lock.Coordinator
	manager   *session.Manager
	orch      *orchestrator.Orchestrator

	mu   sync.Mutex
	last session.Handle
}

// broadcastDir returns the spool directory shared by sibling instances of a namespace.
func broadcastDir(cfg *config.Config) (string, error) {
	if cfg.BroadcastDir != "" {
		return cfg.BroadcastDir, nil
	}
	root := cfg.StoreDir
	if root == "" {
		d, err := store.DefaultDir()
		if err != nil {
			return "", err
		}
		root = d
	}
	ns := strings.TrimSuffix(store.NamespaceFile(cfg.Namespace), ".json")
	return filepath.Join(filepath.Dir(root), "broadcast", ns), nil
}

func newSpawner(cfg *config.Config, logger *zap.Logger) session.Spawner {
	if cfg.Spawner == config.SpawnerExec {
		return session.NewExecSpawner(cfg.SpawnCommand, logger)
	}
	return tmux.NewSpawner(tmux.Config{Viewer: cfg.SpawnCommand}, logger)
}

// newMessenger builds a messenger over the sibling spool, plus the
// participant link when withLink is set.
func newMessenger(cfg *config.Config, clk clock.Clock, logger *zap.Logger, withLink bool) (*messenger.Messenger, *messenger.WSLink, error) {
	dir, err := broadcastDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := messenger.Options{
		Clock:            clk,
		Logger:           logger,
		Transport:        messenger.NewFSTransport(dir, clk, logger),
		HeartbeatTimeout: cfg.Timeouts.HeartbeatStale,
		SweepInterval:    cfg.Timeouts.SweepInterval,
	}
	var link *messenger.WSLink
	if withLink {
		link = messenger.NewWSLink(logger)
		opts.Link = link
	}
	return messenger.New(opts), link, nil
}

// newRuntime wires a host instance. The messenger is started; recovery from
// the store happens here.
func newRuntime(globals *Globals, withLink bool) (*runtime, error) {
	cfg := globals.Config
	logger := globals.Logger()
	clk := clock.New()

	policy, err := orchestrator.ParsePolicy(cfg.Bias)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.StoreDir, cfg.Namespace, logger)
	if err != nil {
		return nil, err
	}
	msgr, link, err := newMessenger(cfg, clk, logger, withLink)
	if err != nil {
		return nil, err
	}
	if err := msgr.Start(); err != nil {
		msgr.Close()
		return nil, err
	}

	rt := &runtime{clock: clk, logger: logger, store: st, messenger: msgr, link: link}
	inner := newSpawner(cfg, logger)
	rt.manager = session.NewManager(session.Options{
		Spawner: session.SpawnerFunc(func(ctx context.Context, locator, sessionID string) (session.Handle, error) {
			h, err := inner.Spawn(ctx, locator, sessionID)
			if err == nil {
				rt.mu.Lock()
				rt.last = h
				rt.mu.Unlock()
			}
			return h, err
		}),
		Clock:            clk,
		Logger:           logger,
		ConfirmDelay:     cfg.Timeouts.SpawnConfirm,
		PollInterval:     cfg.Timeouts.PollInterval,
		WatchdogInterval: cfg.Timeouts.WatchdogInterval,
		AllowedSchemes:   cfg.AllowedSchemes,
	})
	rt.lock = lock.New(lock.Options{Clock: clk, Logger: logger, SafetyTimeout: cfg.Timeouts.LockSafety})

	rt.orch, err = orchestrator.New(orchestrator.Options{
		Clock:       clk,
		Logger:      logger,
		Store:       st,
		Manager:     rt.manager,
		Lock:        rt.lock,
		Messenger:   msgr,
		Policy:      policy,
		FocusSettle: cfg.Timeouts.FocusSettle,
		RecordStale: cfg.Timeouts.RecordStale,
	})
	if err != nil {
		msgr.Close()
		return nil, err
	}
	return rt, nil
}

// attachCommand returns how to reach the last spawned surface, if it is a tmux session.
func (rt *runtime) attachCommand() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if w, ok := rt.last.(*tmux.Window); ok {
		return w.AttachCommand()
	}
	return ""
}

func (rt *runtime) Close() {
	rt.orch.Shutdown()
	if err := rt.messenger.Close(); err != nil {
		rt.logger.Debug("messenger close failed", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
