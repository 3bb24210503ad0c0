package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CompactorConfig controls background compaction.
type CompactorConfig struct {
	Enabled bool
	// IdleTimeout is how long an index must go without searches before
	// compaction may start.
	IdleTimeout time.Duration
	// Cooldown is the minimum time between compactions of one index.
	Cooldown time.Duration
}

// DefaultCompactorConfig returns the standard compaction policy.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		Enabled:     true,
		IdleTimeout: 30 * time.Second,
		Cooldown:    time.Hour,
	}
}

// compactionState tracks eligibility per index.
type compactionState struct {
	store       *HNSWStore
	lastCompact time.Time
	idleTimer   *time.Timer
	compacting  bool
	cancelFunc  context.CancelFunc
}

// Compactor rebuilds tombstone-heavy indexes in the background. An index
// becomes eligible when it sits idle past IdleTimeout, its tombstone count
// crossed the store threshold, and the cooldown elapsed. Searches and
// deletes both arm the idle timer; a search arriving during a rebuild
// interrupts it.
type Compactor struct {
	config CompactorConfig
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[string]*compactionState

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCompactor creates a compactor with the given policy.
func NewCompactor(cfg CompactorConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	return &Compactor{
		config:  cfg,
		logger:  logger,
		indexes: make(map[string]*compactionState),
	}
}

// Start arms the compactor. Must be called before Track/OnSearchComplete.
func (c *Compactor) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Debug("compactor_started",
		slog.Bool("enabled", c.config.Enabled),
		slog.Duration("idle_timeout", c.config.IdleTimeout),
		slog.Duration("cooldown", c.config.Cooldown))
}

// Stop cancels in-flight compactions and waits for them to finish.
func (c *Compactor) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		c.mu.Lock()
		for _, state := range c.indexes {
			if state.idleTimer != nil {
				state.idleTimer.Stop()
			}
			if state.cancelFunc != nil {
				state.cancelFunc()
			}
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.logger.Debug("compactor_stopped")
	})
}

// Track registers a store under a name, typically the knowledge base ID.
func (c *Compactor) Track(name string, s *HNSWStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[name] = &compactionState{store: s}
}

// Untrack removes a store, stopping its idle timer.
func (c *Compactor) Untrack(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.indexes[name]
	if !ok {
		return
	}
	if state.idleTimer != nil {
		state.idleTimer.Stop()
	}
	if state.cancelFunc != nil {
		state.cancelFunc()
	}
	delete(c.indexes, name)
}

// OnSearchComplete resets the idle timer for an index and interrupts any
// rebuild that was running when the search arrived.
func (c *Compactor) OnSearchComplete(name string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.indexes[name]
	if !ok {
		return
	}

	if state.compacting && state.cancelFunc != nil {
		c.logger.Debug("compaction_interrupted_by_search", slog.String("index", name))
		state.cancelFunc()
	}

	c.armIdleTimerLocked(name, state)
}

// OnMutation re-arms the idle timer after a delete so an index whose
// tombstones grow without any searches still becomes eligible.
func (c *Compactor) OnMutation(name string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.indexes[name]
	if !ok {
		return
	}
	c.armIdleTimerLocked(name, state)
}

func (c *Compactor) armIdleTimerLocked(name string, state *compactionState) {
	if state.idleTimer != nil {
		state.idleTimer.Stop()
	}
	state.idleTimer = time.AfterFunc(c.config.IdleTimeout, func() {
		c.onIdle(name)
	})
}

func (c *Compactor) onIdle(name string) {
	if !c.shouldCompact(name) {
		return
	}
	c.startCompaction(name)
}

func (c *Compactor) shouldCompact(name string) bool {
	if !c.config.Enabled {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.indexes[name]
	if !ok || state.compacting {
		return false
	}
	if time.Since(state.lastCompact) < c.config.Cooldown {
		c.logger.Debug("compaction_skipped_cooldown", slog.String("index", name))
		return false
	}
	if !state.store.NeedsCompaction() {
		return false
	}

	c.logger.Info("compaction_eligible",
		slog.String("index", name),
		slog.Int("tombstones", state.store.DeletionCount()),
		slog.Int("live", state.store.Count()))
	return true
}

func (c *Compactor) startCompaction(name string) {
	c.mu.Lock()
	state, ok := c.indexes[name]
	if !ok || state.compacting {
		c.mu.Unlock()
		return
	}
	state.compacting = true
	ctx, cancel := context.WithCancel(c.ctx)
	state.cancelFunc = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			state.compacting = false
			state.cancelFunc = nil
			c.mu.Unlock()
		}()

		start := time.Now()
		if err := state.store.Compact(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Debug("compaction_interrupted", slog.String("index", name))
				return
			}
			c.logger.Warn("compaction_failed",
				slog.String("index", name),
				slog.String("error", err.Error()))
			return
		}

		c.mu.Lock()
		state.lastCompact = time.Now()
		c.mu.Unlock()

		c.logger.Info("background_compaction_complete",
			slog.String("index", name),
			slog.Duration("duration", time.Since(start)))
	}()
}
