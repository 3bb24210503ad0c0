package convfile

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Fang088/FF-KB-Robot/internal/store"
)

const (
	// DefaultUploadTTL is how long temp uploads survive.
	DefaultUploadTTL = 24 * time.Hour

	// DefaultJanitorInterval is how often the sweep runs.
	DefaultJanitorInterval = time.Hour

	// DefaultQuota bounds the upload directory at 500MB.
	DefaultQuota = 500 << 20

	// quotaTrimTarget is the fill fraction trimming stops at.
	quotaTrimTarget = 0.8
)

// JanitorConfig tunes the upload cleanup sweep.
type JanitorConfig struct {
	TTL      time.Duration
	Interval time.Duration
	Quota    int64 // bytes
}

func (c *JanitorConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultUploadTTL
	}
	if c.Interval <= 0 {
		c.Interval = DefaultJanitorInterval
	}
	if c.Quota <= 0 {
		c.Quota = DefaultQuota
	}
}

// Janitor periodically expires old temp uploads and trims the upload dir
// back under quota. It runs off the query path.
type Janitor struct {
	meta   *store.MetaStore
	config JanitorConfig
	logger *slog.Logger

	now func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewJanitor creates a janitor over the temp-file rows in meta.
func NewJanitor(meta *store.MetaStore, cfg JanitorConfig, logger *slog.Logger) *Janitor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{meta: meta, config: cfg, logger: logger, now: time.Now}
}

// Start launches the periodic sweep.
func (j *Janitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.Sweep(ctx); err != nil {
					j.logger.Warn("janitor_sweep_failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		if j.cancel != nil {
			j.cancel()
		}
		j.wg.Wait()
	})
}

// Sweep expires uploads past their TTL, then trims oldest-first until the
// directory is back under 80% of quota.
func (j *Janitor) Sweep(ctx context.Context) error {
	files, err := j.meta.ListTempFiles(ctx)
	if err != nil {
		return err
	}

	cutoff := j.now().Add(-j.config.TTL)
	expired := 0
	var live []*store.TempFile
	var liveBytes int64
	var doomed []*store.TempFile
	for _, f := range files {
		if f.CreatedAt.Before(cutoff) {
			doomed = append(doomed, f)
			expired++
			continue
		}
		live = append(live, f)
		liveBytes += f.SizeBytes
	}

	trimmed := 0
	if liveBytes > j.config.Quota {
		target := int64(float64(j.config.Quota) * quotaTrimTarget)
		// ListTempFiles returns oldest first.
		kept := live[:0]
		for _, f := range live {
			if liveBytes > target {
				doomed = append(doomed, f)
				liveBytes -= f.SizeBytes
				trimmed++
				continue
			}
			kept = append(kept, f)
		}
		live = kept
	}

	// Content-addressed storage: several rows can share one file. Only
	// unlink paths no surviving row still points at.
	keepPaths := make(map[string]struct{}, len(live))
	for _, f := range live {
		keepPaths[f.Path] = struct{}{}
	}
	for _, f := range doomed {
		j.remove(ctx, f, keepPaths)
	}

	if expired > 0 || trimmed > 0 {
		j.logger.Info("janitor_sweep_complete",
			"expired", expired,
			"trimmed", trimmed,
			"remaining_bytes", liveBytes)
	}
	return nil
}

// remove unlinks the file before its row: a failed row delete leaves the
// entry to be retried next sweep, where the missing file is ignored.
func (j *Janitor) remove(ctx context.Context, f *store.TempFile, keepPaths map[string]struct{}) {
	if _, shared := keepPaths[f.Path]; !shared {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("janitor_file_delete_failed", "path", f.Path, "error", err)
			return
		}
	}
	if err := j.meta.DeleteTempFile(ctx, f.ID); err != nil {
		j.logger.Warn("janitor_row_delete_failed", "id", f.ID, "error", err)
	}
}
