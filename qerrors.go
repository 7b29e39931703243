package qerrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/qerrors/internal/archive"
	"github.com/vietddude/qerrors/internal/budget"
	"github.com/vietddude/qerrors/internal/cache"
	"github.com/vietddude/qerrors/internal/fingerprint"
	"github.com/vietddude/qerrors/internal/llm"
	"github.com/vietddude/qerrors/internal/logging"
	"github.com/vietddude/qerrors/internal/metrics"
	"github.com/vietddude/qerrors/internal/queue"
	"github.com/vietddude/qerrors/internal/retry"
)

// Analyzer deduplicates error reports, serves advice from a bounded
// cache, and fetches fresh advice from the configured endpoint under a
// concurrency bound with retries and circuit breaking.
type Analyzer struct {
	cfg    Config
	log    *slog.Logger
	store  cache.Store
	sched  *queue.Scheduler
	engine *retry.Engine
	client *llm.Client
	budget *budget.Tracker
	arch   *archive.Archive

	// flight collapses concurrent misses on one fingerprint into a
	// single outbound fetch.
	flight singleflight.Group

	purgeMu   sync.Mutex
	purgeStop chan struct{}

	closed atomic.Bool
}

// New builds an Analyzer. Zero-value config fields fall back to their
// defaults; adjusted fields are logged as warnings.
func New(cfg Config) (*Analyzer, error) {
	effective, warnings := cfg.normalized()

	log := effective.Logger
	if log == nil {
		log = logging.New(effective.LogLevel, effective.LogFormat)
	}
	for _, w := range warnings {
		log.Warn("config adjusted", "detail", w)
	}

	a := &Analyzer{cfg: effective, log: log}

	if effective.CacheLimit > 0 {
		if effective.RedisURL != "" {
			store, err := cache.NewRedisStore(effective.RedisURL, effective.CacheTTL, log)
			if err != nil {
				return nil, fmt.Errorf("failed to init redis cache: %w", err)
			}
			a.store = store
		} else {
			a.store = cache.NewMemoryStore(cache.Config{
				MaxEntries:  effective.CacheLimit,
				TTL:         effective.CacheTTL,
				MemoryLimit: effective.CacheMemoryLimit,
			}, log)
		}
	}

	a.sched = queue.New(queue.Config{
		MaxConcurrency:  effective.Concurrency,
		MaxQueueLength:  effective.QueueLimit,
		MetricsInterval: effective.MetricsInterval,
		OnBusy:          a.startPurgeTimer,
		OnIdle:          a.stopPurgeTimer,
	}, log)

	alg, _ := retry.ParseAlgorithm(effective.Backoff)
	a.engine = retry.NewEngine(retry.Policy{
		Algorithm:        alg,
		BaseDelay:        effective.RetryBaseDelay,
		MaxDelay:         effective.RetryMaxDelay,
		JitterFactor:     effective.RetryJitter,
		MaxAttempts:      effective.RetryAttempts,
		FailureThreshold: effective.BreakerThreshold,
		CircuitTimeout:   effective.BreakerTimeout,
	}, nil, log)

	a.client = llm.New(llm.Config{
		URL:            effective.AdviceURL,
		APIKey:         effective.APIKey,
		Model:          effective.Model,
		Timeout:        effective.Timeout,
		MaxSockets:     effective.MaxSockets,
		MaxFreeSockets: effective.MaxFreeSockets,
		TokenBudget:    effective.TokenBudget,
		RatePerSecond:  effective.RateLimit,
		RateBurst:      effective.RateBurst,
	}, log)

	a.budget = budget.New(effective.DailyLimit, log)

	if effective.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		arch, err := archive.Open(ctx, archive.Config{
			DatabaseURL: effective.DatabaseURL,
			Retention:   effective.ArchiveRetention,
			Sweep:       effective.ArchiveSweep,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init archive: %w", err)
		}
		a.arch = arch
	}

	log.Info("analyzer ready",
		"model", effective.Model,
		"concurrency", effective.Concurrency,
		"queue_limit", effective.QueueLimit,
		"cache_limit", effective.CacheLimit,
	)
	return a, nil
}

// Analyze reports an error occurrence and returns advice for it: cached
// advice on a fingerprint hit, freshly fetched advice otherwise. It
// returns nil when no advice is available, whether because analysis is
// not configured, the report was dropped, or the fetch failed. Failures
// are logged, never returned: analyzing an error must not create one.
//
// Concurrent calls for the same fingerprint share one outbound fetch.
// Cancelling ctx abandons the wait; the fetch itself keeps running so
// its result can still be cached for later occurrences.
func (a *Analyzer) Analyze(ctx context.Context, rep *Report) Advice {
	if a.closed.Load() {
		return nil
	}
	if rep == nil || rep.Message == "" {
		a.log.Warn("empty report dropped")
		metrics.AnalysesTotal.WithLabelValues("invalid").Inc()
		return nil
	}
	if rep.Origin == OriginAdviceCall {
		a.log.Debug("advice-call failure dropped", "message", rep.Message)
		metrics.AnalysesTotal.WithLabelValues("origin_dropped").Inc()
		return nil
	}
	if a.cfg.APIKey == "" {
		a.log.Debug("no api key configured, skipping analysis")
		metrics.AnalysesTotal.WithLabelValues("no_credentials").Inc()
		return nil
	}

	fp := a.fingerprintFor(rep)
	if fp == "" {
		// Caching is off: no dedup, every report fetches.
		return a.fetchAdvice(rep, "")
	}

	if adv := a.cachedAdvice(ctx, fp); adv != nil {
		metrics.AnalysesTotal.WithLabelValues("cache_hit").Inc()
		return adv
	}

	ch := a.flight.DoChan(fp, func() (any, error) {
		return a.fetchAdvice(rep, fp), nil
	})
	select {
	case res := <-ch:
		adv, _ := res.Val.(Advice)
		return adv
	case <-ctx.Done():
		return nil
	}
}

// fingerprintFor returns the report's dedup key, computing and memoizing
// it when absent. It returns "" when caching is disabled.
func (a *Analyzer) fingerprintFor(rep *Report) string {
	if a.store == nil {
		return ""
	}
	if rep.Fingerprint == "" {
		rep.Fingerprint = fingerprint.Compute(rep.Message, rep.Stack)
	}
	return rep.Fingerprint
}

func (a *Analyzer) cachedAdvice(ctx context.Context, fp string) Advice {
	data, ok, err := a.store.Get(ctx, fp)
	if err != nil {
		a.log.Warn("cache lookup failed", "error", err, "fingerprint", fp)
		return nil
	}
	if !ok {
		return nil
	}

	var adv Advice
	if err := json.Unmarshal(data, &adv); err != nil {
		a.log.Warn("corrupt cache entry dropped", "error", err, "fingerprint", fp)
		return nil
	}
	return adv
}

// fetchAdvice schedules one outbound advice call and waits for it. The
// call runs on a detached context so an abandoned wait never cancels
// work whose result other callers may still want.
func (a *Analyzer) fetchAdvice(rep *Report, fp string) Advice {
	if !a.budget.Allow() {
		used, limit := a.budget.Usage()
		a.log.Warn("daily advice budget exhausted", "used", used, "limit", limit)
		metrics.AnalysesTotal.WithLabelValues("budget").Inc()
		return nil
	}

	prompt := llm.BuildPrompt(rep.Message, rep.Context, rep.Stack, a.cfg.TokenBudget)

	pending, err := a.sched.Submit(func(ctx context.Context) (any, error) {
		a.budget.Record()
		return a.engine.Execute(ctx, func(ctx context.Context) (any, error) {
			return a.client.RequestAdvice(ctx, prompt)
		})
	})
	if err != nil {
		a.log.Warn("analysis rejected", "error", err, "fingerprint", fp)
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		return nil
	}

	raw, err := pending.Wait(context.Background())
	if err != nil {
		a.log.Warn("advice fetch failed", "error", err, "fingerprint", fp)
		metrics.AnalysesTotal.WithLabelValues("failed").Inc()
		return nil
	}

	body, _ := raw.(string)
	advice, err := llm.ParseAdvice(body)
	if err != nil {
		// Never cached: a later occurrence gets a fresh try.
		a.log.Warn("malformed advice dropped", "error", err, "fingerprint", fp)
		metrics.AnalysesTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	if data, err := json.Marshal(advice); err == nil {
		a.cacheAdvice(fp, data)
		a.archiveReport(rep, fp, data)
	}

	metrics.AnalysesTotal.WithLabelValues("fetched").Inc()
	return advice
}

func (a *Analyzer) cacheAdvice(fp string, data []byte) {
	if a.store == nil || fp == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.store.Set(ctx, fp, data); err != nil {
		a.log.Warn("failed to cache advice", "error", err, "fingerprint", fp)
	}
}

func (a *Analyzer) archiveReport(rep *Report, fp string, data []byte) {
	if a.arch == nil {
		return
	}

	rec := archive.Record{
		Fingerprint: fp,
		Message:     rep.Message,
		Stack:       strings.Join(rep.Stack, "\n"),
		Context:     rep.Context,
		Advice:      data,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.arch.Insert(ctx, rec); err != nil {
			a.log.Warn("failed to archive report", "error", err)
		}
	}()
}

// startPurgeTimer begins periodic expiry sweeps. It runs when the
// scheduler leaves idle, so an idle analyzer costs no timer wakeups.
func (a *Analyzer) startPurgeTimer() {
	if a.store == nil || a.cfg.PurgeInterval <= 0 {
		return
	}

	a.purgeMu.Lock()
	defer a.purgeMu.Unlock()

	if a.purgeStop != nil {
		return
	}
	stop := make(chan struct{})
	a.purgeStop = stop
	go a.purgeLoop(stop)
}

func (a *Analyzer) stopPurgeTimer() {
	a.purgeMu.Lock()
	defer a.purgeMu.Unlock()

	if a.purgeStop == nil {
		return
	}
	close(a.purgeStop)
	a.purgeStop = nil
}

func (a *Analyzer) purgeLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := a.store.PurgeExpired(ctx)
			cancel()
			if err != nil {
				a.log.Warn("cache purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.log.Debug("purged expired advice", "count", n)
			}
		}
	}
}

// Stats is a point-in-time snapshot of analyzer state.
type Stats struct {
	Active       int   // analyses running now
	Queued       int   // analyses waiting for a slot
	Rejected     int64 // submissions turned away, cumulative
	Processed    int64 // analyses completed, cumulative
	CacheEntries int
	BreakerOpen  bool
	BudgetUsed   int
	BudgetLimit  int
}

// Stats returns a snapshot of queue, cache, breaker, and budget state.
func (a *Analyzer) Stats(ctx context.Context) Stats {
	qs := a.sched.Stats()
	open, _ := a.engine.State()
	used, limit := a.budget.Usage()

	s := Stats{
		Active:      qs.Active,
		Queued:      qs.Queued,
		Rejected:    qs.Rejected,
		Processed:   qs.Processed,
		BreakerOpen: open,
		BudgetUsed:  used,
		BudgetLimit: limit,
	}
	if a.store != nil {
		if n, err := a.store.Len(ctx); err == nil {
			s.CacheEntries = n
		}
	}
	return s
}

// ClearCache drops all cached advice.
func (a *Analyzer) ClearCache(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.Clear(ctx)
}

// PurgeExpired removes expired cache entries and reports how many.
func (a *Analyzer) PurgeExpired(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	return a.store.PurgeExpired(ctx)
}

// AdviceRecord is one archived advice report.
type AdviceRecord struct {
	ID          string
	Fingerprint string
	Message     string
	Stack       string
	Context     string
	Advice      Advice
	CreatedAt   time.Time
}

// History returns archived reports for a fingerprint, newest first. It
// returns nil when no archive database is configured.
func (a *Analyzer) History(ctx context.Context, fp string, limit int) ([]AdviceRecord, error) {
	if a.arch == nil {
		return nil, nil
	}

	recs, err := a.arch.RecentByFingerprint(ctx, fp, limit)
	if err != nil {
		return nil, err
	}

	out := make([]AdviceRecord, 0, len(recs))
	for _, r := range recs {
		rec := AdviceRecord{
			ID:          r.ID,
			Fingerprint: r.Fingerprint,
			Message:     r.Message,
			Stack:       r.Stack,
			Context:     r.Context,
			CreatedAt:   r.CreatedAt,
		}
		if len(r.Advice) > 0 {
			var adv Advice
			if err := json.Unmarshal(r.Advice, &adv); err == nil {
				rec.Advice = adv
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Shutdown stops admission, drains in-flight analyses, and releases
// resources. After it returns, Analyze is a no-op.
func (a *Analyzer) Shutdown(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.sched.Shutdown()

	var errs []error
	if err := a.sched.Drain(ctx); err != nil {
		errs = append(errs, err)
	}
	a.stopPurgeTimer()

	if closer, ok := a.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.client.Close()
	if a.arch != nil {
		if err := a.arch.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.log.Info("analyzer shut down")
	return errors.Join(errs...)
}
