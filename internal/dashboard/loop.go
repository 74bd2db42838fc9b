package dashboard

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fetcher runs one navigation-and-polling state machine per fetch over a
// leased session, bounded by a caller-supplied deadline. Classification of
// probe snapshots lives here; extraction semantics live in the Normalizer.
type Fetcher struct {
	cfg    Config
	pool   *SessionPool
	prober Prober
	norm   *Normalizer
	sink   DiagnosticSink
	log    *zap.Logger

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher wires the loop. sink and log may be nil.
func NewFetcher(cfg Config, pool *SessionPool, prober Prober, sink DiagnosticSink, log *zap.Logger) (*Fetcher, error) {
	norm, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		pool:   pool,
		prober: prober,
		norm:   norm,
		sink:   sink,
		log:    log,
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// FetchDashboard drives a full extraction with normalization. All-or-nothing:
// it returns a complete usage snapshot or a terminal error, never a partial.
func (f *Fetcher) FetchDashboard(ctx context.Context, account AccountID, timeout time.Duration) (*UsageSnapshot, error) {
	lease, err := f.pool.Acquire(ctx, account, f.cfg.TargetURL)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(lease)

	deadline := f.now().Add(timeout)

	var (
		firstSignalAt   time.Time
		headerVisibleAt time.Time
		metricSeenAt    time.Time
		lastRawText     string
		lastRawHTML     string
	)

	for {
		now := f.now()
		if !now.Before(deadline) {
			f.dump(account, lastRawHTML, lastRawText)
			return nil, &TimeoutError{LastRawText: lastRawText}
		}

		snap := f.prober.Probe(ctx, lease.Session())
		if snap.RawText != "" {
			lastRawText = snap.RawText
		}
		if snap.RawHTML != "" {
			lastRawHTML = snap.RawHTML
		}

		switch {
		case snap.WorkspacePicker:
			// Intermediate UI state, not an error.
			f.log.Debug("workspace picker up, waiting",
				zap.String("account", string(account)))
			if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
				return nil, err
			}
			continue

		case locationDrifted(snap.Location, f.cfg.TargetURL):
			// The SPA can redirect elsewhere during auth handshakes; steer
			// the session back onto the usage route.
			f.log.Debug("location drifted, re-navigating",
				zap.String("account", string(account)),
				zap.String("at", snap.Location))
			if err := lease.Session().Navigate(ctx, f.cfg.TargetURL); err != nil {
				// Deadline is still the backstop, but a dead navigation
				// target must show up in the logs, not just as a timeout.
				f.log.Warn("re-navigation failed",
					zap.String("account", string(account)),
					zap.String("at", snap.Location),
					zap.Error(err))
			}
			if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
				return nil, err
			}
			continue

		case snap.LoginRequired:
			f.dump(account, lastRawHTML, lastRawText)
			return nil, ErrAuthenticationRequired

		case snap.Challenge:
			f.dump(account, lastRawHTML, lastRawText)
			return nil, ErrChallengeDetected
		}

		remaining := f.norm.RemainingPercent(snap.RawText)
		hasRows := len(snap.TableRows) > 0
		hasChart := len(snap.ChartPoints) > 0

		if firstSignalAt.IsZero() &&
			(remaining != nil || hasRows || hasChart || snap.SectionHeaderPresent) {
			firstSignalAt = now
		}
		if headerVisibleAt.IsZero() && snap.SectionHeaderPresent && snap.SectionHeaderInView {
			headerVisibleAt = now
		}

		if remaining == nil && !hasRows && !hasChart {
			wait := shouldWaitForHistory(waitInputs{
				now:             now,
				firstSignalAt:   firstSignalAt,
				headerVisibleAt: headerVisibleAt,
				headerPresent:   snap.SectionHeaderPresent,
				headerInView:    snap.SectionHeaderInView,
				didAutoScroll:   snap.DidAutoScroll,
			}, f.cfg.HeaderSettle(), f.cfg.SignalGrace())
			if wait {
				f.log.Debug("waiting for lazy history section",
					zap.String("account", string(account)))
			}
			// Either way, keep polling; the deadline is the backstop.
			if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
				return nil, err
			}
			continue
		}

		if remaining != nil && !hasChart {
			if metricSeenAt.IsZero() {
				metricSeenAt = now
			}
			if now.Sub(metricSeenAt) < f.cfg.ChartGrace() {
				// The metric is up but the chart is still hydrating;
				// finalizing now would return an incomplete snapshot.
				f.log.Debug("metric visible, waiting for chart aggregates",
					zap.String("account", string(account)))
				if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
					return nil, err
				}
				continue
			}
		}

		usage := f.norm.Normalize(snap, now)
		f.log.Info("dashboard fetch complete",
			zap.String("account", string(account)),
			zap.Int("events", len(usage.CreditEvents)),
			zap.Int("days", len(usage.DailyBreakdown)),
			zap.Bool("ephemeral_session", lease.Ephemeral()))
		return usage, nil
	}
}

// Probe stops at the first stable, non-interstitial page state without
// waiting for data hydration. Meant for diagnostics and health checks.
func (f *Fetcher) Probe(ctx context.Context, account AccountID, timeout time.Duration) (*ProbeSnapshot, error) {
	lease, err := f.pool.Acquire(ctx, account, f.cfg.TargetURL)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(lease)

	deadline := f.now().Add(timeout)
	var lastRawText string

	for {
		now := f.now()
		if !now.Before(deadline) {
			return nil, &TimeoutError{LastRawText: lastRawText}
		}

		snap := f.prober.Probe(ctx, lease.Session())
		if snap.RawText != "" {
			lastRawText = snap.RawText
		}

		switch {
		case snap.WorkspacePicker:
			if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
				return nil, err
			}
			continue
		case locationDrifted(snap.Location, f.cfg.TargetURL):
			if err := lease.Session().Navigate(ctx, f.cfg.TargetURL); err != nil {
				f.log.Warn("re-navigation failed",
					zap.String("account", string(account)),
					zap.String("at", snap.Location),
					zap.Error(err))
			}
			if err := f.sleep(ctx, f.cfg.PollInterval()); err != nil {
				return nil, err
			}
			continue
		case snap.LoginRequired:
			return nil, ErrAuthenticationRequired
		case snap.Challenge:
			return nil, ErrChallengeDetected
		}
		return snap, nil
	}
}

// Invalidate force-evicts any resident session for the account, e.g. on
// logout, so no stale session outlives its credentials.
func (f *Fetcher) Invalidate(account AccountID) {
	f.pool.Evict(account)
}

func (f *Fetcher) dump(account AccountID, rawHTML, rawText string) {
	if f.sink == nil {
		return
	}
	f.sink.Dump(account, rawHTML, rawText)
}

// locationDrifted reports whether the page has left the usage route. Query
// strings and fragments are ignored; the SPA rewrites those freely.
func locationDrifted(location, target string) bool {
	if location == "" {
		// Probe could not read the location; don't thrash navigation on it.
		return false
	}
	loc, err := url.Parse(location)
	if err != nil {
		return true
	}
	tgt, err := url.Parse(target)
	if err != nil {
		return false
	}
	if !strings.EqualFold(loc.Hostname(), tgt.Hostname()) {
		return true
	}
	return strings.TrimSuffix(loc.Path, "/") != strings.TrimSuffix(tgt.Path, "/")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
