// Package dashboard extracts account-usage data from the provider's usage
// dashboard by driving a headless rendering session through the page's
// hydration lifecycle. The package owns the session pool, the navigation and
// polling state machine, and the normalizer that turns raw page captures into
// typed usage snapshots; the rendering engine itself is an injected capability.
package dashboard

import (
	"context"
	"time"
)

// AccountID identifies one account's isolated credential/session scope.
// Opaque to this package; owned by the credential collaborator.
type AccountID string

// Session is a live rendering session bound to one account scope.
type Session interface {
	// Navigate loads the given URL. Re-navigating to the current target is
	// idempotent from the caller's point of view.
	Navigate(ctx context.Context, url string) error
	// Close releases the rendering surface. Called exactly once, by whoever
	// owns the session (the pool for resident sessions, Release for
	// ephemeral ones).
	Close() error
}

// SessionFactory constructs a session inside the account's isolated scope and
// navigates it to targetURL. Supplied by the hosting environment.
type SessionFactory func(ctx context.Context, account AccountID, targetURL string) (Session, error)

// Prober executes the in-page extraction routine against a live session.
//
// A prober never fails: if the routine itself cannot execute, the returned
// snapshot reports LoginRequired with every other field at its zero default,
// biasing the caller toward a re-authenticate outcome instead of garbage data.
type Prober interface {
	Probe(ctx context.Context, s Session) *ProbeSnapshot
}

// ChartPoint is one raw per-day, per-service aggregate scraped from the
// dashboard's cost chart, before any normalization.
type ChartPoint struct {
	Day     string  `json:"day"` // calendar date, "2006-01-02"
	Service string  `json:"service"`
	Credits float64 `json:"credits"`
}

// ProbeSnapshot is one immutable capture of remote page state at a single
// poll tick. Every field has a defined zero default even when in-page
// extraction partially fails; a snapshot is produced fresh each tick and
// never mutated afterwards.
type ProbeSnapshot struct {
	Location         string
	LoginRequired    bool
	WorkspacePicker  bool
	Challenge        bool
	RawText          string
	RawHTML          string
	SignedInIdentity string

	TableRows   [][]string
	ChartPoints []ChartPoint
	ChartDebug  string

	ScrollTop      float64
	ScrollHeight   float64
	ViewportHeight float64

	SectionHeaderPresent bool
	SectionHeaderInView  bool
	DidAutoScroll        bool

	PurchaseLinkRaw string

	CapturedAt time.Time
}

// CreditEvent is one parsed row of the credit ledger table.
type CreditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
}

// ServiceUsage is one service's credit consumption within a single day.
type ServiceUsage struct {
	Service     string  `json:"service"`
	CreditsUsed float64 `json:"credits_used"`
}

// DailyUsage aggregates one calendar day of the cost breakdown. PerService is
// sorted by credits used descending, ties broken by ascending service name.
type DailyUsage struct {
	Day              time.Time      `json:"day"`
	PerService       []ServiceUsage `json:"per_service"`
	TotalCreditsUsed float64        `json:"total_credits_used"`
}

// UsageSnapshot is the final extraction result. It is constructed exactly
// once per successful fetch; callers never observe a partial form.
type UsageSnapshot struct {
	SignedInIdentity string        `json:"signed_in_identity,omitempty"`
	RemainingPercent *float64      `json:"remaining_percent,omitempty"`
	CreditEvents     []CreditEvent `json:"credit_events"`   // newest first
	DailyBreakdown   []DailyUsage  `json:"daily_breakdown"` // newest first, capped
	PurchaseURL      string        `json:"purchase_url,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// DiagnosticSink receives best-effort raw page state on terminal failure.
// Implementations must not block the fetch path on persistence errors.
type DiagnosticSink interface {
	Dump(account AccountID, rawHTML, rawText string)
}
