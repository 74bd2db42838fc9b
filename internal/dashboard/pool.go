package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type poolEntry struct {
	session    Session
	createdAt  time.Time
	lastUsedAt time.Time
	busy       bool
}

// SessionPool amortizes session setup per account while guaranteeing at most
// one caller mutates a resident session at a time. At most one resident entry
// exists per account; a busy resident never queues the caller, it triggers an
// ephemeral one-use session instead.
type SessionPool struct {
	mu      sync.Mutex
	factory SessionFactory
	idle    time.Duration
	entries map[AccountID]*poolEntry
	log     *zap.Logger

	now func() time.Time
}

// NewSessionPool creates a pool around the given session constructor.
func NewSessionPool(cfg Config, factory SessionFactory, log *zap.Logger) *SessionPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionPool{
		factory: factory,
		idle:    cfg.IdleTimeout(),
		entries: make(map[AccountID]*poolEntry),
		log:     log,
		now:     time.Now,
	}
}

// Lease grants exclusive use of one session until released back to the pool.
type Lease struct {
	ID        string
	account   AccountID
	session   Session
	ephemeral bool
}

// Session returns the leased rendering session.
func (l *Lease) Session() Session { return l.session }

// Account returns the identity the lease is bound to.
func (l *Lease) Account() AccountID { return l.account }

// Ephemeral reports whether the session was created outside the pool and will
// be destroyed on release.
func (l *Lease) Ephemeral() bool { return l.ephemeral }

// Acquire leases a session for the account, creating a resident entry on
// first use. A free resident is re-navigated to targetURL and handed out; a
// busy resident causes a separate ephemeral session so the caller is never
// blocked by another in-flight fetch for the same account.
func (p *SessionPool) Acquire(ctx context.Context, account AccountID, targetURL string) (*Lease, error) {
	p.mu.Lock()
	victims := p.pruneLocked(p.now())

	entry, ok := p.entries[account]
	switch {
	case !ok:
		// Reserve the slot before constructing: a concurrent acquire for the
		// same account sees a busy entry and goes ephemeral instead of racing
		// the construction.
		entry = &poolEntry{busy: true, createdAt: p.now(), lastUsedAt: p.now()}
		p.entries[account] = entry
		p.mu.Unlock()
		closeSessions(victims)

		sess, err := p.factory(ctx, account, targetURL)
		if err != nil {
			// Self-heal: a future caller must not inherit the broken entry.
			p.removeEntry(account, entry)
			return nil, &SessionSetupError{Err: err}
		}
		p.mu.Lock()
		if cur, live := p.entries[account]; !live || cur != entry {
			// Evicted while the factory ran: the reserved slot is gone and
			// the credentials may be too. The lease becomes ephemeral so
			// Release destroys the session instead of stranding it.
			p.mu.Unlock()
			p.log.Debug("resident slot evicted during construction",
				zap.String("account", string(account)))
			return &Lease{ID: uuid.NewString(), account: account, session: sess, ephemeral: true}, nil
		}
		entry.session = sess
		p.mu.Unlock()
		p.log.Debug("resident session created", zap.String("account", string(account)))
		return &Lease{ID: uuid.NewString(), account: account, session: sess}, nil

	case !entry.busy:
		entry.busy = true
		sess := entry.session
		p.mu.Unlock()
		closeSessions(victims)

		// Re-navigation is idempotent when the page is already on target.
		if err := sess.Navigate(ctx, targetURL); err != nil {
			p.removeEntry(account, entry)
			_ = sess.Close()
			return nil, &SessionSetupError{Err: err}
		}
		return &Lease{ID: uuid.NewString(), account: account, session: sess}, nil

	default:
		// Busy resident: hand out an independent one-use session.
		p.mu.Unlock()
		closeSessions(victims)

		sess, err := p.factory(ctx, account, targetURL)
		if err != nil {
			return nil, &SessionSetupError{Err: err}
		}
		p.log.Debug("ephemeral session created", zap.String("account", string(account)))
		return &Lease{ID: uuid.NewString(), account: account, session: sess, ephemeral: true}, nil
	}
}

// Release returns a lease to the pool. Resident sessions are marked free and
// kept for reuse; ephemeral sessions are destroyed immediately and
// unconditionally. A pruning sweep runs on every release.
func (p *SessionPool) Release(lease *Lease) {
	if lease == nil {
		return
	}
	if lease.ephemeral {
		_ = lease.session.Close()
		p.Prune(p.now())
		return
	}

	p.mu.Lock()
	entry, ok := p.entries[lease.account]
	if ok && entry.session == lease.session {
		entry.busy = false
		entry.lastUsedAt = p.now()
	}
	// When the entry is gone the account was evicted mid-lease; Evict already
	// destroyed the session, so there is nothing to close here.
	victims := p.pruneLocked(p.now())
	p.mu.Unlock()
	closeSessions(victims)
}

// Prune destroys every free resident entry idle beyond the timeout. Busy
// entries are untouched regardless of age.
func (p *SessionPool) Prune(now time.Time) {
	p.mu.Lock()
	victims := p.pruneLocked(now)
	p.mu.Unlock()
	closeSessions(victims)
}

// pruneLocked removes idle free entries and returns their sessions so the
// caller can close them outside the lock.
func (p *SessionPool) pruneLocked(now time.Time) []Session {
	var victims []Session
	for account, entry := range p.entries {
		if entry.busy || entry.session == nil {
			continue
		}
		if now.Sub(entry.lastUsedAt) > p.idle {
			delete(p.entries, account)
			victims = append(victims, entry.session)
			p.log.Debug("pruned idle session", zap.String("account", string(account)))
		}
	}
	return victims
}

// Evict force-destroys the resident entry regardless of busy state. Used when
// the account's credentials are invalidated, guaranteeing no stale session
// outlives them.
func (p *SessionPool) Evict(account AccountID) {
	p.mu.Lock()
	entry, ok := p.entries[account]
	if ok {
		delete(p.entries, account)
	}
	p.mu.Unlock()

	if ok && entry.session != nil {
		_ = entry.session.Close()
		p.log.Debug("evicted session", zap.String("account", string(account)))
	}
}

// Shutdown destroys every resident session. The pool is unusable afterwards
// only by convention; a subsequent Acquire would repopulate it.
func (p *SessionPool) Shutdown() {
	p.mu.Lock()
	var victims []Session
	for account, entry := range p.entries {
		if entry.session != nil {
			victims = append(victims, entry.session)
		}
		delete(p.entries, account)
	}
	p.mu.Unlock()
	closeSessions(victims)
}

// removeEntry deletes the entry only if the registry still maps the account
// to it, so a concurrent evict-and-recreate is not clobbered.
func (p *SessionPool) removeEntry(account AccountID, entry *poolEntry) {
	p.mu.Lock()
	if cur, ok := p.entries[account]; ok && cur == entry {
		delete(p.entries, account)
	}
	p.mu.Unlock()
}

func (p *SessionPool) residentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func closeSessions(sessions []Session) {
	for _, s := range sessions {
		_ = s.Close()
	}
}
