package browser

import (
	"context"
	"encoding/json"
	"time"

	"quotaprobe/internal/dashboard"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Prober runs the in-page extraction routine. It never returns an error: any
// failure to execute or decode yields a snapshot reporting login-required,
// which the poll loop treats as a re-authenticate signal rather than data.
type Prober struct {
	log *zap.Logger
}

// NewProber creates a prober. log may be nil.
func NewProber(log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{log: log}
}

// Probe captures one snapshot of the dashboard page state.
func (p *Prober) Probe(ctx context.Context, s dashboard.Session) *dashboard.ProbeSnapshot {
	failSafe := &dashboard.ProbeSnapshot{LoginRequired: true, CapturedAt: time.Now()}

	ps, ok := s.(*PageSession)
	if !ok {
		p.log.Warn("prober given a non-page session")
		return failSafe
	}

	res, err := ps.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           probeScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		p.log.Debug("probe evaluate failed", zap.Error(err))
		return failSafe
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		p.log.Debug("probe marshal failed", zap.Error(err))
		return failSafe
	}

	snap, err := decodeProbePayload(raw)
	if err != nil {
		p.log.Debug("probe decode failed", zap.Error(err))
		return failSafe
	}
	snap.CapturedAt = time.Now()
	return snap
}

type probePayload struct {
	Location         string                 `json:"location"`
	LoginRequired    bool                   `json:"loginRequired"`
	WorkspacePicker  bool                   `json:"workspacePicker"`
	Challenge        bool                   `json:"challenge"`
	RawText          string                 `json:"rawText"`
	RawHTML          string                 `json:"rawHTML"`
	SignedInIdentity string                 `json:"signedInIdentity"`
	TableRows        [][]string             `json:"tableRows"`
	ChartPoints      []dashboard.ChartPoint `json:"chartPoints"`
	ChartDebug       string                 `json:"chartDebug"`
	ScrollTop        float64                `json:"scrollTop"`
	ScrollHeight     float64                `json:"scrollHeight"`
	ViewportHeight   float64                `json:"viewportHeight"`
	HeaderPresent    bool                   `json:"headerPresent"`
	HeaderInView     bool                   `json:"headerInView"`
	DidAutoScroll    bool                   `json:"didAutoScroll"`
	PurchaseLink     string                 `json:"purchaseLink"`
}

func decodeProbePayload(raw []byte) (*dashboard.ProbeSnapshot, error) {
	var payload probePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &dashboard.ProbeSnapshot{
		Location:             payload.Location,
		LoginRequired:        payload.LoginRequired,
		WorkspacePicker:      payload.WorkspacePicker,
		Challenge:            payload.Challenge,
		RawText:              payload.RawText,
		RawHTML:              payload.RawHTML,
		SignedInIdentity:     payload.SignedInIdentity,
		TableRows:            payload.TableRows,
		ChartPoints:          payload.ChartPoints,
		ChartDebug:           payload.ChartDebug,
		ScrollTop:            payload.ScrollTop,
		ScrollHeight:         payload.ScrollHeight,
		ViewportHeight:       payload.ViewportHeight,
		SectionHeaderPresent: payload.HeaderPresent,
		SectionHeaderInView:  payload.HeaderInView,
		DidAutoScroll:        payload.DidAutoScroll,
		PurchaseLinkRaw:      payload.PurchaseLink,
	}, nil
}

// probeScript is the single extraction routine executed per poll tick. Every
// section is individually guarded so a partial render yields a partial
// snapshot with defaults, never a thrown error; a top-level failure reports
// loginRequired so the caller re-authenticates instead of trusting garbage.
const probeScript = `
() => {
	const out = {
		location: '',
		loginRequired: false,
		workspacePicker: false,
		challenge: false,
		rawText: '',
		rawHTML: '',
		signedInIdentity: '',
		tableRows: [],
		chartPoints: [],
		chartDebug: '',
		scrollTop: 0,
		scrollHeight: 0,
		viewportHeight: 0,
		headerPresent: false,
		headerInView: false,
		didAutoScroll: false,
		purchaseLink: ''
	};

	try {
		out.location = window.location.href;

		try {
			out.rawText = (document.body && document.body.innerText) || '';
			out.rawHTML = (document.documentElement && document.documentElement.outerHTML) || '';
		} catch (e) {}

		const text = out.rawText;

		try {
			out.workspacePicker = /choose (a |your )?workspace|select (a |your )?workspace|pick (a |your )?workspace/i.test(text);
		} catch (e) {}

		try {
			out.challenge = /verify (that )?you('| a)re (a )?human|unusual traffic|complete the security check|recaptcha/i.test(text) ||
				!!document.querySelector('iframe[src*="recaptcha"], iframe[src*="challenge"]');
		} catch (e) {}

		try {
			const emailRe = /[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}/;
			const candidates = document.querySelectorAll(
				'[aria-label], [data-email], header, nav, [class*="avatar" i], [class*="account" i]');
			for (const el of candidates) {
				const hay = (el.getAttribute && (el.getAttribute('aria-label') || el.getAttribute('data-email'))) ||
					el.textContent || '';
				const m = hay.match(emailRe);
				if (m) { out.signedInIdentity = m[0]; break; }
			}
		} catch (e) {}

		try {
			const signInWall = /sign in to continue|log in to continue|session (has )?expired/i.test(text) ||
				(!out.signedInIdentity && /\b(sign in|log in)\b/i.test(text) && !/%\s*(remaining|left|used)/i.test(text));
			out.loginRequired = signInWall && !out.workspacePicker && !out.challenge;
		} catch (e) {}

		try {
			const rows = document.querySelectorAll('table tr, [role="table"] [role="row"]');
			for (const row of rows) {
				const cells = row.querySelectorAll('td, th, [role="cell"], [role="columnheader"], [role="gridcell"]');
				if (!cells.length) continue;
				const vals = [];
				for (const cell of cells) vals.push((cell.innerText || '').trim());
				out.tableRows.push(vals);
			}
		} catch (e) {}

		try {
			// Strategy 1: chart libraries expose per-bar aria-labels like
			// "2026-08-22, Agent: 12.5 credits".
			const bars = document.querySelectorAll('svg [aria-label], [class*="chart" i] [aria-label]');
			const barRe = /^(\d{4}-\d{2}-\d{2})[,\s]+(.+?):\s*([\d.,]+)/;
			for (const bar of bars) {
				const m = (bar.getAttribute('aria-label') || '').match(barRe);
				if (!m) continue;
				out.chartPoints.push({
					day: m[1],
					service: m[2].trim(),
					credits: parseFloat(m[3].replace(/,/g, '')) || 0
				});
			}
			if (out.chartPoints.length) {
				out.chartDebug = 'aria-labels:' + out.chartPoints.length;
			} else {
				// Strategy 2: hydration state embedded as JSON.
				const blobs = document.querySelectorAll('script[type="application/json"]');
				for (const blob of blobs) {
					let parsed;
					try { parsed = JSON.parse(blob.textContent || ''); } catch (e) { continue; }
					const stack = [parsed];
					while (stack.length && out.chartPoints.length < 4096) {
						const node = stack.pop();
						if (!node || typeof node !== 'object') continue;
						if (Array.isArray(node)) { for (const v of node) stack.push(v); continue; }
						const day = node.day || node.date;
						const service = node.service || node.model || node.surface;
						const credits = node.credits ?? node.creditsUsed ?? node.cost;
						if (typeof day === 'string' && /^\d{4}-\d{2}-\d{2}/.test(day) &&
							typeof service === 'string' && typeof credits === 'number') {
							out.chartPoints.push({ day: day.slice(0, 10), service, credits });
							continue;
						}
						for (const v of Object.values(node)) stack.push(v);
					}
				}
				if (out.chartPoints.length) out.chartDebug = 'embedded-json:' + out.chartPoints.length;
			}
		} catch (e) {
			out.chartDebug = 'error:' + String(e).slice(0, 128);
		}

		try {
			out.scrollTop = window.scrollY || 0;
			out.scrollHeight = (document.documentElement && document.documentElement.scrollHeight) || 0;
			out.viewportHeight = window.innerHeight || 0;
		} catch (e) {}

		try {
			const headings = document.querySelectorAll('h1, h2, h3, h4, [role="heading"]');
			let header = null;
			for (const h of headings) {
				if (/usage history|recent activity|credit (history|usage|events)/i.test(h.innerText || '')) {
					header = h;
					break;
				}
			}
			out.headerPresent = !!header;
			if (header) {
				const rect = header.getBoundingClientRect();
				out.headerInView = rect.top >= 0 && rect.top < window.innerHeight;
				// Scroll the lazy section into view once per page; repeated
				// scrolls would fight the user's own scrolling and reset the
				// settle clock forever.
				if (!out.headerInView && !window.__quotaprobeScrolled) {
					window.__quotaprobeScrolled = true;
					header.scrollIntoView({ block: 'center' });
					out.didAutoScroll = true;
				}
			}
		} catch (e) {}

		try {
			const links = document.querySelectorAll('a[href], button[data-href]');
			for (const link of links) {
				if (!/buy|purchase|add credits|top.?up|upgrade/i.test(link.innerText || '')) continue;
				const href = link.getAttribute('href') || link.getAttribute('data-href') || '';
				if (href) { out.purchaseLink = href; break; }
			}
		} catch (e) {}

		return out;
	} catch (e) {
		return {
			location: '',
			loginRequired: true,
			workspacePicker: false,
			challenge: false,
			rawText: '',
			rawHTML: '',
			signedInIdentity: '',
			tableRows: [],
			chartPoints: [],
			chartDebug: 'fatal:' + String(e).slice(0, 128),
			scrollTop: 0,
			scrollHeight: 0,
			viewportHeight: 0,
			headerPresent: false,
			headerInView: false,
			didAutoScroll: false,
			purchaseLink: ''
		};
	}
}
`
