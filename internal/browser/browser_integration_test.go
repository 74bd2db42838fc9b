//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"quotaprobe/internal/browser"
	"quotaprobe/internal/dashboard"

	"github.com/stretchr/testify/require"
)

const fixturePage = `
<html>
<body>
	<h1>Plan usage</h1>
	<p>You have 42%% remaining this cycle</p>
	<h2>Usage history</h2>
	<table>
		<tr><td>2026-08-22</td><td>Agent Run</td><td>-9 credits</td></tr>
		<tr><td>2026-08-21</td><td>Chat</td><td>-3 credits</td></tr>
	</table>
	<svg><rect aria-label="2026-08-22, Agent: 9 credits"></rect></svg>
	<a href="/settings/billing">Buy more credits</a>
</body>
</html>
`

func TestProbeAgainstFixturePage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, fixturePage)
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	cfg.NavigationTimeoutMs = 10000

	mgr := browser.NewManager(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			t.Logf("shutdown error: %v", err)
		}
	}()

	require.NoError(t, mgr.Start(ctx))

	sess, err := mgr.NewSession(ctx, "alice", ts.URL)
	require.NoError(t, err)
	defer sess.Close()

	prober := browser.NewProber(nil)
	var snap *dashboard.ProbeSnapshot
	require.Eventually(t, func() bool {
		snap = prober.Probe(ctx, sess)
		return !snap.LoginRequired && len(snap.TableRows) > 0
	}, 15*time.Second, 250*time.Millisecond, "page never reached a probeable state")

	require.Contains(t, snap.RawText, "42% remaining")
	require.True(t, snap.SectionHeaderPresent)
	require.Equal(t, "/settings/billing", snap.PurchaseLinkRaw)
	require.NotEmpty(t, snap.ChartPoints)
	require.Equal(t, "Agent", snap.ChartPoints[0].Service)
}

func TestAccountScopesAreIsolated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("who")
		who := "nobody"
		if err == nil {
			who = cookie.Value
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body><p>hello %s</p></body></html>", who)
	}))
	defer ts.Close()

	mgr := browser.NewManager(browser.DefaultConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	defer mgr.Shutdown()

	require.NoError(t, mgr.Start(ctx))

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	require.NoError(t, mgr.SeedCookies(ctx, "alice", []browser.Cookie{
		{Name: "who", Value: "alice", Domain: u.Hostname(), Path: "/"},
	}))

	aliceSess, err := mgr.NewSession(ctx, "alice", ts.URL)
	require.NoError(t, err)
	defer aliceSess.Close()

	bobSess, err := mgr.NewSession(ctx, "bob", ts.URL)
	require.NoError(t, err)
	defer bobSess.Close()

	prober := browser.NewProber(nil)
	require.Eventually(t, func() bool {
		return prober.Probe(ctx, bobSess).RawText != ""
	}, 15*time.Second, 250*time.Millisecond)

	bobSnap := prober.Probe(ctx, bobSess)
	require.Contains(t, bobSnap.RawText, "nobody", "bob's context must not see alice's cookie")
}
