package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"
)

func TestDecodeProbePayload(t *testing.T) {
	raw := []byte(`{
		"location": "https://antigravity.google/usage",
		"loginRequired": false,
		"workspacePicker": false,
		"challenge": false,
		"rawText": "42% remaining",
		"signedInIdentity": "dev@example.com",
		"tableRows": [["2026-08-22", "Agent Run", "-9 credits"]],
		"chartPoints": [{"day": "2026-08-22", "service": "Agent", "credits": 9}],
		"chartDebug": "aria-labels:1",
		"scrollTop": 120,
		"scrollHeight": 4000,
		"viewportHeight": 1080,
		"headerPresent": true,
		"headerInView": true,
		"didAutoScroll": false,
		"purchaseLink": "/settings/billing"
	}`)

	snap, err := decodeProbePayload(raw)
	require.NoError(t, err)
	require.Equal(t, "https://antigravity.google/usage", snap.Location)
	require.Equal(t, "dev@example.com", snap.SignedInIdentity)
	require.Len(t, snap.TableRows, 1)
	require.Len(t, snap.ChartPoints, 1)
	require.Equal(t, "Agent", snap.ChartPoints[0].Service)
	require.True(t, snap.SectionHeaderPresent)
	require.True(t, snap.SectionHeaderInView)
	require.Equal(t, "/settings/billing", snap.PurchaseLinkRaw)
	require.InDelta(t, 120.0, snap.ScrollTop, 1e-9)
}

func TestDecodeProbePayloadDefaultsOnSparseObject(t *testing.T) {
	snap, err := decodeProbePayload([]byte(`{"loginRequired": true}`))
	require.NoError(t, err)
	require.True(t, snap.LoginRequired)
	require.Empty(t, snap.TableRows)
	require.Empty(t, snap.ChartPoints)
	require.Zero(t, snap.ScrollHeight)
}

func TestDecodeProbePayloadRejectsNonObject(t *testing.T) {
	_, err := decodeProbePayload([]byte(`"unexpected"`))
	require.Error(t, err)
}

func TestCookieParams(t *testing.T) {
	params := cookieParams([]Cookie{
		{
			Name:     "session",
			Value:    "abc",
			Domain:   ".antigravity.google",
			Expires:  1787000000,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "lax",
		},
		{Name: "pref", Value: "1", Domain: "antigravity.google", SameSite: "no_restriction"},
	})

	require.Len(t, params, 2)
	require.Equal(t, "session", params[0].Name)
	require.Equal(t, "/", params[0].Path, "empty path defaults to root")
	require.Equal(t, proto.NetworkCookieSameSiteLax, params[0].SameSite)
	require.Equal(t, proto.NetworkCookieSameSiteNone, params[1].SameSite)
	require.True(t, params[0].HTTPOnly)
}
