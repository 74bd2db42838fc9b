package dashboard

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Normalizer turns raw probe snapshots into typed usage snapshots. Pure
// transformation, no I/O.
type Normalizer struct {
	target  *url.URL
	maxDays int
}

// NewNormalizer builds a normalizer scoped to the dashboard's host, which the
// purchase-link safety filter is checked against.
func NewNormalizer(cfg Config) (*Normalizer, error) {
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if target.Hostname() == "" {
		return nil, fmt.Errorf("target url %q has no host", cfg.TargetURL)
	}
	return &Normalizer{target: target, maxDays: cfg.MaxBreakdownDays()}, nil
}

// Normalize builds the one complete usage snapshot for a finished fetch.
func (n *Normalizer) Normalize(snap *ProbeSnapshot, now time.Time) *UsageSnapshot {
	events := n.CreditEvents(snap.TableRows)
	return &UsageSnapshot{
		SignedInIdentity: snap.SignedInIdentity,
		RemainingPercent: n.RemainingPercent(snap.RawText),
		CreditEvents:     events,
		DailyBreakdown:   n.DailyBreakdown(snap.ChartPoints, events),
		PurchaseURL:      n.PurchaseURL(snap),
		UpdatedAt:        now,
	}
}

var remainingRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*(?:of\s+\w+\s+)?(remaining|left|used)`)

// RemainingPercent scans free page text for the quota phrase. Returns nil
// when the phrase is absent; "used" phrasing is inverted to remaining.
func (n *Normalizer) RemainingPercent(rawText string) *float64 {
	m := remainingRe.FindStringSubmatch(rawText)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	if strings.EqualFold(m[2], "used") {
		v = 100 - v
	}
	return &v
}

var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"01/02/2006 15:04",
	"01/02/2006",
}

// CreditEvents parses ledger table rows. A row needs at least three text
// cells (timestamp, description, amount); rows that fail to parse are
// skipped, never fatal to the fetch. Result is ordered newest first.
func (n *Normalizer) CreditEvents(rows [][]string) []CreditEvent {
	events := make([]CreditEvent, 0, len(rows))
	for _, row := range rows {
		cells := trimmedCells(row)
		if len(cells) < 3 {
			continue
		}
		ts, ok := parseEventTime(cells[0])
		if !ok {
			continue
		}
		amount, ok := parseCredits(cells[len(cells)-1])
		if !ok {
			continue
		}
		events = append(events, CreditEvent{
			Timestamp:   ts,
			Description: strings.Join(cells[1:len(cells)-1], " "),
			Amount:      amount,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events
}

// DailyBreakdown prefers chart-derived aggregates; when the chart produced
// nothing it buckets credit events by calendar day instead. Capped to the
// most recent days, newest first. Within a day services sort by credits used
// descending, ties broken by ascending service name.
func (n *Normalizer) DailyBreakdown(points []ChartPoint, events []CreditEvent) []DailyUsage {
	buckets := make(map[time.Time]map[string]float64)
	if len(points) > 0 {
		for _, p := range points {
			day, err := time.ParseInLocation("2006-01-02", p.Day, time.UTC)
			if err != nil {
				continue
			}
			addToBucket(buckets, day, p.Service, p.Credits)
		}
	} else {
		for _, ev := range events {
			t := ev.Timestamp.UTC()
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			addToBucket(buckets, day, ev.Description, math.Abs(ev.Amount))
		}
	}

	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	if len(days) > n.maxDays {
		days = days[:n.maxDays]
	}

	out := make([]DailyUsage, 0, len(days))
	for _, day := range days {
		per := make([]ServiceUsage, 0, len(buckets[day]))
		for service, used := range buckets[day] {
			per = append(per, ServiceUsage{Service: service, CreditsUsed: used})
		}
		sort.Slice(per, func(i, j int) bool {
			if per[i].CreditsUsed != per[j].CreditsUsed {
				return per[i].CreditsUsed > per[j].CreditsUsed
			}
			return per[i].Service < per[j].Service
		})
		total := 0.0
		for _, su := range per {
			total += su.CreditsUsed
		}
		out = append(out, DailyUsage{Day: day, PerService: per, TotalCreditsUsed: total})
	}
	return out
}

var purchaseLabelRe = regexp.MustCompile(`(?i)\b(buy\s+(more\s+)?credits?|add\s+more|top\s+up|purchase\s+credits?|get\s+more\s+credits?)\b`)

var purchasePathSegments = []string{"billing", "usage", "credits", "plan"}

// PurchaseURL picks the purchase link: the probe's candidate first, then the
// first purchase-labeled anchor or button in the raw markup. The result must
// resolve to the dashboard host and a billing-ish path segment; everything
// else is discarded as an unrelated or unexpected link.
func (n *Normalizer) PurchaseURL(snap *ProbeSnapshot) string {
	if u := n.acceptPurchaseHref(snap.PurchaseLinkRaw); u != "" {
		return u
	}
	for _, href := range purchaseHrefsFromMarkup(snap.RawHTML) {
		if u := n.acceptPurchaseHref(href); u != "" {
			return u
		}
	}
	return ""
}

func (n *Normalizer) acceptPurchaseHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := n.target.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if !strings.EqualFold(abs.Hostname(), n.target.Hostname()) {
		return ""
	}
	path := strings.ToLower(abs.Path)
	for _, seg := range purchasePathSegments {
		if strings.Contains(path, seg) {
			return abs.String()
		}
	}
	return ""
}

// purchaseHrefsFromMarkup scans anchors and buttons whose visible label reads
// like a purchase action.
func purchaseHrefsFromMarkup(markup string) []string {
	if markup == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var hrefs []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "a" || node.Data == "button") {
			if purchaseLabelRe.MatchString(nodeText(node)) {
				for _, attr := range node.Attr {
					if attr.Key == "href" || attr.Key == "data-href" {
						hrefs = append(hrefs, attr.Val)
					}
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func trimmedCells(row []string) []string {
	cells := make([]string, 0, len(row))
	for _, c := range row {
		c = strings.TrimSpace(c)
		if c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func parseEventTime(s string) (time.Time, bool) {
	for _, layout := range eventTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

var creditsRe = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)

func parseCredits(s string) (float64, bool) {
	m := creditsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func addToBucket(buckets map[time.Time]map[string]float64, day time.Time, service string, credits float64) {
	per, ok := buckets[day]
	if !ok {
		per = make(map[string]float64)
		buckets[day] = per
	}
	per[service] += credits
}
