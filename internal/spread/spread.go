// Package spread provides a session-aware transaction cost lookup for XAUUSD.
//
// Spreads are tighter during high-liquidity sessions (London/NY overlap) and
// wider during low-liquidity periods (Asian session). When multiple sessions
// overlap, the tightest spread wins since liquidity is highest then.
package spread

import "time"

// Session time windows in UTC hours. A session whose start hour is greater
// than its end hour wraps past midnight.
type session struct {
	name   string
	start  int
	end    int
	spread float64
}

var sessions = []session{
	{"overlap", 12, 16, 0.20},  // London/NY overlap: ~2 pips, tightest
	{"london", 7, 16, 0.30},    // ~3 pips
	{"new_york", 12, 21, 0.30}, // ~3 pips
	{"asian", 23, 8, 0.50},     // ~5 pips, widest
}

// DefaultSpread is used off-session; conservative.
const DefaultSpread = 0.50

// Model returns session-appropriate spread estimates in price units
// (for XAUUSD, 1 pip = $0.10, so 0.30 is 3 pips). It is pure and has no
// failure modes.
type Model struct{}

// New creates a spread model
func New() *Model {
	return &Model{}
}

// Spread returns the spread in price units for the given UTC timestamp.
// When multiple sessions are active the tightest spread among them is
// returned; when none are active the default applies.
func (m *Model) Spread(ts time.Time) float64 {
	hour := ts.UTC().Hour()

	best := DefaultSpread
	found := false
	for _, s := range sessions {
		if !hourInRange(hour, s.start, s.end) {
			continue
		}
		if !found || s.spread < best {
			best = s.spread
			found = true
		}
	}
	return best
}

// ActiveSessions returns the names of sessions active at the given UTC
// timestamp, for signal enrichment and logging.
func (m *Model) ActiveSessions(ts time.Time) []string {
	hour := ts.UTC().Hour()
	var active []string
	for _, s := range sessions {
		if hourInRange(hour, s.start, s.end) {
			active = append(active, s.name)
		}
	}
	return active
}

// InSession reports whether the named session is active at the given UTC
// timestamp. Unknown session names are never active.
func InSession(ts time.Time, name string) bool {
	hour := ts.UTC().Hour()
	for _, s := range sessions {
		if s.name == name {
			return hourInRange(hour, s.start, s.end)
		}
	}
	return false
}

func hourInRange(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	// Wraps midnight (e.g. asian 23-8)
	return hour >= start || hour < end
}
