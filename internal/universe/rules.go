package universe

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
)

// IssueKind classifies why a row was excluded.
type IssueKind string

const (
	IssueMalformed    IssueKind = "malformed"     // row could not be parsed
	IssueBadTicker    IssueKind = "bad_ticker"    // ticker symbol not accepted
	IssueNoGroup      IssueKind = "no_group"      // sector or industry missing
	IssueBadPrice     IssueKind = "bad_price"     // price missing or not positive
	IssueSmallCap     IssueKind = "small_cap"     // below min market cap
	IssueLowVolume    IssueKind = "low_volume"    // below min average volume
	IssueDuplicateRow IssueKind = "duplicate_row" // ticker repeated, later row kept
)

// Issue describes one excluded or replaced row.
type Issue struct {
	Line   int
	Ticker string
	Kind   IssueKind
	Detail string
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d %s: %s: %s", i.Line, i.Ticker, i.Kind, i.Detail)
}

// Rules are the validity rules applied to each row.
type Rules struct {
	MinMarketCap  decimal.Decimal // zero disables
	MinAvgVolume  int64           // zero disables
	AllowSuffixes bool            // accept class suffixes such as BRK.B or BF-B
}

// DefaultRules accepts class suffixes and applies no size floors.
func DefaultRules() Rules {
	return Rules{AllowSuffixes: true}
}

var (
	plainTicker  = regexp.MustCompile(`^[A-Z]{1,5}$`)
	suffixTicker = regexp.MustCompile(`^[A-Z]{1,5}([.-][A-Z])?$`)
)

// Check returns the first rule the row violates, or "" when the row is valid.
func (r Rules) Check(m *domain.TickerMeta) (IssueKind, string) {
	re := plainTicker
	if r.AllowSuffixes {
		re = suffixTicker
	}
	if !re.MatchString(m.Ticker) {
		return IssueBadTicker, fmt.Sprintf("symbol %q", m.Ticker)
	}
	if m.Group(domain.GroupSector) == "" {
		return IssueNoGroup, "sector missing"
	}
	if m.Group(domain.GroupIndustry) == "" {
		return IssueNoGroup, "industry missing"
	}
	if !m.Price.IsPositive() {
		return IssueBadPrice, fmt.Sprintf("price %s", m.Price)
	}
	if !r.MinMarketCap.IsZero() && m.MarketCap.LessThan(r.MinMarketCap) {
		return IssueSmallCap, fmt.Sprintf("market cap %s < %s", m.MarketCap, r.MinMarketCap)
	}
	if r.MinAvgVolume > 0 && m.AverageVolume < r.MinAvgVolume {
		return IssueLowVolume, fmt.Sprintf("average volume %d < %d", m.AverageVolume, r.MinAvgVolume)
	}
	return "", ""
}

func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
