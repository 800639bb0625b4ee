package normalization

import (
	"sort"

	"stock-trend-lab/internal/domain"
)

// SortByDate orders records of one ticker by date ASC.
func SortByDate(records []*domain.PriceRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
}
