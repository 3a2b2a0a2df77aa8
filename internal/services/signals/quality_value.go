package signals

import (
	"math"
	"sort"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

const (
	FieldROA           = "roa"
	FieldGrossMargin   = "gross_margin"
	FieldAccruals      = "accruals"
	FieldEarningsYield = "earnings_yield"
)

func DefaultQVFields() []string {
	return []string{FieldROA, FieldGrossMargin, FieldAccruals, FieldEarningsYield}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func fieldValue(field string, f models.Fundamentals) float64 {
	switch field {
	case FieldROA:
		return ratio(f.NetIncome, f.TotalAssets)
	case FieldGrossMargin:
		return ratio(f.GrossProfit, f.TotalRevenue)
	case FieldAccruals:
		return -(f.NetIncome - f.OperatingCashFlow)
	case FieldEarningsYield:
		return ratio(f.NetIncome, f.ShareholdersEquity)
	default:
		return math.NaN()
	}
}

// QualityValue scores fundamentals onto the price calendar and returns cross
// sectional percentile ranks, 0.5 where a symbol has no score yet. Each report
// becomes visible guardDays calendar days after its report date, and each
// field is standardized only against that symbol's earlier reports.
func QualityValue(funds []models.Fundamentals, dates []time.Time, symbols []string, guardDays int, fields []string) *models.Frame {
	if len(fields) == 0 {
		fields = DefaultQVFields()
	}
	bySymbol := make(map[string][]models.Fundamentals)
	for _, f := range funds {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}

	raw := models.NewFrame(dates, symbols)
	for _, sym := range symbols {
		rows := bySymbol[sym]
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

		partials := make([][]float64, len(fields))
		for k, field := range fields {
			vals := make([]float64, len(rows))
			for i, r := range rows {
				vals[i] = fieldValue(field, r)
			}
			partials[k] = features.ExpandingZScore(vals)
		}
		// Report i is effective from its guarded date until the next report.
		k := -1
		for i, d := range dates {
			for k+1 < len(rows) && !rows[k+1].Date.AddDate(0, 0, guardDays).After(d) {
				k++
			}
			if k < 0 {
				continue
			}
			parts := make([]float64, len(fields))
			for p := range fields {
				parts[p] = partials[p][k]
			}
			raw.Set(i, sym, features.Mean(parts))
		}
	}
	return features.FrameRankPct(raw).FillNaN(0.5)
}
