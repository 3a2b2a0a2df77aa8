package signals

import (
	"math"
	"sort"
	"time"

	"FinAlloc/internal/domain/models"
)

// LongShortConfig selects the top and bottom quantiles per bucket.
type LongShortConfig struct {
	TopQuantile    float64
	BottomQuantile float64
	SectorNeutral  bool
}

// LongShort builds equal-weight long/short baskets on the given dates. With
// sector neutrality each sector gets +1/sectors long and -1/sectors short, so
// every sector nets to zero.
func LongShort(scores *models.Frame, sectors map[string]string, dates []time.Time, cfg LongShortConfig) *models.Frame {
	out := models.ZeroFrame(dates, scores.Symbols)
	for i, d := range dates {
		src := scores.Row(d)
		if src < 0 {
			continue
		}
		buckets := bucketize(scores.RowMap(src), sectors, cfg.SectorNeutral)
		if len(buckets) == 0 {
			continue
		}
		sc := float64(len(buckets))
		for _, b := range buckets {
			n := float64(len(b))
			nLong := math.Max(1, math.Floor(n*cfg.TopQuantile))
			nShort := math.Max(1, math.Floor(n*cfg.BottomQuantile))
			for k := 0; k < int(nLong); k++ {
				out.Set(i, b[k].symbol, out.At(i, b[k].symbol)+1/(sc*nLong))
			}
			for k := 0; k < int(nShort); k++ {
				sym := b[len(b)-1-k].symbol
				out.Set(i, sym, out.At(i, sym)-1/(sc*nShort))
			}
		}
	}
	return out
}

type scored struct {
	symbol string
	score  float64
}

// bucketize groups scored symbols, each bucket sorted best first. Buckets with
// fewer than two names cannot hold both legs and are dropped, as are buckets
// whose scores are all equal.
func bucketize(row map[string]float64, sectors map[string]string, neutral bool) [][]scored {
	groups := make(map[string][]scored)
	for sym, v := range row {
		key := "all"
		if neutral {
			key = sectors[sym]
			if key == "" {
				key = models.UnknownSector
			}
		}
		groups[key] = append(groups[key], scored{symbol: sym, score: v})
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out [][]scored
	for _, k := range keys {
		g := groups[k]
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(a, b int) bool {
			if g[a].score == g[b].score {
				return g[a].symbol < g[b].symbol
			}
			return g[a].score > g[b].score
		})
		if g[0].score == g[len(g)-1].score {
			continue
		}
		out = append(out, g)
	}
	return out
}
