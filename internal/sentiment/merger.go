package sentiment

import (
	"sort"
	"strings"
)

// Merge folds per-source rankings into one UnifiedRank per symbol.
//
// Ranks are first normalized to a common scale: rank / source_cap * common.
// commonCap <= 0 selects the largest cap among the lists present, so equally
// capped sources keep their raw ranks. The merge rule is deliberately
// asymmetric and must stay that way: a symbol present in exactly two sources
// takes the mean of its normalized ranks; present in one, or in three or
// more, it takes the best (minimum) normalized rank.
func Merge(lists []SourceList, commonCap float64) map[string]UnifiedRank {
	if commonCap <= 0 {
		for _, l := range lists {
			if len(l.Entries) > 0 && float64(l.Cap) > commonCap {
				commonCap = float64(l.Cap)
			}
		}
	}
	type contribution struct {
		normalized []float64
		mentions   int64
		sources    []string
	}
	bySymbol := make(map[string]*contribution)
	for _, l := range lists {
		if l.Cap <= 0 || len(l.Entries) == 0 {
			continue
		}
		seen := make(map[string]bool, len(l.Entries))
		for _, e := range l.Entries {
			symbol := strings.ToUpper(strings.TrimSpace(e.Symbol))
			if symbol == "" || e.Rank <= 0 || seen[symbol] {
				continue
			}
			seen[symbol] = true
			c := bySymbol[symbol]
			if c == nil {
				c = &contribution{}
				bySymbol[symbol] = c
			}
			c.normalized = append(c.normalized, float64(e.Rank)/float64(l.Cap)*commonCap)
			c.mentions += e.Mentions
			c.sources = append(c.sources, l.Source)
		}
	}

	out := make(map[string]UnifiedRank, len(bySymbol))
	for symbol, c := range bySymbol {
		var rank float64
		if len(c.normalized) == 2 {
			rank = (c.normalized[0] + c.normalized[1]) / 2
		} else {
			rank = c.normalized[0]
			for _, v := range c.normalized[1:] {
				if v < rank {
					rank = v
				}
			}
		}
		sort.Strings(c.sources)
		out[symbol] = UnifiedRank{
			Symbol:    symbol,
			Rank:      rank,
			Mentions:  c.mentions,
			PresentIn: c.sources,
		}
	}
	return out
}
