// Package selection narrows the scored candidates of a run to the papers
// that get summarized.
package selection

import (
	"cmp"
	"slices"

	"autosumm/internal/item"
	"autosumm/internal/stage"
)

// Policy controls how many papers survive each cut.
type Policy struct {
	// TopK is the number of papers kept by embedding score when embedding
	// ran. Zero or less keeps all of them.
	TopK int
	// MaxSelected is the final number of papers, ranked by rating score, or
	// by embedding score when rating did not run. Zero or less keeps all.
	MaxSelected int
	EmbedRan    bool
	RateRan     bool
}

// Result splits the candidates.
type Result struct {
	Selected []*item.WorkItem
	Rejected []*item.WorkItem
}

// Select ranks candidates and keeps the best ones. Ties keep the candidates'
// input order. A candidate missing a score that a cut ranks by is rejected
// by that cut.
func Select(candidates []*item.WorkItem, p Policy) Result {
	var res Result
	pool := slices.Clone(candidates)

	if p.EmbedRan {
		pool, res.Rejected = cut(pool, res.Rejected, string(stage.Embed), p.TopK)
	}
	switch {
	case p.RateRan:
		pool, res.Rejected = cut(pool, res.Rejected, string(stage.Rate), p.MaxSelected)
	case p.EmbedRan:
		pool, res.Rejected = cut(pool, res.Rejected, string(stage.Embed), p.MaxSelected)
	default:
		if p.MaxSelected > 0 && len(pool) > p.MaxSelected {
			res.Rejected = append(res.Rejected, pool[p.MaxSelected:]...)
			pool = pool[:p.MaxSelected]
		}
	}
	res.Selected = pool
	return res
}

func cut(pool, rejected []*item.WorkItem, scoreStage string, keep int) ([]*item.WorkItem, []*item.WorkItem) {
	scored := make([]*item.WorkItem, 0, len(pool))
	for _, w := range pool {
		if _, ok := w.ScoreValue(scoreStage); ok {
			scored = append(scored, w)
		} else {
			rejected = append(rejected, w)
		}
	}
	slices.SortStableFunc(scored, func(a, b *item.WorkItem) int {
		sa, _ := a.ScoreValue(scoreStage)
		sb, _ := b.ScoreValue(scoreStage)
		return cmp.Compare(sb, sa)
	})
	if keep > 0 && len(scored) > keep {
		rejected = append(rejected, scored[keep:]...)
		scored = scored[:keep]
	}
	return scored, rejected
}
