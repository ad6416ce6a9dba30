package selection

import (
	"testing"

	"autosumm/internal/item"
)

func scored(id string, embed, rate float64) *item.WorkItem {
	w := item.New(id, "v1")
	if embed >= 0 {
		w.SetPayload(item.ScorePayload("embed", item.Score{Value: embed}))
	}
	if rate >= 0 {
		w.SetPayload(item.ScorePayload("rate", item.Score{Value: rate}))
	}
	return w
}

func ids(items []*item.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, w := range items {
		out = append(out, w.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelect(t *testing.T) {
	candidates := []*item.WorkItem{
		scored("a", 0.9, 4),
		scored("b", 0.8, 9),
		scored("c", 0.2, 10),
		scored("d", 0.7, 7),
	}
	tests := []struct {
		name     string
		policy   Policy
		selected []string
		rejected int
	}{
		{
			name:     "embed then rate",
			policy:   Policy{TopK: 3, MaxSelected: 2, EmbedRan: true, RateRan: true},
			selected: []string{"b", "d"},
			rejected: 2,
		},
		{
			name:     "rate only",
			policy:   Policy{MaxSelected: 2, RateRan: true},
			selected: []string{"c", "b"},
			rejected: 2,
		},
		{
			name:     "embed only",
			policy:   Policy{TopK: 3, MaxSelected: 2, EmbedRan: true},
			selected: []string{"a", "b"},
			rejected: 2,
		},
		{
			name:     "no scoring keeps order",
			policy:   Policy{MaxSelected: 3},
			selected: []string{"a", "b", "c"},
			rejected: 1,
		},
		{
			name:     "unbounded",
			policy:   Policy{RateRan: true},
			selected: []string{"c", "b", "d", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Select(candidates, tt.policy)
			if got := ids(res.Selected); !equal(got, tt.selected) {
				t.Fatalf("selected = %v, want %v", got, tt.selected)
			}
			if len(res.Rejected) != tt.rejected {
				t.Fatalf("rejected = %v, want %d", ids(res.Rejected), tt.rejected)
			}
		})
	}
}

func TestSelectRejectsUnscored(t *testing.T) {
	res := Select([]*item.WorkItem{scored("a", -1, 5), scored("b", -1, -1)}, Policy{RateRan: true})
	if got := ids(res.Selected); !equal(got, []string{"a"}) {
		t.Fatalf("selected = %v", got)
	}
	if got := ids(res.Rejected); !equal(got, []string{"b"}) {
		t.Fatalf("rejected = %v", got)
	}
}
