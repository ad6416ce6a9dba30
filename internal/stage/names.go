package stage

import (
	"fmt"
	"strings"
)

// Name identifies a pipeline stage.
type Name string

const (
	Discover  Name = "discover"
	Parse     Name = "parse"
	Embed     Name = "embed"
	Rate      Name = "rate"
	Refine    Name = "refine"
	Summarize Name = "summarize"
	Render    Name = "render"
	Deliver   Name = "deliver"
)

var order = []Name{Discover, Parse, Embed, Rate, Refine, Summarize, Render, Deliver}

// Order returns every stage in pipeline order.
func Order() []Name {
	out := make([]Name, len(order))
	copy(out, order)
	return out
}

// Index returns the position of a stage in pipeline order, or -1.
func Index(n Name) int {
	for i, candidate := range order {
		if candidate == n {
			return i
		}
	}
	return -1
}

// Valid reports whether n is a known stage.
func (n Name) Valid() bool { return Index(n) >= 0 }

func (n Name) String() string { return string(n) }

// ParseName converts user input to a stage name.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return n, nil
}
