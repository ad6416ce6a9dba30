package stage

import (
	"context"
	"fmt"
)

// Readiness reports whether an executor can run on this host.
type Readiness struct {
	Stage  Name
	Ready  bool
	Detail string
}

// ReadinessChecker is implemented by executors that depend on something
// outside the process, such as an external binary.
type ReadinessChecker interface {
	Readiness(context.Context) Readiness
}

// ReadyFor marks a stage as able to run.
func ReadyFor(name Name) Readiness {
	return Readiness{Stage: name, Ready: true}
}

// Blocked marks a stage as unable to run.
func Blocked(name Name, detail string) Readiness {
	return Readiness{Stage: name, Detail: detail}
}

// Check collects the readiness of every enabled definition whose executor
// can report it.
func Check(ctx context.Context, defs []Definition) []Readiness {
	var out []Readiness
	for _, def := range defs {
		if !def.Enabled || def.Executor == nil {
			continue
		}
		if checker, ok := def.Executor.(ReadinessChecker); ok {
			out = append(out, checker.Readiness(ctx))
		}
	}
	return out
}

// Blockers formats the records that are not ready as "stage (detail)".
func Blockers(records []Readiness) []string {
	var out []string
	for _, r := range records {
		if !r.Ready {
			out = append(out, fmt.Sprintf("%s (%s)", r.Stage, r.Detail))
		}
	}
	return out
}
