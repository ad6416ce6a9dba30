package stage

import (
	"errors"
	"fmt"
)

// Definition binds a stage to its executor and run settings.
type Definition struct {
	Name     Name
	Provider string
	Enabled  bool
	Workers  int
	// Config is the effective configuration subtree hashed into the
	// stage fingerprint. It must already be resolved.
	Config   map[string]any
	Executor Executor
}

// ValidateDefinitions checks that definitions name known stages, appear in
// pipeline order without repeats, and that every enabled stage can run.
func ValidateDefinitions(defs []Definition) error {
	last := -1
	for _, def := range defs {
		idx := Index(def.Name)
		if idx < 0 {
			return fmt.Errorf("unknown stage %q", def.Name)
		}
		if idx <= last {
			return fmt.Errorf("stage %s is out of order", def.Name)
		}
		last = idx
		if !def.Enabled {
			continue
		}
		if def.Executor == nil {
			return fmt.Errorf("stage %s has no executor", def.Name)
		}
		if def.Workers <= 0 {
			return fmt.Errorf("stage %s needs at least one worker", def.Name)
		}
	}
	if len(defs) == 0 {
		return errors.New("no stages defined")
	}
	return nil
}
