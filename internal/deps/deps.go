package deps

import (
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"autosumm/internal/config"
)

// Requirement defines an external binary autosumm relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured pipeline executes. Tools
// used only by disabled features are reported as optional.
func Requirements(cfg *config.Config) []Requirement {
	pandocNeeded := slices.ContainsFunc(cfg.Render.Formats, func(format string) bool {
		return !strings.EqualFold(strings.TrimSpace(format), "md")
	})
	return []Requirement{
		{
			Name:        "pdftotext",
			Command:     cfg.Parse.Pdftotext,
			Description: "Extracts paper text (poppler-utils)",
		},
		{
			Name:        "pdftoppm",
			Command:     ResolveSibling(cfg.Parse.Pdftotext, cfg.Refine.Pdftoppm),
			Description: "Renders pages for the refine stage (poppler-utils)",
			Optional:    !cfg.Refine.Enabled,
		},
		{
			Name:        "pandoc",
			Command:     cfg.Render.Pandoc,
			Description: "Converts the digest to html, pdf, or epub",
			Optional:    !pandocNeeded,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			missing = append(missing, st)
		}
	}
	return missing
}
