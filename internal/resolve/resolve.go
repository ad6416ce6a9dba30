package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"autosumm/internal/config"
	"autosumm/internal/fingerprint"
	"autosumm/internal/services"
)

var errMissingAPIKey = errors.New("api key is required for remote providers")

// Resolver substitutes env: and file: references in a configuration.
type Resolver struct {
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	lenient   bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEnv overrides the environment lookup.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
	}
}

// WithReadFile overrides how file: references are read.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(r *Resolver) {
		if read != nil {
			r.readFile = read
		}
	}
}

// Lenient makes the resolver replace unresolvable references with an
// <unresolved:...> marker instead of failing. Use it for display only; the
// fingerprint engine rejects the marker.
func Lenient() Option {
	return func(r *Resolver) { r.lenient = true }
}

// New builds a Resolver reading the process environment and filesystem.
func New(opts ...Option) *Resolver {
	r := &Resolver{lookupEnv: os.LookupEnv, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns a resolved copy of cfg. Every reference is substituted once;
// all failures are reported together in a single ConfigResolutionError.
func (r *Resolver) Config(cfg *config.Config) (*config.Config, error) {
	out := cfg.Clone()
	base := cfg.Dir()
	var failures []services.ResolutionFailure

	for _, field := range out.IndirectFields() {
		if !fingerprint.IsReference(field.Value) {
			continue
		}
		value, err := r.Value(base, field.Value)
		if err != nil {
			failures = append(failures, services.ResolutionFailure{Path: field.Path, Reference: field.Value, Err: err})
			if r.lenient {
				field.Set(unresolved(field.Value))
			}
			continue
		}
		if !verbatimField(field.Path) {
			value = strings.TrimSpace(value)
		}
		field.Set(value)
	}

	if out.Rate.CriteriaFile != "" {
		criteria, err := r.Criteria(base, out.Rate.CriteriaFile)
		if err != nil {
			failures = append(failures, services.ResolutionFailure{Path: "rate.criteria_file", Reference: out.Rate.CriteriaFile, Err: err})
		} else {
			out.Rate.Criteria = criteria
		}
	}

	failures = append(failures, missingKeys(out)...)

	if len(failures) > 0 && !r.lenient {
		return nil, &services.ConfigResolutionError{Failures: failures}
	}
	return out, nil
}

// Value resolves a single reference. Relative file: paths are taken from
// base. Values that are not references are returned unchanged.
func (r *Resolver) Value(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value, ok := r.lookupEnv(name)
		if !ok || value == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, "file:"):
		data, err := r.readFile(referencePath(base, strings.TrimPrefix(ref, "file:")))
		if err != nil {
			return "", err
		}
		return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
	default:
		return ref, nil
	}
}

// Criteria loads rating criteria from a YAML or TOML file. The file holds a
// map of criterion name to description and weight.
func (r *Resolver) Criteria(base, ref string) (map[string]config.Criterion, error) {
	path := referencePath(base, strings.TrimPrefix(strings.TrimSpace(ref), "file:"))
	data, err := r.readFile(path)
	if err != nil {
		return nil, err
	}
	criteria := map[string]config.Criterion{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &criteria)
	case ".toml":
		err = toml.Unmarshal(data, &criteria)
	default:
		return nil, fmt.Errorf("unsupported criteria file type %q (want .yaml, .yml, or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.ValidateCriteria(criteria); err != nil {
		return nil, err
	}
	return criteria, nil
}

func referencePath(base, path string) string {
	if strings.HasPrefix(path, "~") {
		if expanded, err := config.ExpandPath(path); err == nil {
			return expanded
		}
	}
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

func unresolved(ref string) string {
	return fingerprint.UnresolvedPrefix + ref + ">"
}

// verbatimField reports whether a setting keeps file contents byte for byte.
// Prompts do; credentials and addresses are trimmed.
func verbatimField(path string) bool {
	return strings.HasSuffix(path, "prompt") ||
		strings.HasSuffix(path, "_template") ||
		strings.HasSuffix(path, "user_interests")
}

func missingKeys(cfg *config.Config) []services.ResolutionFailure {
	var failures []services.ResolutionFailure
	for _, name := range cfg.ActiveProviders() {
		p := cfg.Providers[name]
		if p.APIKey != "" || p.Flavor == "ollama" || isLocal(p.BaseURL) {
			continue
		}
		failures = append(failures, services.ResolutionFailure{
			Path: "providers." + name + ".api_key",
			Err:  errMissingAPIKey,
		})
	}
	return failures
}

func isLocal(baseURL string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "http://[::1]"} {
		if strings.HasPrefix(baseURL, prefix) {
			return true
		}
	}
	return false
}
