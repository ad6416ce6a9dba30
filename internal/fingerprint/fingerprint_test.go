package fingerprint_test

import (
	"errors"
	"math"
	"testing"

	"autosumm/internal/fingerprint"
	"autosumm/internal/services"
	"autosumm/internal/stage"
)

func rateConfig() map[string]any {
	return map[string]any{
		"provider":             "deepseek",
		"model":                "deepseek-chat",
		"user_prompt_template": "Rate {paper_text}",
		"criteria": map[string]any{
			"relevance": map[string]any{"description": "fit", "weight": 0.6},
			"novelty":   map[string]any{"description": "new", "weight": 0.4},
		},
		"max_chars": 65536,
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	a, err := fingerprint.Compute("2406.01234@v1", stage.Rate, rateConfig())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := fingerprint.Compute("2406.01234@v1", stage.Rate, rateConfig())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal tokens, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeIgnoresRepresentation(t *testing.T) {
	base, _ := fingerprint.Compute("x@v1", stage.Rate, rateConfig())

	alt := rateConfig()
	alt["max_chars"] = 65536.0
	alt["user_prompt_template"] = "Rate {paper_text}"
	token, err := fingerprint.Compute("x@v1", stage.Rate, alt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if token != base {
		t.Fatal("expected integral float to hash like the integer")
	}

	crlf := rateConfig()
	crlf["user_prompt_template"] = "line one\r\nline two"
	lf := rateConfig()
	lf["user_prompt_template"] = "line one\nline two"
	t1, _ := fingerprint.Compute("x@v1", stage.Rate, crlf)
	t2, _ := fingerprint.Compute("x@v1", stage.Rate, lf)
	if t1 != t2 {
		t.Fatal("expected CRLF and LF templates to hash alike")
	}

	composed := rateConfig()
	composed["user_prompt_template"] = "caf\u00e9"
	decomposed := rateConfig()
	decomposed["user_prompt_template"] = "cafe\u0301"
	t3, _ := fingerprint.Compute("x@v1", stage.Rate, composed)
	t4, _ := fingerprint.Compute("x@v1", stage.Rate, decomposed)
	if t3 != t4 {
		t.Fatal("expected NFC-equivalent strings to hash alike")
	}
}

func TestComputeChangesOnAnyEdit(t *testing.T) {
	base, _ := fingerprint.Compute("x@v1", stage.Rate, rateConfig())

	edits := map[string]func(map[string]any){
		"model":    func(c map[string]any) { c["model"] = "deepseek-reasoner" },
		"prompt":   func(c map[string]any) { c["user_prompt_template"] = "Rate {paper_text}." },
		"weight":   func(c map[string]any) { c["criteria"].(map[string]any)["novelty"].(map[string]any)["weight"] = 0.41 },
		"numeric":  func(c map[string]any) { c["max_chars"] = 65535 },
		"provider": func(c map[string]any) { c["provider"] = "openai" },
		"added":    func(c map[string]any) { c["temperature"] = 0.2 },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			cfg := rateConfig()
			edit(cfg)
			token, err := fingerprint.Compute("x@v1", stage.Rate, cfg)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if token == base {
				t.Fatalf("expected %s edit to change the fingerprint", name)
			}
		})
	}

	other, _ := fingerprint.Compute("y@v1", stage.Rate, rateConfig())
	if other == base {
		t.Fatal("expected item identity to change the fingerprint")
	}
	summarize, _ := fingerprint.Compute("x@v1", stage.Summarize, rateConfig())
	if summarize == base {
		t.Fatal("expected stage name to change the fingerprint")
	}
}

func TestComputeRejectsUnresolvedReferences(t *testing.T) {
	for _, value := range []string{"env:DEEPSEEK_API_KEY", "file:prompts/rate.md", "<unresolved:env:X>"} {
		cfg := rateConfig()
		cfg["criteria"].(map[string]any)["relevance"].(map[string]any)["description"] = value
		_, err := fingerprint.Compute("x@v1", stage.Rate, cfg)
		var resolution *services.ConfigResolutionError
		if !errors.As(err, &resolution) {
			t.Fatalf("expected ConfigResolutionError for %q, got %v", value, err)
		}
		if resolution.Failures[0].Path != "criteria.relevance.description" {
			t.Fatalf("unexpected path %q", resolution.Failures[0].Path)
		}
	}

	cfg := rateConfig()
	cfg["user_prompt_template"] = "see env:HOME for details"
	if _, err := fingerprint.Compute("x@v1", stage.Rate, cfg); err != nil {
		t.Fatalf("prose mentioning env: should hash, got %v", err)
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	if _, err := fingerprint.Compute("x@v1", stage.Name("encode"), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
	if _, err := fingerprint.Compute("", stage.Parse, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty identity, got %v", err)
	}
	if _, err := fingerprint.Compute("x@v1", stage.Parse, map[string]any{"t": math.NaN()}); err == nil {
		t.Fatal("expected NaN to be rejected")
	}
}

func TestWithUpstreamChangesTokenAndCopies(t *testing.T) {
	cfg := map[string]any{"model": "m"}
	withChain := fingerprint.WithUpstream(cfg, []string{"aaa"})
	if _, ok := cfg[fingerprint.UpstreamKey]; ok {
		t.Fatal("WithUpstream mutated its input")
	}
	a, _ := fingerprint.Compute("x@v1", stage.Summarize, fingerprint.WithUpstream(cfg, []string{"aaa"}))
	b, _ := fingerprint.Compute("x@v1", stage.Summarize, fingerprint.WithUpstream(cfg, []string{"aaa", "bbb"}))
	if a == b {
		t.Fatal("expected different chains to produce different tokens")
	}
	c, _ := fingerprint.Compute("x@v1", stage.Summarize, withChain)
	if a != c {
		t.Fatal("expected equal chains to produce equal tokens")
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := fingerprint.Canonicalize(map[string]any{"b": []int{2, 1}, "a": map[string]any{"y": true, "x": nil}})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":{"x":null,"y":true},"b":[2,1]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
