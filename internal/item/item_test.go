package item_test

import (
	"math"
	"testing"

	"autosumm/internal/item"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "in-progress", "succeeded", "failed", "skipped"} {
		if _, err := item.ParseStatus(s); err != nil {
			t.Fatalf("ParseStatus(%q): %v", s, err)
		}
	}
	if _, err := item.ParseStatus("review"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestIdentityIncludesRevision(t *testing.T) {
	a := item.New("2406.01234", "")
	b := item.New("2406.01234", "v2")
	if a.Identity() == b.Identity() {
		t.Fatalf("expected revisions to differ: %q", a.Identity())
	}
	if a.Identity() != "2406.01234@v1" {
		t.Fatalf("unexpected identity %q", a.Identity())
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{"stage":"rate","kind":"score","score":{"value":7.5,"calibration":"v3"},"added_later":{"x":1}}`)
	p, err := item.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Score == nil || p.Score.Value != 7.5 {
		t.Fatalf("unexpected score: %+v", p.Score)
	}
}

func TestDecodeRejectsMissingBody(t *testing.T) {
	if _, err := item.Decode([]byte(`{"stage":"rate","kind":"score"}`)); err == nil {
		t.Fatal("expected score payload without score to fail")
	}
	if _, err := item.Decode([]byte(`{"stage":"rate","kind":"mystery"}`)); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestEquivalentIgnoresFieldOrder(t *testing.T) {
	a := []byte(`{"stage":"parse","kind":"text","text":"hello"}`)
	b := []byte(`{"text":"hello","kind":"text","stage":"parse","future":true}`)
	same, err := item.Equivalent(a, b)
	if err != nil {
		t.Fatalf("Equivalent: %v", err)
	}
	if !same {
		t.Fatal("expected payloads to be equivalent")
	}

	c := []byte(`{"stage":"parse","kind":"text","text":"hello!"}`)
	same, err = item.Equivalent(a, c)
	if err != nil {
		t.Fatalf("Equivalent: %v", err)
	}
	if same {
		t.Fatal("expected different text to differ")
	}
}

func TestWorkItemAccessors(t *testing.T) {
	w := item.New("x", "v1")
	w.SetPayload(item.TextPayload("parse", "body"))
	w.SetPayload(item.ScorePayload("embed", item.Score{Value: 0.42}))

	if text, ok := w.Text("refine", "parse"); !ok || text != "body" {
		t.Fatalf("expected fallback to parse text, got %q %v", text, ok)
	}
	if v, ok := w.ScoreValue("embed"); !ok || v != 0.42 {
		t.Fatalf("unexpected score %v %v", v, ok)
	}
	if _, ok := w.ScoreValue("rate"); ok {
		t.Fatal("expected no rate score")
	}

	clone := w.Clone()
	clone.Chain = append(clone.Chain, "tok")
	clone.SetPayload(item.TextPayload("refine", "better"))
	if len(w.Chain) != 0 {
		t.Fatal("clone shares chain")
	}
	if _, ok := w.Payload("refine"); ok {
		t.Fatal("clone shares payloads")
	}
}

func TestValidateRejectsNonFiniteScores(t *testing.T) {
	tests := []struct {
		name  string
		score item.Score
	}{
		{name: "nan value", score: item.Score{Value: math.NaN()}},
		{name: "infinite value", score: item.Score{Value: math.Inf(1)}},
		{name: "nan rating", score: item.Score{Value: 5, Ratings: map[string]float64{"novelty": math.NaN()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := item.ScorePayload("rate", tt.score)
			if err := p.Validate(); err == nil {
				t.Fatal("expected non-finite score to be rejected")
			}
			if _, err := p.Encode(); err == nil {
				t.Fatal("expected Encode to refuse non-finite score")
			}
		})
	}
}

func TestTextPayloadRoundTripsInvalidUTF8(t *testing.T) {
	p := item.TextPayload("parse", "caf\xe9 au lait")
	if p.Text != "caf\uFFFD au lait" {
		t.Fatalf("text = %q", p.Text)
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := item.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Text != p.Text {
		t.Fatalf("round trip changed text: %q != %q", back.Text, p.Text)
	}

	raw := item.Payload{Stage: "parse", Kind: item.KindText, Text: "bad \xff"}
	if err := raw.Validate(); err == nil {
		t.Fatal("expected invalid UTF-8 text to be rejected")
	}
}
