package item

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Kind tags which body a Payload carries.
type Kind string

const (
	KindText  Kind = "text"
	KindScore Kind = "score"
	KindBlob  Kind = "blob"
)

// Score is the result of a scoring stage.
type Score struct {
	Value          float64            `json:"value"`
	Ratings        map[string]float64 `json:"ratings,omitempty"`
	Justifications map[string]string  `json:"justifications,omitempty"`
}

// Payload is the result of one stage for one item. Exactly one of Text,
// Score, or Blob is meaningful, as selected by Kind.
type Payload struct {
	Stage string            `json:"stage"`
	Kind  Kind              `json:"kind"`
	Text  string            `json:"text,omitempty"`
	Score *Score            `json:"score,omitempty"`
	Blob  []byte            `json:"blob,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// TextPayload builds a text result. Invalid UTF-8 is replaced with U+FFFD
// so the stored text reads back byte for byte.
func TextPayload(stage, text string) Payload {
	return Payload{Stage: stage, Kind: KindText, Text: strings.ToValidUTF8(text, "\uFFFD")}
}

// ScorePayload builds a score result.
func ScorePayload(stage string, score Score) Payload {
	return Payload{Stage: stage, Kind: KindScore, Score: &score}
}

// BlobPayload builds a binary result.
func BlobPayload(stage string, blob []byte) Payload {
	return Payload{Stage: stage, Kind: KindBlob, Blob: blob}
}

// Validate checks that the payload carries the body its kind promises.
func (p Payload) Validate() error {
	if p.Stage == "" {
		return errors.New("payload stage is empty")
	}
	switch p.Kind {
	case KindText:
		if !utf8.ValidString(p.Text) {
			return fmt.Errorf("text payload for %s is not valid UTF-8", p.Stage)
		}
		return nil
	case KindScore:
		if p.Score == nil {
			return fmt.Errorf("score payload for %s has no score", p.Stage)
		}
		return p.Score.validate(p.Stage)
	case KindBlob:
		if p.Blob == nil {
			return fmt.Errorf("blob payload for %s has no data", p.Stage)
		}
		return nil
	default:
		return fmt.Errorf("payload for %s has unknown kind %q", p.Stage, p.Kind)
	}
}

func (s *Score) validate(stage string) error {
	if !finite(s.Value) {
		return fmt.Errorf("score payload for %s has non-finite value %v", stage, s.Value)
	}
	for name, v := range s.Ratings {
		if !finite(v) {
			return fmt.Errorf("score payload for %s has non-finite rating %s=%v", stage, name, v)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Encode serializes the payload for storage.
func (p Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Decode parses a stored payload. Fields written by newer versions are
// ignored.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Equivalent reports whether two encoded payloads carry the same result.
// Both sides are decoded and re-encoded so that field order and unknown
// fields do not matter.
func Equivalent(a, b []byte) (bool, error) {
	pa, err := Decode(a)
	if err != nil {
		return false, err
	}
	pb, err := Decode(b)
	if err != nil {
		return false, err
	}
	ea, err := json.Marshal(pa)
	if err != nil {
		return false, err
	}
	eb, err := json.Marshal(pb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}
