package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"autosumm/internal/services"
	"autosumm/internal/stage"
)

// Token is a stage fingerprint: 64 lowercase hex characters of SHA-256.
type Token string

func (t Token) String() string { return string(t) }

// Short returns a prefix suitable for log lines.
func (t Token) Short() string {
	if len(t) > 12 {
		return string(t[:12])
	}
	return string(t)
}

const domain = "autosumm/fp/v1"

// UpstreamKey is the reserved effective-config key under which the
// coordinator records the fingerprints of the item's completed upstream
// stages.
const UpstreamKey = "_upstream"

// Compute fingerprints an (item, stage, effective configuration) triple. It
// is a pure function of its inputs.
func Compute(identity string, name stage.Name, effective map[string]any) (Token, error) {
	if !name.Valid() {
		return "", services.Wrap(services.ErrValidation, "fingerprint", "compute", fmt.Sprintf("unknown stage %q", name), nil)
	}
	if identity == "" {
		return "", services.Wrap(services.ErrValidation, "fingerprint", "compute", "empty item identity", nil)
	}
	canonical, err := Canonicalize(effective)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writeField(h, []byte(domain))
	writeField(h, []byte(identity))
	writeField(h, []byte(name))
	writeField(h, canonical)
	return Token(hex.EncodeToString(h.Sum(nil))), nil
}

// writeField length-prefixes each field so adjacent fields cannot run into
// each other.
func writeField(h hash.Hash, b []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(b)))
	h.Write(size[:])
	h.Write(b)
}

// WithUpstream returns a copy of effective with the upstream chain added
// under UpstreamKey. The input map is not modified.
func WithUpstream(effective map[string]any, chain []string) map[string]any {
	out := make(map[string]any, len(effective)+1)
	for k, v := range effective {
		out[k] = v
	}
	upstream := make([]string, len(chain))
	copy(upstream, chain)
	out[UpstreamKey] = upstream
	return out
}
