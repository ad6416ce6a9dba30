package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"autosumm/internal/services"
)

// UnresolvedPrefix marks a value the resolver could not substitute in
// lenient mode. Such values must never be hashed.
const UnresolvedPrefix = "<unresolved:"

var referencePattern = regexp.MustCompile(`^(env|file):\S+$`)

// IsReference reports whether s is still an env: or file: reference.
func IsReference(s string) bool {
	return referencePattern.MatchString(strings.TrimSpace(s))
}

// Canonicalize encodes v deterministically: map keys sorted bytewise, no
// insignificant whitespace, strings NFC-normalized with CRLF folded to LF,
// integral numbers printed without a fraction. Slices keep their order.
// Unresolved references fail with a ConfigResolutionError naming every
// offending path.
func Canonicalize(v any) ([]byte, error) {
	enc := encoder{}
	if err := enc.encode("", reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	if len(enc.unresolved) > 0 {
		return nil, &services.ConfigResolutionError{Failures: enc.unresolved}
	}
	return enc.buf.Bytes(), nil
}

type encoder struct {
	buf        bytes.Buffer
	unresolved []services.ResolutionFailure
}

func (e *encoder) encode(path string, v reflect.Value) error {
	if !v.IsValid() {
		e.buf.WriteString("null")
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(path, v.Elem())
	case reflect.String:
		e.encodeString(path, v.String())
		return nil
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(v.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return e.encodeFloat(path, v.Float())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			e.buf.WriteString("[]")
			return nil
		}
		e.buf.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			if err := e.encode(fmt.Sprintf("%s[%d]", path, i), v.Index(i)); err != nil {
				return err
			}
		}
		e.buf.WriteByte(']')
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%s: map keys must be strings, got %s", displayPath(path), v.Type().Key())
		}
		keys := make([]string, 0, v.Len())
		values := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			key := norm.NFC.String(k.String())
			if _, dup := values[key]; dup {
				return fmt.Errorf("%s: keys collide after normalization: %q", displayPath(path), key)
			}
			keys = append(keys, key)
			values[key] = v.MapIndex(k)
		}
		sort.Strings(keys)
		e.buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			e.writeQuoted(key)
			e.buf.WriteByte(':')
			if err := e.encode(joinPath(path, key), values[key]); err != nil {
				return err
			}
		}
		e.buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("%s: unsupported value of type %s", displayPath(path), v.Type())
	}
}

func (e *encoder) encodeString(path, s string) {
	if IsReference(s) || strings.HasPrefix(s, UnresolvedPrefix) {
		e.unresolved = append(e.unresolved, services.ResolutionFailure{
			Path:      displayPath(path),
			Reference: strings.TrimSpace(s),
			Err:       errors.New("value was not resolved before fingerprinting"),
		})
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	e.writeQuoted(norm.NFC.String(s))
}

func (e *encoder) encodeFloat(path string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s: non-finite number", displayPath(path))
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		e.buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	e.buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func (e *encoder) writeQuoted(s string) {
	e.buf.WriteString(strconv.Quote(s))
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
