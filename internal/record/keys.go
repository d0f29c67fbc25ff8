package record

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	tagNumber byte = 0x10
	tagString byte = 0x20
	tagArray  byte = 0x30
)

// EncodeKey encodes a key value so that bytes.Compare on the result matches
// key ordering. Valid keys are numbers, strings, and arrays of valid keys.
// Booleans, null, and objects are not keys, nor are numbers a float64
// cannot hold exactly, such as integers beyond 2^53 that are not multiples
// of a power of two.
func EncodeKey(v any) ([]byte, error) {
	return appendKey(nil, v)
}

// ValidKey reports whether v can be used as a key.
func ValidKey(v any) bool {
	_, err := EncodeKey(v)
	return err == nil
}

func appendKey(dst []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return appendString(dst, val), nil
	case json.Number:
		f, err := exactFloat(val)
		if err != nil {
			return nil, err
		}
		return appendNumber(dst, f)
	case []any:
		dst = append(dst, tagArray)
		for i, elem := range val {
			var err error
			dst, err = appendKey(dst, elem)
			if err != nil {
				return nil, fmt.Errorf("key[%d]: %w", i, err)
			}
		}
		return append(dst, 0x00), nil
	case []string:
		dst = append(dst, tagArray)
		for _, elem := range val {
			dst = appendString(dst, elem)
		}
		return append(dst, 0x00), nil
	}
	if f, ok := toFloat(v); ok {
		if !exactInt(v, f) {
			return nil, fmt.Errorf("key %v is not exactly representable as a float64", v)
		}
		return appendNumber(dst, f)
	}
	return nil, fmt.Errorf("invalid key type %T", v)
}

// exactFloat parses n and fails unless its float64 form still denotes the
// number written, so distinct numbers never share an encoding.
func exactFloat(n json.Number) (float64, error) {
	s := n.String()
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", s, err)
	}
	if f == 0 {
		mant := s
		if i := strings.IndexAny(s, "eE"); i >= 0 {
			mant = s[:i]
		}
		if strings.ContainsAny(mant, "123456789") {
			return 0, fmt.Errorf("key %s is not exactly representable as a float64", s)
		}
		return 0, nil
	}
	want, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("key %q is not a number", s)
	}
	got, _ := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if want.Cmp(got) != 0 {
		return 0, fmt.Errorf("key %s is not exactly representable as a float64", s)
	}
	return f, nil
}

// exactInt reports whether the integer v converted to f without rounding.
func exactInt(v any, f float64) bool {
	switch n := v.(type) {
	case int:
		return f < 0x1p63 && int(f) == n
	case int64:
		return f < 0x1p63 && int64(f) == n
	case uint:
		return f < 0x1p64 && uint(f) == n
	case uint64:
		return f < 0x1p64 && uint64(f) == n
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func appendNumber(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) {
		return nil, fmt.Errorf("NaN is not a valid key")
	}
	if f == 0 {
		f = 0 // fold -0 into +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	dst = append(dst, tagNumber)
	return binary.BigEndian.AppendUint64(dst, bits), nil
}

func appendString(dst []byte, s string) []byte {
	s = norm.NFC.String(s)
	dst = append(dst, tagString)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			dst = append(dst, 0x00, 0xFF)
			continue
		}
		dst = append(dst, s[i])
	}
	return append(dst, 0x00, 0x00)
}

// KeyValue converts a decoded key value to the Go type callers expect:
// json.Number becomes int64 when integral, float64 otherwise.
func KeyValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Number reports the numeric value of v, accepting json.Number and Go
// numeric types.
func Number(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	return toFloat(v)
}
