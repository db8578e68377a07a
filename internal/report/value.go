package report

import (
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Value is a sealed interface over the types canonical JSON can carry.
// There is no float and no null.
type Value interface {
	reportValue()
}

type String string

func (String) reportValue() {}

type Int int64

func (Int) reportValue() {}

type Bool bool

func (Bool) reportValue() {}

type Array []Value

func (Array) reportValue() {}

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) reportValue() {}

// Uint converts an unsigned counter. Values beyond int64 are rendered as
// decimal strings.
func Uint(n uint64) Value {
	if n > math.MaxInt64 {
		return String(strconv.FormatUint(n, 10))
	}
	return Int(int64(n))
}

// SortedKeys returns keys ordered by UTF-16 code units, which differs from
// Go's byte-wise string order for characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
