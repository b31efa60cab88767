package scope

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the declared type of a reply.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a parsed reply. Only the field selected by Kind is meaningful;
// Raw always holds the trimmed reply text.
type Value struct {
	Kind  Kind
	Float float64
	Int   int64
	Str   string
	Raw   string
}

func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	default:
		return v.Str
	}
}

// ParseReply infers the type of a reply, trying float, then int, then
// falling back to the trimmed text. It never fails. Every integer is a
// valid float, so generic replies never come back as KindInt; use ParseAs
// when the kind is known. Float parsing follows strconv, so hex floats
// and Inf/NaN spellings are accepted as floats.
func ParseReply(text string) Value {
	s := strings.TrimSpace(text)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{Kind: KindFloat, Float: f, Raw: s}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: i, Raw: s}
	}
	return Value{Kind: KindString, Str: s, Raw: s}
}

// ParseAs parses the first line of text as kind. Integers are read
// through a float so "3.000000e+00" yields 3.
func ParseAs(text string, kind Kind) (Value, error) {
	line := firstLine(text)
	switch kind {
	case KindFloat:
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return Value{}, &ReplyError{Text: line, Kind: kind}
		}
		return Value{Kind: KindFloat, Float: f, Raw: line}, nil
	case KindInt:
		f, err := strconv.ParseFloat(line, 64)
		// 9.9E37 is the instrument's "no valid measurement" marker.
		if err != nil || math.IsNaN(f) || math.Abs(f) >= 1<<63 {
			return Value{}, &ReplyError{Text: line, Kind: kind}
		}
		return Value{Kind: KindInt, Int: int64(f), Raw: line}, nil
	case KindString:
		return Value{Kind: KindString, Str: line, Raw: line}, nil
	default:
		return Value{}, &ReplyError{Text: line, Kind: kind}
	}
}

func firstLine(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

var magnitudePattern = regexp.MustCompile(`([-+]?(?:\d+\.?\d*|\.\d+)(?:e[-+]?\d+)?)\s*([a-z]*)`)

// unitDivisors maps the accepted unit suffixes to their divisor.
var unitDivisors = map[string]float64{
	"s": 1, "v": 1,
	"ms": 1e3, "mv": 1e3,
	"us": 1e6, "uv": 1e6,
	"ns": 1e9, "nv": 1e9,
}

// ParseMagnitude converts strings like "100mv", "5us" or "1.5" to SI
// values. Unknown unit tokens are taken as bare units.
func ParseMagnitude(text string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	m := magnitudePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMagnitude, text)
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMagnitude, text)
	}
	if d, ok := unitDivisors[m[2]]; ok {
		return f / d, nil
	}
	return f, nil
}

// EngNotation renders x with four significant digits, switching to an
// exponent that is a multiple of three once |x| leaves [0.001, 1000).
func EngNotation(x float64) string {
	if x == 0 {
		return "0"
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return formatSig4(x)
	}
	a, b := powerOfTen(x)
	if b > -3 && b < 3 {
		return formatSig4(x)
	}
	shift := ((b % 3) + 3) % 3
	a *= math.Pow10(shift)
	b -= shift
	return formatSig4(a) + "E" + strconv.Itoa(b)
}

// powerOfTen splits x into a*10^b with 1 <= |a| < 10.
func powerOfTen(x float64) (float64, int) {
	b := int(math.Floor(math.Log10(math.Abs(x))))
	a := x / math.Pow10(b)
	switch {
	case math.Abs(a) >= 10:
		a /= 10
		b++
	case math.Abs(a) < 1:
		a *= 10
		b--
	}
	return a, b
}

func formatSig4(x float64) string {
	return strconv.FormatFloat(x, 'g', 4, 64)
}
