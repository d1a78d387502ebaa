package eval

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"derived-dsl/internal/ast"
)

func builtins() map[string]Function {
	return map[string]Function{
		"CONCAT":    fnConcat,
		"SUBSTRING": fnSubstring,
		"UPPER":     stringFunc("UPPER", strings.ToUpper),
		"LOWER":     stringFunc("LOWER", strings.ToLower),
		"TRIM":      stringFunc("TRIM", strings.TrimSpace),
		"LENGTH":    fnLength,
		"ROUND":     fnRound,
		"ABS":       fnAbs,
		"MAX":       extremum("MAX", 1),
		"MIN":       extremum("MIN", -1),
		"IS_EMAIL":  predicate("IS_EMAIL", isEmail),
		"IS_LEI":    predicate("IS_LEI", isLEI),
		"IS_SWIFT":  predicate("IS_SWIFT", isSWIFT),
		"MATCHES":   fnMatches,
		"COALESCE":  fnCoalesce,
		"IS_NULL":   fnIsNull,
	}
}

var pureBuiltins = builtins()

// IsPure reports whether name is a built-in function whose result depends
// only on its arguments. LOOKUP and functions added with WithFunction are
// not pure.
func IsPure(name string) bool {
	_, ok := pureBuiltins[strings.ToUpper(name)]
	return ok
}

func arity(name string, args []ast.Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return &ArgumentError{Function: name, Index: len(args), Message: fmt.Sprintf("got %d arguments", len(args))}
	}
	return nil
}

func wantString(name string, args []ast.Value, i int) (string, error) {
	if args[i].Kind != ast.KindString {
		return "", &ArgumentError{Function: name, Index: i + 1, Message: fmt.Sprintf("expected STRING, got %s", args[i].Kind)}
	}
	return args[i].Str, nil
}

func wantInt(name string, args []ast.Value, i int) (int64, error) {
	if args[i].Kind != ast.KindInteger {
		return 0, &ArgumentError{Function: name, Index: i + 1, Message: fmt.Sprintf("expected INTEGER, got %s", args[i].Kind)}
	}
	return args[i].Int, nil
}

func fnConcat(args []ast.Value) (ast.Value, error) {
	var sb strings.Builder
	for i, a := range args {
		if a.IsNull() {
			return ast.Null, &ArgumentError{Function: "CONCAT", Index: i + 1, Message: "NULL cannot be concatenated"}
		}
		sb.WriteString(a.Text())
	}
	return ast.Str(sb.String()), nil
}

// fnSubstring is 1-based and counts runes; a start past the end yields ""
func fnSubstring(args []ast.Value) (ast.Value, error) {
	if err := arity("SUBSTRING", args, 2, 3); err != nil {
		return ast.Null, err
	}
	s, err := wantString("SUBSTRING", args, 0)
	if err != nil {
		return ast.Null, err
	}
	start, err := wantInt("SUBSTRING", args, 1)
	if err != nil {
		return ast.Null, err
	}
	if start < 1 {
		return ast.Null, &ArgumentError{Function: "SUBSTRING", Index: 2, Message: "start must be at least 1"}
	}
	runes := []rune(s)
	if start > int64(len(runes)) {
		return ast.Str(""), nil
	}
	end := int64(len(runes))
	if len(args) == 3 {
		n, err := wantInt("SUBSTRING", args, 2)
		if err != nil {
			return ast.Null, err
		}
		if n < 0 {
			return ast.Null, &ArgumentError{Function: "SUBSTRING", Index: 3, Message: "length must not be negative"}
		}
		if n < end-(start-1) {
			end = start - 1 + n
		}
	}
	return ast.Str(string(runes[start-1 : end])), nil
}

func stringFunc(name string, fn func(string) string) Function {
	return func(args []ast.Value) (ast.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return ast.Null, err
		}
		s, err := wantString(name, args, 0)
		if err != nil {
			return ast.Null, err
		}
		return ast.Str(fn(s)), nil
	}
}

func fnLength(args []ast.Value) (ast.Value, error) {
	if err := arity("LENGTH", args, 1, 1); err != nil {
		return ast.Null, err
	}
	s, err := wantString("LENGTH", args, 0)
	if err != nil {
		return ast.Null, err
	}
	return ast.Int(int64(utf8.RuneCountInString(s))), nil
}

// fnRound rounds half away from zero. Integers are returned unchanged.
func fnRound(args []ast.Value) (ast.Value, error) {
	if err := arity("ROUND", args, 1, 2); err != nil {
		return ast.Null, err
	}
	var digits int64
	if len(args) == 2 {
		d, err := wantInt("ROUND", args, 1)
		if err != nil {
			return ast.Null, err
		}
		digits = d
	}
	switch args[0].Kind {
	case ast.KindInteger:
		return args[0], nil
	case ast.KindFloat:
		scale := math.Pow(10, float64(digits))
		if scale == 0 || math.IsInf(scale, 0) {
			return ast.Null, &ArgumentError{Function: "ROUND", Index: 2, Message: fmt.Sprintf("%d decimal places is out of range", digits)}
		}
		scaled := args[0].Float * scale
		if math.IsInf(scaled, 0) {
			// no fractional digits left at this magnitude
			return args[0], nil
		}
		return ast.Float(math.Round(scaled) / scale), nil
	}
	return ast.Null, &ArgumentError{Function: "ROUND", Index: 1, Message: fmt.Sprintf("expected a number, got %s", args[0].Kind)}
}

func fnAbs(args []ast.Value) (ast.Value, error) {
	if err := arity("ABS", args, 1, 1); err != nil {
		return ast.Null, err
	}
	switch v := args[0]; v.Kind {
	case ast.KindInteger:
		if v.Int == math.MinInt64 {
			return ast.Null, &OverflowError{Op: "ABS", Operands: []ast.Value{v}}
		}
		if v.Int < 0 {
			return ast.Int(-v.Int), nil
		}
		return v, nil
	case ast.KindFloat:
		return ast.Float(math.Abs(v.Float)), nil
	}
	return ast.Null, &ArgumentError{Function: "ABS", Index: 1, Message: fmt.Sprintf("expected a number, got %s", args[0].Kind)}
}

// extremum returns MAX (sign 1) or MIN (sign -1). The result stays Integer
// when every argument is an Integer.
func extremum(name string, sign int) Function {
	return func(args []ast.Value) (ast.Value, error) {
		if err := arity(name, args, 1, -1); err != nil {
			return ast.Null, err
		}
		best := args[0]
		allInt := true
		for i, a := range args {
			if !a.Kind.IsNumeric() {
				return ast.Null, &ArgumentError{Function: name, Index: i + 1, Message: fmt.Sprintf("expected a number, got %s", a.Kind)}
			}
			if a.Kind != ast.KindInteger {
				allInt = false
			}
			if c, _ := compare(a, best); c*sign > 0 {
				best = a
			}
		}
		if !allInt {
			f, _ := best.AsFloat()
			return ast.Float(f), nil
		}
		return best, nil
	}
}

func predicate(name string, test func(string) bool) Function {
	return func(args []ast.Value) (ast.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return ast.Null, err
		}
		s, err := wantString(name, args, 0)
		if err != nil {
			return ast.Null, err
		}
		return ast.Bool(test(s)), nil
	}
}

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	leiPattern   = regexp.MustCompile(`^[A-Z0-9]{18}[0-9]{2}$`)
	swiftPattern = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
)

func isEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// isLEI validates the ISO 17442 format and its ISO 7064 MOD 97-10 check digits
func isLEI(s string) bool {
	if !leiPattern.MatchString(s) {
		return false
	}
	var digits strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			fmt.Fprintf(&digits, "%d", r-'A'+10)
			continue
		}
		digits.WriteRune(r)
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// isSWIFT validates an ISO 9362 business identifier code (8 or 11 characters)
func isSWIFT(s string) bool {
	return swiftPattern.MatchString(s)
}

var patternCache sync.Map // string -> *regexp.Regexp

func fnMatches(args []ast.Value) (ast.Value, error) {
	if err := arity("MATCHES", args, 2, 2); err != nil {
		return ast.Null, err
	}
	s, err := wantString("MATCHES", args, 0)
	if err != nil {
		return ast.Null, err
	}
	pattern, err := wantString("MATCHES", args, 1)
	if err != nil {
		return ast.Null, err
	}
	re, ok := patternCache.Load(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return ast.Null, &ArgumentError{Function: "MATCHES", Index: 2, Message: err.Error()}
		}
		re, _ = patternCache.LoadOrStore(pattern, compiled)
	}
	return ast.Bool(re.(*regexp.Regexp).MatchString(s)), nil
}

func fnCoalesce(args []ast.Value) (ast.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return ast.Null, nil
}

func fnIsNull(args []ast.Value) (ast.Value, error) {
	if err := arity("IS_NULL", args, 1, 1); err != nil {
		return ast.Null, err
	}
	return ast.Bool(args[0].IsNull()), nil
}

// lookupFunc implements LOOKUP(key, table) against the configured collaborator
func (e *Evaluator) lookupFunc(args []ast.Value) (ast.Value, error) {
	if err := arity("LOOKUP", args, 2, 2); err != nil {
		return ast.Null, err
	}
	if args[0].IsNull() {
		return ast.Null, &ArgumentError{Function: "LOOKUP", Index: 1, Message: "key is NULL"}
	}
	table, err := wantString("LOOKUP", args, 1)
	if err != nil {
		return ast.Null, err
	}
	key := args[0].Text()
	if e.lookup == nil {
		return ast.Null, &LookupFailedError{Key: key, Table: table, Err: fmt.Errorf("no lookup collaborator configured")}
	}
	v, err := e.lookup.Lookup(key, table)
	if err != nil {
		return ast.Null, &LookupFailedError{Key: key, Table: table, Err: err}
	}
	return v, nil
}
