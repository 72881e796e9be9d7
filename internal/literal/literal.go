// Package literal converts JavaScript literal expressions into Go values.
//
// Conversion is a node-by-node transcription of the syntax tree. Only object and array literals,
// strings, numbers, booleans and null are understood; any other node makes the conversion fail with
// an *Error naming the offending property path. Nothing is ever evaluated.
package literal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2/js"
)

// Error reports an expression that cannot be transcribed
type Error struct {
	Path   string // dotted/indexed path below the converted expression, empty for the root
	Reason string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

func fail(path, format string, args ...interface{}) error {
	return &Error{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Value transcribes expr into a Go value. Objects become map[string]any, arrays []any and numbers
// float64.
func Value(expr js.IExpr) (any, error) {
	return transcribe(expr, "")
}

func transcribe(expr js.IExpr, path string) (any, error) {
	switch e := expr.(type) {
	case *js.GroupExpr:
		return transcribe(e.X, path)

	case *js.LiteralExpr:
		return literalValue(e, path)

	case *js.UnaryExpr:
		if e.Op == js.NegToken {
			if lit, ok := unwrap(e.X).(*js.LiteralExpr); ok && isNumeric(lit) {
				n, err := Number(lit)
				if err != nil {
					return nil, fail(path, "%v", err)
				}
				return -n, nil
			}
		}
		return nil, fail(path, "%s is not a literal value", Describe(e))

	case *js.ArrayExpr:
		out := make([]any, 0, len(e.List))
		for i, el := range e.List {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if el.Spread {
				return nil, fail(elemPath, "spread element is not a literal value")
			}
			if el.Value == nil {
				return nil, fail(elemPath, "array hole is not a literal value")
			}
			v, err := transcribe(el.Value, elemPath)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *js.ObjectExpr:
		out := make(map[string]any, len(e.List))
		for _, prop := range e.List {
			if prop.Spread {
				return nil, fail(path, "spread property is not a literal value")
			}
			key, err := PropertyKey(prop)
			if err != nil {
				return nil, fail(path, "%v", err)
			}
			propPath := joinPath(path, key)
			if prop.Name == nil {
				return nil, fail(propPath, "shorthand property references identifier %q", key)
			}
			if prop.Init != nil {
				return nil, fail(propPath, "initializer is not a literal value")
			}
			v, err := transcribe(prop.Value, propPath)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}

	return nil, fail(path, "%s is not a literal value", Describe(expr))
}

func literalValue(lit *js.LiteralExpr, path string) (any, error) {
	switch lit.TokenType {
	case js.StringToken:
		s, err := Unquote(string(lit.Data))
		if err != nil {
			return nil, fail(path, "%v", err)
		}
		return s, nil
	case js.TrueToken:
		return true, nil
	case js.FalseToken:
		return false, nil
	case js.NullToken:
		return nil, nil
	}
	if isNumeric(lit) {
		n, err := Number(lit)
		if err != nil {
			return nil, fail(path, "%v", err)
		}
		return n, nil
	}
	return nil, fail(path, "%s is not a literal value", Describe(lit))
}

// PropertyKey returns the static key of an object property. Shorthand properties yield the name of
// the referenced identifier. Computed keys and spreads have no static key.
func PropertyKey(prop js.Property) (string, error) {
	if prop.Spread {
		return "", fmt.Errorf("spread property has no static key")
	}
	if prop.Name == nil {
		switch v := prop.Value.(type) {
		case *js.Var:
			return string(v.Data), nil
		case *js.MethodDecl:
			// methods carry their key on the declaration
			return propertyName(v.Name)
		}
		return "", fmt.Errorf("property has no name")
	}
	return propertyName(*prop.Name)
}

func propertyName(name js.PropertyName) (string, error) {
	if name.IsComputed() {
		return "", fmt.Errorf("computed property key is not static")
	}
	lit := name.Literal
	switch {
	case lit.TokenType == js.StringToken:
		return Unquote(string(lit.Data))
	case isNumeric(&lit):
		n, err := Number(&lit)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	return string(lit.Data), nil
}

// String returns the value of a string literal, looking through parentheses
func String(expr js.IExpr) (string, bool) {
	lit, ok := unwrap(expr).(*js.LiteralExpr)
	if !ok || lit.TokenType != js.StringToken {
		return "", false
	}
	s, err := Unquote(string(lit.Data))
	if err != nil {
		return "", false
	}
	return s, true
}

// Call matches a call expression. It returns the callee name and reports whether the first
// argument is a string literal, in which case arg holds its value. Any further arguments are ignored.
func Call(expr js.IExpr) (callee string, arg string, isCall bool, hasArg bool) {
	call, ok := unwrap(expr).(*js.CallExpr)
	if !ok {
		return "", "", false, false
	}
	switch fn := call.X.(type) {
	case *js.Var:
		callee = string(fn.Data)
	case *js.DotExpr:
		callee = string(fn.Y.Data)
	}
	if len(call.Args.List) == 0 || call.Args.List[0].Rest {
		return callee, "", true, false
	}
	s, ok := String(call.Args.List[0].Value)
	return callee, s, true, ok
}

// IsUndefined reports whether expr is the undefined identifier or a void expression
func IsUndefined(expr js.IExpr) bool {
	switch e := unwrap(expr).(type) {
	case *js.Var:
		return string(e.Data) == "undefined"
	case *js.UnaryExpr:
		return e.Op == js.VoidToken
	}
	return expr == nil
}

// Describe names the syntactic shape of expr for error messages
func Describe(expr js.IExpr) string {
	switch e := expr.(type) {
	case *js.Var:
		return fmt.Sprintf("identifier reference %q", string(e.Data))
	case *js.TemplateExpr:
		return "template literal"
	case *js.ArrowFunc, *js.FuncDecl, *js.MethodDecl:
		return "function"
	case *js.ClassDecl:
		return "class expression"
	case *js.CallExpr:
		return "call expression"
	case *js.NewExpr:
		return "new expression"
	case *js.BinaryExpr:
		return "operator expression"
	case *js.UnaryExpr:
		return "unary expression"
	case *js.CondExpr:
		return "conditional expression"
	case *js.DotExpr, *js.IndexExpr:
		return "member expression"
	case *js.LiteralExpr:
		switch {
		case e.TokenType == js.RegExpToken:
			return "regular expression"
		case isNumeric(e):
			return "numeric literal " + string(e.Data)
		}
		return "literal " + string(e.Data)
	case nil:
		return "missing expression"
	}
	return fmt.Sprintf("%T", expr)
}

func unwrap(expr js.IExpr) js.IExpr {
	for {
		g, ok := expr.(*js.GroupExpr)
		if !ok {
			return expr
		}
		expr = g.X
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// isNumeric identifies numeric tokens by their first byte; identifiers cannot start with a digit
// and strings start with a quote.
func isNumeric(lit *js.LiteralExpr) bool {
	if len(lit.Data) == 0 {
		return false
	}
	c := lit.Data[0]
	return (c >= '0' && c <= '9') || (c == '.' && len(lit.Data) > 1)
}

// Number converts a numeric literal token to float64. BigInt literals are rejected.
func Number(lit *js.LiteralExpr) (float64, error) {
	s := strings.ReplaceAll(string(lit.Data), "_", "")
	if strings.HasSuffix(s, "n") {
		return 0, fmt.Errorf("bigint literal %s is not supported", string(lit.Data))
	}

	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid numeric literal %s", string(lit.Data))
			}
			return float64(n), nil
		}
	}

	// legacy octal: 017 == 15, but 019 is decimal
	if len(s) > 1 && s[0] == '0' && strings.Trim(s, "01234567") == "" {
		n, err := strconv.ParseUint(s[1:], 8, 64)
		if err == nil {
			return float64(n), nil
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric literal %s", string(lit.Data))
	}
	return n, nil
}
