// Package shape classifies a declared return type into its canonical output
// shape. This package sits at the bottom of the compiler: it knows nothing
// about the entity graph or SQL rendering, it only reduces the surface form
// of a declaration to one of five variants.
//
// # Recognized surface forms
//
// The collector records the declared return type of a callable as Go source
// text. Classify parses that text and applies the following rules in order,
// first match wins:
//
//  1. An empty declaration is None (void).
//  2. pgsys.Datum, bare or one pointer deep, is Trigger: the opaque ABI row
//     handle only trigger callbacks return.
//  3. iter.Seq[E] and iter.Seq2[A, B], optionally behind one pointer, are
//     lazy results: a struct element or a Seq2 pair classifies as Iterated
//     (one column per field, in declaration order), a single named element
//     classifies as SetOf.
//  4. pgsys.Composite("name") is a composite row known only by its runtime
//     name. It is recognized standalone, in iterator position, and as a
//     tuple element.
//  5. A bare struct literal is a tuple: each field is one column. The
//     `col:"..."` tag is the named-column marker; untagged fields carry no
//     name and the classifier never invents one.
//  6. Anything else that names a type (identifier, qualified name, generic
//     instantiation, pointer, slice) is a plain Type.
//
// Unsupported forms (maps, channels, funcs, interfaces, double pointers, a
// second wrapper level) fail with ErrUnknownReturnShape. Classification
// never guesses a default.
package shape

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/types"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnknownReturnShape reports a declaration that cannot be reduced to a
// canonical shape.
var ErrUnknownReturnShape = errors.New("unknown return shape")

// IsUnknownReturnShape returns true if err is or wraps ErrUnknownReturnShape.
func IsUnknownReturnShape(err error) bool {
	return errors.Is(err, ErrUnknownReturnShape)
}

// Returning is the canonical classification of a callable's output. It is a
// closed sum: None, Type, SetOf, Iterated and Trigger are the only variants.
type Returning interface {
	returning()
}

// None is a void return.
type None struct{}

// Type is a single value.
type Type struct {
	Ref TypeRef
}

// SetOf is a lazy sequence of a single column.
type SetOf struct {
	Ref TypeRef
}

// Iterated is a multi-column named result. Columns preserve declaration
// order.
type Iterated struct {
	Columns []Column
}

// Trigger is the opaque row-returning trigger callback shape.
type Trigger struct{}

func (None) returning()     {}
func (Type) returning()     {}
func (SetOf) returning()    {}
func (Iterated) returning() {}
func (Trigger) returning()  {}

// TypeRef is a surface-level reference to a type. Source is the canonical
// declared text, used as the lookup key into the entity graph. Composite
// carries the runtime row-type name when the declaration is only known by
// name; Source is then the fixed row-handle type.
type TypeRef struct {
	Source    string
	Composite string
}

// Column is one element of an Iterated result. Name is empty when the
// declaration carries no named-column marker.
type Column struct {
	Ref  TypeRef
	Name string
}

// compositeCallForm matches the composite marker's declared call form.
// The call is not valid Go type syntax in struct-field or index positions,
// so it is normalized to an equivalent index form before parsing.
var compositeCallForm = regexp.MustCompile(`Composite\(\s*("(?:[^"\\]|\\.)*")\s*\)`)

// Classify parses a declared return type and reduces it to its canonical
// shape.
func Classify(decl string) (Returning, error) {
	decl = strings.TrimSpace(decl)
	if decl == "" {
		return None{}, nil
	}
	expr, err := parser.ParseExpr(compositeCallForm.ReplaceAllString(decl, "Composite[$1]"))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse %q: %v", ErrUnknownReturnShape, decl, err)
	}
	return classify(expr)
}

func classify(expr ast.Expr) (Returning, error) {
	switch e := expr.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		if isDatum(e) {
			return Trigger{}, nil
		}
		return Type{Ref: TypeRef{Source: types.ExprString(e)}}, nil

	case *ast.StarExpr:
		// One wrapper level: a pointer around the datum handle or an
		// iterator unwraps and re-classifies; around anything else the
		// pointer is part of the type.
		switch inner := e.X.(type) {
		case *ast.StarExpr:
			return nil, fmt.Errorf("%w: nested pointers in %q", ErrUnknownReturnShape, types.ExprString(e))
		case *ast.IndexExpr, *ast.IndexListExpr:
			if isCompositeRef(inner) {
				return nil, fmt.Errorf("%w: pointer to composite reference in %q", ErrUnknownReturnShape, types.ExprString(e))
			}
			if isIterator(inner) {
				return classifyIterator(inner)
			}
			return Type{Ref: TypeRef{Source: types.ExprString(e)}}, nil
		default:
			if isDatum(inner) {
				return Trigger{}, nil
			}
			if _, ok := inner.(*ast.CallExpr); ok {
				return nil, fmt.Errorf("%w: pointer to composite reference in %q", ErrUnknownReturnShape, types.ExprString(e))
			}
			return Type{Ref: TypeRef{Source: types.ExprString(e)}}, nil
		}

	case *ast.IndexExpr, *ast.IndexListExpr:
		if isCompositeRef(e) {
			name, err := compositeName(e)
			if err != nil {
				return nil, err
			}
			return Type{Ref: TypeRef{Source: "pgsys.Row", Composite: name}}, nil
		}
		if isIterator(e) {
			return classifyIterator(e)
		}
		// Generic instantiation of an ordinary type.
		return Type{Ref: TypeRef{Source: types.ExprString(e)}}, nil

	case *ast.CallExpr:
		name, err := compositeName(e)
		if err != nil {
			return nil, err
		}
		return Type{Ref: TypeRef{Source: "pgsys.Row", Composite: name}}, nil

	case *ast.StructType:
		if e.Fields == nil || len(e.Fields.List) == 0 {
			// The empty tuple is a unit value, not a column set.
			return Type{Ref: TypeRef{Source: "struct{}"}}, nil
		}
		cols, err := tupleColumns(e)
		if err != nil {
			return nil, err
		}
		return Iterated{Columns: cols}, nil

	case *ast.ArrayType:
		return Type{Ref: TypeRef{Source: types.ExprString(e)}}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReturnShape, types.ExprString(expr))
	}
}

// classifyIterator reduces an iter.Seq / iter.Seq2 instantiation: a struct
// or pair element is a multi-column result, a single named element is a set.
func classifyIterator(expr ast.Expr) (Returning, error) {
	switch e := expr.(type) {
	case *ast.IndexExpr:
		switch elem := e.Index.(type) {
		case *ast.StructType:
			if elem.Fields == nil || len(elem.Fields.List) == 0 {
				return nil, fmt.Errorf("%w: iterator over empty tuple", ErrUnknownReturnShape)
			}
			cols, err := tupleColumns(elem)
			if err != nil {
				return nil, err
			}
			return Iterated{Columns: cols}, nil
		case *ast.Ident, *ast.SelectorExpr:
			return SetOf{Ref: TypeRef{Source: types.ExprString(elem)}}, nil
		case *ast.StarExpr:
			// A reference element is allowed when it refers to a named type.
			switch elem.X.(type) {
			case *ast.Ident, *ast.SelectorExpr:
				return SetOf{Ref: TypeRef{Source: types.ExprString(elem)}}, nil
			}
			return nil, fmt.Errorf("%w: iterator over %q", ErrUnknownReturnShape, types.ExprString(elem))
		case *ast.IndexExpr, *ast.IndexListExpr:
			if isCompositeRef(elem) {
				name, err := compositeName(elem)
				if err != nil {
					return nil, err
				}
				return SetOf{Ref: TypeRef{Source: "pgsys.Row", Composite: name}}, nil
			}
			return SetOf{Ref: TypeRef{Source: types.ExprString(elem)}}, nil
		case *ast.CallExpr:
			name, err := compositeName(elem)
			if err != nil {
				return nil, err
			}
			return SetOf{Ref: TypeRef{Source: "pgsys.Row", Composite: name}}, nil
		default:
			return nil, fmt.Errorf("%w: iterator over %q", ErrUnknownReturnShape, types.ExprString(elem))
		}

	case *ast.IndexListExpr:
		// iter.Seq2[A, B]: a pair per element, two unnamed columns.
		cols := make([]Column, 0, len(e.Indices))
		for _, idx := range e.Indices {
			col, err := columnOf(idx, "")
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		return Iterated{Columns: cols}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownReturnShape, types.ExprString(expr))
}

// tupleColumns flattens a struct literal into columns, in declaration order.
func tupleColumns(st *ast.StructType) ([]Column, error) {
	var cols []Column
	for _, field := range st.Fields.List {
		name := columnTag(field)
		if len(field.Names) == 0 {
			col, err := columnOf(field.Type, name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
			continue
		}
		for range field.Names {
			col, err := columnOf(field.Type, name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
	}
	return cols, nil
}

// columnOf builds one column from a tuple element type.
func columnOf(expr ast.Expr, name string) (Column, error) {
	if isCompositeRef(expr) {
		composite, err := compositeName(expr)
		if err != nil {
			return Column{}, err
		}
		return Column{Ref: TypeRef{Source: "pgsys.Row", Composite: composite}, Name: name}, nil
	}
	if call, ok := expr.(*ast.CallExpr); ok {
		return Column{}, fmt.Errorf("%w: call form %q", ErrUnknownReturnShape, types.ExprString(call))
	}
	switch expr.(type) {
	case *ast.Ident, *ast.SelectorExpr, *ast.StarExpr, *ast.IndexExpr, *ast.IndexListExpr, *ast.ArrayType:
		return Column{Ref: TypeRef{Source: types.ExprString(expr)}, Name: name}, nil
	}
	return Column{}, fmt.Errorf("%w: tuple element %q", ErrUnknownReturnShape, types.ExprString(expr))
}

// columnTag extracts the named-column marker from a struct field tag.
func columnTag(field *ast.Field) string {
	if field.Tag == nil {
		return ""
	}
	raw, err := strconv.Unquote(field.Tag.Value)
	if err != nil {
		return ""
	}
	return reflect.StructTag(raw).Get("col")
}

// compositeName extracts the runtime row-type name from a
// pgsys.Composite("name") reference, in either its declared call form or
// the normalized index form.
func compositeName(expr ast.Expr) (string, error) {
	var arg ast.Expr
	switch e := expr.(type) {
	case *ast.CallExpr:
		if !isCompositeMarker(e.Fun) {
			return "", fmt.Errorf("%w: call form %q", ErrUnknownReturnShape, types.ExprString(e))
		}
		if len(e.Args) != 1 {
			return "", fmt.Errorf("%w: composite reference takes one name, got %d", ErrUnknownReturnShape, len(e.Args))
		}
		arg = e.Args[0]
	case *ast.IndexExpr:
		if !isCompositeMarker(e.X) {
			return "", fmt.Errorf("%w: %q", ErrUnknownReturnShape, types.ExprString(e))
		}
		arg = e.Index
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReturnShape, types.ExprString(expr))
	}
	lit, ok := arg.(*ast.BasicLit)
	if !ok {
		return "", fmt.Errorf("%w: composite name must be a string literal", ErrUnknownReturnShape)
	}
	name, err := strconv.Unquote(lit.Value)
	if err != nil || name == "" {
		return "", fmt.Errorf("%w: composite name %s", ErrUnknownReturnShape, lit.Value)
	}
	return name, nil
}

func isCompositeMarker(expr ast.Expr) bool {
	return lastSegment(expr) == "Composite"
}

// isCompositeRef reports whether expr is a composite marker reference in
// either surface form.
func isCompositeRef(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.CallExpr:
		return isCompositeMarker(e.Fun)
	case *ast.IndexExpr:
		return isCompositeMarker(e.X)
	}
	return false
}

// isDatum matches the opaque ABI row handle, qualified or bare.
func isDatum(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name == "Datum"
	case *ast.SelectorExpr:
		pkg, ok := e.X.(*ast.Ident)
		return ok && pkg.Name == "pgsys" && e.Sel.Name == "Datum"
	}
	return false
}

// isIterator matches iter.Seq / iter.Seq2 instantiations by their final
// segment, qualified or bare.
func isIterator(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.IndexExpr:
		seg := lastSegment(e.X)
		return seg == "Seq"
	case *ast.IndexListExpr:
		seg := lastSegment(e.X)
		return seg == "Seq2"
	}
	return false
}

func lastSegment(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	}
	return ""
}
