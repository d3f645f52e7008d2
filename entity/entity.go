// Package entity defines the immutable records the compiler operates on:
// callables, the types/enums/built-ins they reference, and the realized
// call metadata captured independently of the declaration. Entities are
// constructed once by the collector (see the manifest package), inserted
// into the graph, and never mutated afterwards.
package entity

import (
	"fmt"
	"strings"

	"github.com/pgink/pgink/shape"
)

// TypeRef is a resolvable reference to a type node in the entity graph.
// ID is the stable per-type identity; Name is the source-level spelling,
// which is how built-ins are matched.
type TypeRef struct {
	ID   string
	Name string
}

// SqlKind discriminates how a value maps onto SQL.
type SqlKind int

const (
	// SqlMapped is a statically mapped SQL type name.
	SqlMapped SqlKind = iota
	// SqlComposite is a row type only known by a runtime-supplied name.
	SqlComposite
	// SqlSkip marks a value that takes no SQL position.
	SqlSkip
)

// SqlMapping is the realized SQL form of one value.
type SqlMapping struct {
	Kind SqlKind
	// SQL is the mapped type name when Kind is SqlMapped.
	SQL string
	// ArrayBrackets marks a composite that is logically an array of rows.
	ArrayBrackets bool
}

// Argument is one declared parameter of a callable.
type Argument struct {
	// Pattern is the parameter name as declared.
	Pattern string
	Type    TypeRef
	SQL     SqlMapping
	// Optional marks a nullable parameter.
	Optional bool
	Variadic bool
	// Default is the literal default text, empty for none.
	Default string
	// Composite is the runtime row-type name when SQL is composite.
	Composite string
}

// ReturnVariant is the structural class of the realized return value.
type ReturnVariant int

const (
	ReturnPlain ReturnVariant = iota
	ReturnSetOf
	ReturnTable
)

// ColumnMetadata is the realized form of one table-return column.
type ColumnMetadata struct {
	Type TypeRef
	SQL  SqlMapping
}

// ReturnMetadata is the realized return value of a callable, captured from
// the executed form independently of the declared shape. The renderer
// cross-checks the two and refuses to emit when they disagree.
type ReturnMetadata struct {
	Type    TypeRef
	Variant ReturnVariant
	// SQL is the realized mapping for plain and set-of returns.
	SQL SqlMapping
	// Columns are the realized per-column mappings for table returns, in
	// declaration order.
	Columns []ColumnMetadata
}

// AttrKind enumerates the declared attribute flags of a callable.
type AttrKind int

const (
	AttrImmutable AttrKind = iota
	AttrStrict
	AttrStable
	AttrVolatile
	AttrParallelSafe
	AttrParallelUnsafe
	AttrParallelRestricted
	AttrSecurityDefiner
	AttrSecurityInvoker
	AttrCost
	AttrRequires
)

// Attribute is one declared attribute flag.
type Attribute struct {
	Kind AttrKind
	// Cost is the literal cost estimate for AttrCost.
	Cost string
	// Requires lists extension dependencies for AttrRequires.
	Requires []string
}

// Clause renders the attribute as a function-option keyword. Requires has
// no inline clause; it is rendered as a comment block ahead of the
// statement.
func (a Attribute) Clause() string {
	switch a.Kind {
	case AttrImmutable:
		return "IMMUTABLE"
	case AttrStrict:
		return "STRICT"
	case AttrStable:
		return "STABLE"
	case AttrVolatile:
		return "VOLATILE"
	case AttrParallelSafe:
		return "PARALLEL SAFE"
	case AttrParallelUnsafe:
		return "PARALLEL UNSAFE"
	case AttrParallelRestricted:
		return "PARALLEL RESTRICTED"
	case AttrSecurityDefiner:
		return "SECURITY DEFINER"
	case AttrSecurityInvoker:
		return "SECURITY INVOKER"
	case AttrCost:
		return "COST " + a.Cost
	case AttrRequires:
		return ""
	}
	return ""
}

// Operator is the operator metadata attached to a two-argument callable.
type Operator struct {
	Name       string
	Commutator string
	Negator    string
	Restrict   string
	Join       string
	Hashes     bool
	Merges     bool
}

// Function is one declared callable.
type Function struct {
	// Name is the SQL-visible name; UnaliasedName is the declared callable
	// name before any rename attribute.
	Name          string
	UnaliasedName string
	ModulePath    string
	FullPath      string
	// Schema is the namespace override, empty for the default namespace.
	Schema string
	File   string
	Line   int

	Arguments []Argument
	// Return is the classified declared shape.
	Return shape.Returning
	// Retval is the realized return, nil for void and trigger callables.
	Retval *ReturnMetadata

	Attributes []Attribute
	// SearchPath is an explicit search-path override for the function body.
	SearchPath []string
	Operator   *Operator
}

// Identifier names the function for diagnostics.
func (f *Function) Identifier() string {
	return f.ModulePath + "::" + f.Name
}

// Location formats the declaration site for diagnostics.
func (f *Function) Location() string {
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

// Signature is the derived identity key of the function: the full path,
// the ordered argument type identities, and the realized return. Equality
// and ordering over functions are defined on this key, which makes sorted
// emission and deduplication deterministic even across overloads.
func (f *Function) Signature() string {
	var b strings.Builder
	b.WriteString(f.FullPath)
	b.WriteByte('(')
	for i, arg := range f.Arguments {
		if i > 0 {
			b.WriteByte(',')
		}
		if arg.Type.ID != "" {
			b.WriteString(arg.Type.ID)
		} else {
			b.WriteString(arg.Type.Name)
		}
	}
	b.WriteByte(')')
	if f.Retval != nil {
		b.WriteString("->")
		switch f.Retval.Variant {
		case ReturnSetOf:
			b.WriteString("setof ")
		case ReturnTable:
			b.WriteString("table ")
		}
		if f.Retval.Type.ID != "" {
			b.WriteString(f.Retval.Type.ID)
		} else {
			b.WriteString(f.Retval.Type.Name)
		}
	}
	return b.String()
}

// WrapperSymbol is the exported ABI symbol the registration statement
// references for this callable. The wrapper generator exports the same
// symbol, so the two stay in agreement by construction.
func (f *Function) WrapperSymbol() string {
	return f.UnaliasedName + "_wrapper"
}

// Type is a declared value type participating in the graph.
type Type struct {
	// ID is the stable identity key; Name is the SQL-visible type name.
	ID         string
	Name       string
	Schema     string
	ModulePath string
	FullPath   string
	File       string
	Line       int
}

// Enum is a declared enumeration type.
type Enum struct {
	ID         string
	Name       string
	Schema     string
	ModulePath string
	FullPath   string
	File       string
	Line       int
	Variants   []string
}

// Trigger is the registration record of a trigger callable: the SQL
// function name, where it was declared, and which wrapper symbol the
// engine should invoke.
type Trigger struct {
	FunctionName string
	ModulePath   string
	FullPath     string
	Schema       string
	File         string
	Line         int
}

// Identifier names the trigger for diagnostics.
func (t *Trigger) Identifier() string {
	return t.ModulePath + "::" + t.FunctionName
}

// WrapperSymbol is the exported ABI symbol the registration statement
// references for this trigger.
func (t *Trigger) WrapperSymbol() string {
	return t.FunctionName + "_wrapper"
}
