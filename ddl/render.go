// Package ddl renders frozen entities into the data-definition statements
// that register them with PostgreSQL. Rendering is pure data-to-text: it
// consults the graph for schema qualification and never mutates the model,
// so distinct entities may be rendered concurrently over a shared graph.
//
// Every failure aborts the statement for that entity and carries the
// entity identity and source location; there is no partial or best-effort
// output.
package ddl

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/lib/pq"

	"github.com/pgink/pgink/entity"
	"github.com/pgink/pgink/graph"
	"github.com/pgink/pgink/shape"
)

//go:embed templates/*.tpl.sql
var templatesFS embed.FS

// templates holds the parsed statement templates.
var templates *template.Template

func init() {
	var err error
	templates, err = template.ParseFS(templatesFS, "templates/*.tpl.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to parse DDL templates: %v", err))
	}
}

type functionData struct {
	File           string
	Line           int
	ModulePath     string
	Name           string
	QuotedName     string
	Requires       []string
	Schema         string
	Arguments      string
	Returns        string
	Attributes     string
	SearchPath     string
	ModulePathname string
	WrapperSymbol  string
}

type operatorData struct {
	File       string
	Line       int
	ModulePath string
	Name       string
	QuotedName string
	OpName     string
	Left       string
	Right      string
	Optionals  string
}

// Function renders the CREATE FUNCTION statement for f, followed by its
// CREATE OPERATOR statement when operator metadata is present. The result
// is deterministic given the frozen graph.
func Function(g *graph.Graph, f *entity.Function) (string, error) {
	self, ok := g.FunctionIndex(f)
	if !ok {
		return "", fmt.Errorf("%s (%s): function is not in the graph", f.Identifier(), f.Location())
	}

	if err := checkReturnShape(f); err != nil {
		return "", fmt.Errorf("%s (%s): %w", f.Identifier(), f.Location(), err)
	}

	args, err := renderArguments(g, f, self)
	if err != nil {
		return "", fmt.Errorf("%s (%s): %w", f.Identifier(), f.Location(), err)
	}
	returns, err := renderReturns(g, f, self)
	if err != nil {
		return "", fmt.Errorf("%s (%s): %w", f.Identifier(), f.Location(), err)
	}

	attrs := effectiveAttributes(g, f)
	data := functionData{
		File:           f.File,
		Line:           f.Line,
		ModulePath:     f.ModulePath,
		Name:           f.Name,
		QuotedName:     pq.QuoteIdentifier(f.Name),
		Requires:       requiresOf(f),
		Schema:         g.SchemaPrefix(self),
		Arguments:      args,
		Returns:        returns,
		Attributes:     attributeClauses(attrs),
		SearchPath:     strings.Join(f.SearchPath, ", "),
		ModulePathname: pq.QuoteLiteral(g.ModulePathname()),
		WrapperSymbol:  pq.QuoteLiteral(f.WrapperSymbol()),
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "create_function.tpl.sql", data); err != nil {
		return "", fmt.Errorf("%s: executing template: %w", f.Identifier(), err)
	}
	rendered := buf.String()

	if f.Operator != nil {
		op, err := renderOperator(g, f, self)
		if err != nil {
			return "", fmt.Errorf("%s (%s): %w", f.Identifier(), f.Location(), err)
		}
		rendered += "\n" + op
	}
	return rendered, nil
}

// Trigger renders the registration function for a trigger callable. The
// return type is the fixed trigger-row placeholder the engine recognizes.
func Trigger(g *graph.Graph, t *entity.Trigger, index int) (string, error) {
	data := functionData{
		File:           t.File,
		Line:           t.Line,
		ModulePath:     t.ModulePath,
		Name:           t.FunctionName,
		QuotedName:     pq.QuoteIdentifier(t.FunctionName),
		Schema:         g.SchemaPrefix(index),
		ModulePathname: pq.QuoteLiteral(g.ModulePathname()),
		WrapperSymbol:  pq.QuoteLiteral(t.WrapperSymbol()),
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "create_trigger_function.tpl.sql", data); err != nil {
		return "", fmt.Errorf("%s: executing template: %w", t.Identifier(), err)
	}
	return buf.String(), nil
}

// checkReturnShape cross-checks the classified declaration against the
// realized return value. The two are captured independently and must agree
// structurally before anything is emitted.
func checkReturnShape(f *entity.Function) error {
	switch decl := f.Return.(type) {
	case nil, shape.None:
		if f.Retval != nil {
			return fmt.Errorf("%w: declared void but realized %s", ErrReturnShapeMismatch, variantName(f.Retval.Variant))
		}
	case shape.Trigger:
		if f.Retval != nil {
			return fmt.Errorf("%w: declared trigger but realized %s", ErrReturnShapeMismatch, variantName(f.Retval.Variant))
		}
	case shape.Type:
		if f.Retval == nil {
			return fmt.Errorf("%w: declared a plain return but realized void", ErrReturnShapeMismatch)
		}
		if f.Retval.Variant != entity.ReturnPlain {
			return fmt.Errorf("%w: declared a plain return but realized %s", ErrReturnShapeMismatch, variantName(f.Retval.Variant))
		}
	case shape.SetOf:
		if f.Retval == nil {
			return fmt.Errorf("%w: declared a set-of return but realized void", ErrReturnShapeMismatch)
		}
		if f.Retval.Variant != entity.ReturnSetOf {
			return fmt.Errorf("%w: declared a set-of return but realized %s", ErrReturnShapeMismatch, variantName(f.Retval.Variant))
		}
	case shape.Iterated:
		if f.Retval == nil {
			return fmt.Errorf("%w: declared a table return but realized void", ErrReturnShapeMismatch)
		}
		if f.Retval.Variant != entity.ReturnTable {
			return fmt.Errorf("%w: declared a table return but realized %s", ErrReturnShapeMismatch, variantName(f.Retval.Variant))
		}
		if len(f.Retval.Columns) != len(decl.Columns) {
			return fmt.Errorf("%w: declared %d table columns but realized %d",
				ErrReturnShapeMismatch, len(decl.Columns), len(f.Retval.Columns))
		}
	default:
		return fmt.Errorf("%w: unrecognized declared shape %T", ErrReturnShapeMismatch, f.Return)
	}
	return nil
}

func variantName(v entity.ReturnVariant) string {
	switch v {
	case entity.ReturnPlain:
		return "a plain return"
	case entity.ReturnSetOf:
		return "a set-of return"
	case entity.ReturnTable:
		return "a table return"
	}
	return "an unknown return"
}

// effectiveAttributes applies strict-null inference: when no explicit
// strict flag is present and no argument is nullable or maps to the
// internal placeholder, STRICT is added. Strict is additive only, and
// never duplicated.
func effectiveAttributes(g *graph.Graph, f *entity.Function) []entity.Attribute {
	attrs := make([]entity.Attribute, len(f.Attributes))
	copy(attrs, f.Attributes)
	for _, a := range attrs {
		if a.Kind == entity.AttrStrict {
			return attrs
		}
	}
	for _, arg := range f.Arguments {
		if arg.Optional {
			return attrs
		}
		if arg.Type.ID == g.InternalTypeID() || arg.Type.Name == g.InternalTypeID() {
			return attrs
		}
	}
	return append(attrs, entity.Attribute{Kind: entity.AttrStrict})
}

func attributeClauses(attrs []entity.Attribute) string {
	clauses := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if c := a.Clause(); c != "" {
			clauses = append(clauses, c)
		}
	}
	return strings.Join(clauses, " ")
}

func requiresOf(f *entity.Function) []string {
	var reqs []string
	for _, a := range f.Attributes {
		if a.Kind == entity.AttrRequires {
			reqs = append(reqs, a.Requires...)
		}
	}
	return reqs
}

// renderArguments emits the comma-separated parameter list. A skipped SQL
// position drops the argument from the list; a composite argument without
// a runtime name is a hard failure.
func renderArguments(g *graph.Graph, f *entity.Function, self int) (string, error) {
	parts := make([]string, 0, len(f.Arguments))
	for _, arg := range f.Arguments {
		node, err := g.Neighbor(self, arg.Type)
		if err != nil {
			return "", fmt.Errorf("argument %q: %w", arg.Pattern, err)
		}
		var sqlType string
		switch arg.SQL.Kind {
		case entity.SqlMapped:
			sqlType = arg.SQL.SQL
		case entity.SqlComposite:
			if arg.Composite == "" {
				return "", fmt.Errorf("argument %q: %w", arg.Pattern, ErrMissingCompositeName)
			}
			sqlType = arg.Composite
			if arg.SQL.ArrayBrackets {
				sqlType += "[]"
			}
		case entity.SqlSkip:
			continue
		}
		var b strings.Builder
		b.WriteString(pq.QuoteIdentifier(arg.Pattern))
		b.WriteByte(' ')
		if arg.Variadic {
			b.WriteString("VARIADIC ")
		}
		b.WriteString(g.SchemaPrefix(node))
		b.WriteString(sqlType)
		if arg.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(arg.Default)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ", "), nil
}

// renderReturns emits the return clause for the declared shape.
func renderReturns(g *graph.Graph, f *entity.Function, self int) (string, error) {
	switch decl := f.Return.(type) {
	case nil, shape.None:
		return "RETURNS void", nil
	case shape.Trigger:
		return "RETURNS trigger", nil
	case shape.Type:
		sql, err := scalarReturnSQL(g, f, self, decl.Ref.Composite)
		if err != nil {
			return "", err
		}
		return "RETURNS " + sql, nil
	case shape.SetOf:
		sql, err := scalarReturnSQL(g, f, self, decl.Ref.Composite)
		if err != nil {
			return "", err
		}
		return "RETURNS SETOF " + sql, nil
	case shape.Iterated:
		cols, err := tableColumns(g, f, self, decl)
		if err != nil {
			return "", err
		}
		return "RETURNS TABLE(" + strings.Join(cols, ", ") + ")", nil
	}
	return "", fmt.Errorf("%w: unrecognized declared shape %T", ErrReturnShapeMismatch, f.Return)
}

// scalarReturnSQL resolves the SQL type of a plain or set-of return,
// schema prefix included. composite is the declared runtime name, empty
// for statically typed returns.
func scalarReturnSQL(g *graph.Graph, f *entity.Function, self int, composite string) (string, error) {
	rv := f.Retval
	node, err := g.Neighbor(self, rv.Type)
	if err != nil {
		return "", fmt.Errorf("return value: %w", err)
	}
	switch rv.SQL.Kind {
	case entity.SqlMapped:
		return g.SchemaPrefix(node) + rv.SQL.SQL, nil
	case entity.SqlComposite:
		if composite == "" {
			return "", fmt.Errorf("return value: %w", ErrMissingCompositeName)
		}
		if rv.SQL.ArrayBrackets {
			composite += "[]"
		}
		return g.SchemaPrefix(node) + composite, nil
	case entity.SqlSkip:
		// A skipped return value never has a name to emit.
		return "", fmt.Errorf("return value was skipped: %w", ErrMissingCompositeName)
	}
	return "", fmt.Errorf("return value: unknown SQL mapping kind %d", rv.SQL.Kind)
}

// tableColumns emits each table column in declaration order. A named
// column emits its declared name; an unnamed column emits the bare type,
// leaving name synthesis to the caller.
func tableColumns(g *graph.Graph, f *entity.Function, self int, decl shape.Iterated) ([]string, error) {
	cols := make([]string, 0, len(decl.Columns))
	for i, rc := range f.Retval.Columns {
		declCol := decl.Columns[i]
		node, err := g.Neighbor(self, rc.Type)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		var sqlType string
		switch rc.SQL.Kind {
		case entity.SqlMapped:
			sqlType = rc.SQL.SQL
		case entity.SqlComposite:
			if declCol.Ref.Composite == "" {
				return nil, fmt.Errorf("column %d: %w", i+1, ErrMissingCompositeName)
			}
			sqlType = declCol.Ref.Composite
			if rc.SQL.ArrayBrackets {
				sqlType += "[]"
			}
		case entity.SqlSkip:
			return nil, fmt.Errorf("column %d was skipped: %w", i+1, ErrMissingCompositeName)
		}
		var b strings.Builder
		if declCol.Name != "" {
			b.WriteString(pq.QuoteIdentifier(declCol.Name))
			b.WriteByte(' ')
		}
		b.WriteString(g.SchemaPrefix(node))
		b.WriteString(sqlType)
		cols = append(cols, b.String())
	}
	return cols, nil
}

// renderOperator assembles the CREATE OPERATOR statement. Left and right
// argument types resolve exactly as ordinary arguments at positions 0 and
// 1, and the callable must have exactly two arguments.
func renderOperator(g *graph.Graph, f *entity.Function, self int) (string, error) {
	op := f.Operator
	if len(f.Arguments) != 2 {
		return "", fmt.Errorf("%w: operator %s requires exactly two arguments, got %d",
			ErrInvalidOperatorArity, op.Name, len(f.Arguments))
	}
	left, err := operandSQL(g, f, self, 0)
	if err != nil {
		return "", err
	}
	right, err := operandSQL(g, f, self, 1)
	if err != nil {
		return "", err
	}

	var optionals []string
	if op.Commutator != "" {
		optionals = append(optionals, "\tCOMMUTATOR = "+op.Commutator)
	}
	if op.Negator != "" {
		optionals = append(optionals, "\tNEGATOR = "+op.Negator)
	}
	if op.Restrict != "" {
		optionals = append(optionals, "\tRESTRICT = "+op.Restrict)
	}
	if op.Join != "" {
		optionals = append(optionals, "\tJOIN = "+op.Join)
	}
	if op.Hashes {
		optionals = append(optionals, "\tHASHES")
	}
	if op.Merges {
		optionals = append(optionals, "\tMERGES")
	}

	data := operatorData{
		File:       f.File,
		Line:       f.Line,
		ModulePath: f.ModulePath,
		Name:       f.Name,
		QuotedName: pq.QuoteIdentifier(f.Name),
		OpName:     op.Name,
		Left:       left,
		Right:      right,
		Optionals:  strings.Join(optionals, ",\n"),
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "create_operator.tpl.sql", data); err != nil {
		return "", fmt.Errorf("executing operator template: %w", err)
	}
	return buf.String(), nil
}

// operandSQL resolves one operator operand, schema prefix included.
func operandSQL(g *graph.Graph, f *entity.Function, self, pos int) (string, error) {
	arg := f.Arguments[pos]
	node, err := g.Neighbor(self, arg.Type)
	if err != nil {
		return "", fmt.Errorf("operator operand %d: %w", pos, err)
	}
	switch arg.SQL.Kind {
	case entity.SqlMapped:
		return g.SchemaPrefix(node) + arg.SQL.SQL, nil
	case entity.SqlComposite:
		if arg.Composite == "" {
			return "", fmt.Errorf("operator operand %d: %w", pos, ErrMissingCompositeName)
		}
		sqlType := arg.Composite
		if arg.SQL.ArrayBrackets {
			sqlType += "[]"
		}
		return g.SchemaPrefix(node) + sqlType, nil
	case entity.SqlSkip:
		return "", fmt.Errorf("operator operand %d has no SQL position", pos)
	}
	return "", fmt.Errorf("operator operand %d: unknown SQL mapping kind", pos)
}
