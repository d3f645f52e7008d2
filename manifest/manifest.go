// Package manifest loads the declared entity records the compiler operates
// on. The manifest is the interface to the upstream collector: a YAML (or
// JSON) document listing types, enums, triggers and functions, each
// function carrying its raw return declaration, argument list, attribute
// flags and source location.
//
// Loading classifies every return declaration through the shape package and
// derives the realized call metadata from the declaration unless the
// manifest pins it explicitly. Pinning exists so a drifted executed form
// can be represented; the renderer rejects the disagreement.
package manifest

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
	"sigs.k8s.io/yaml"

	"github.com/pgink/pgink/entity"
	"github.com/pgink/pgink/graph"
	"github.com/pgink/pgink/shape"
)

// Document is the top-level manifest layout.
type Document struct {
	// DefaultSchema is the namespace that needs no qualifying prefix.
	DefaultSchema string `json:"default_schema,omitempty"`
	// ModulePathname is the shared-object path emitted in AS clauses.
	ModulePathname string `json:"module_pathname,omitempty"`

	Types     []TypeDecl     `json:"types,omitempty"`
	Enums     []EnumDecl     `json:"enums,omitempty"`
	Triggers  []TriggerDecl  `json:"triggers,omitempty"`
	Functions []FunctionDecl `json:"functions,omitempty"`
}

// TypeDecl declares a value type.
type TypeDecl struct {
	// ID is the stable identity key, typically the full Go path.
	ID string `json:"id"`
	// Name is the SQL-visible type name and the source-level spelling
	// references use.
	Name       string `json:"name"`
	Schema     string `json:"schema,omitempty"`
	ModulePath string `json:"module_path,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
}

// EnumDecl declares an enumeration type.
type EnumDecl struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Schema     string   `json:"schema,omitempty"`
	ModulePath string   `json:"module_path,omitempty"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Variants   []string `json:"variants,omitempty"`
}

// TriggerDecl declares a trigger callable.
type TriggerDecl struct {
	Function   string `json:"function"`
	ModulePath string `json:"module_path,omitempty"`
	Schema     string `json:"schema,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
}

// ArgumentDecl declares one parameter.
type ArgumentDecl struct {
	Name string `json:"name"`
	// Type is the source-level type spelling.
	Type string `json:"type"`
	// TypeID pins the identity key; defaults to the matching declared
	// type or enum, falling back to built-in name matching.
	TypeID   string `json:"type_id,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Variadic bool   `json:"variadic,omitempty"`
	Default  string `json:"default,omitempty"`
	// Composite is the runtime row-type name for dynamically named
	// composite parameters.
	Composite string `json:"composite,omitempty"`
	// CompositeArray marks the composite as logically an array of rows.
	CompositeArray bool `json:"composite_array,omitempty"`
}

// OperatorDecl declares operator metadata on a two-argument function.
type OperatorDecl struct {
	Name       string `json:"name"`
	Commutator string `json:"commutator,omitempty"`
	Negator    string `json:"negator,omitempty"`
	Restrict   string `json:"restrict,omitempty"`
	Join       string `json:"join,omitempty"`
	Hashes     bool   `json:"hashes,omitempty"`
	Merges     bool   `json:"merges,omitempty"`
}

// RealizedDecl pins the realized return value independently of the
// declaration. Variant is one of "void", "plain", "setof", "table".
type RealizedDecl struct {
	Variant string `json:"variant"`
	// SQL overrides the mapped SQL type name for plain and setof.
	SQL string `json:"sql,omitempty"`
	// Skip marks the realized return as taking no SQL position.
	Skip bool `json:"skip,omitempty"`
}

// FunctionDecl declares one callable.
type FunctionDecl struct {
	// Name is the SQL-visible name. GoName is the declared callable name
	// when a rename attribute aliases it; it defaults to Name.
	Name       string         `json:"name"`
	GoName     string         `json:"go_name,omitempty"`
	ModulePath string         `json:"module_path,omitempty"`
	Schema     string         `json:"schema,omitempty"`
	File       string         `json:"file,omitempty"`
	Line       int            `json:"line,omitempty"`
	Returns    string         `json:"returns,omitempty"`
	Arguments  []ArgumentDecl `json:"arguments,omitempty"`
	Attributes []string       `json:"attributes,omitempty"`
	Requires   []string       `json:"requires,omitempty"`
	Cost       string         `json:"cost,omitempty"`
	SearchPath []string       `json:"search_path,omitempty"`
	Operator   *OperatorDecl  `json:"operator,omitempty"`
	Realized   *RealizedDecl  `json:"realized,omitempty"`
}

// builtinTypes maps source-level type spellings onto built-in PostgreSQL
// type names. Slices of these map onto the array form.
var builtinTypes = map[string]string{
	"bool":            "boolean",
	"string":          "text",
	"int16":           "smallint",
	"int32":           "integer",
	"int":             "integer",
	"int64":           "bigint",
	"float32":         "real",
	"float64":         "double precision",
	"[]byte":          "bytea",
	"time.Time":       "timestamptz",
	"json.RawMessage": "jsonb",
	"uuid.UUID":       "uuid",
	"pgsys.Internal":  "internal",
	"pgsys.Row":       "record",
}

// canonicalNames maps our emitted spellings onto the names the pgtype
// registry knows, so the table cannot drift from what the server accepts.
// The internal placeholder is pseudo-typed and intentionally absent.
var canonicalNames = map[string]string{
	"boolean":          "bool",
	"text":             "text",
	"smallint":         "int2",
	"integer":          "int4",
	"bigint":           "int8",
	"real":             "float4",
	"double precision": "float8",
	"bytea":            "bytea",
	"timestamptz":      "timestamptz",
	"jsonb":            "jsonb",
	"uuid":             "uuid",
	"record":           "record",
}

var (
	validateOnce sync.Once
	validateErr  error

	// typeRegistry is the reference list of built-in PostgreSQL type
	// names. Only name lookups are performed against it.
	typeRegistry = pgtype.NewMap()
)

// validateBuiltins checks every mapped built-in name against the pgtype
// registry once per process.
func validateBuiltins() error {
	validateOnce.Do(func() {
		m := typeRegistry
		for goType, sqlName := range builtinTypes {
			if sqlName == "internal" {
				continue
			}
			canonical, ok := canonicalNames[sqlName]
			if !ok {
				validateErr = fmt.Errorf("built-in mapping %s -> %s has no canonical name", goType, sqlName)
				return
			}
			if _, ok := m.TypeForName(canonical); !ok {
				validateErr = fmt.Errorf("built-in mapping %s -> %s is unknown to the type registry", goType, sqlName)
				return
			}
		}
	})
	return validateErr
}

// nullable strips one pointer level from a source-level spelling. A single
// pointer marks a nullable value; the pointed-to type carries the SQL
// mapping.
func nullable(source string) (string, bool) {
	if rest, ok := strings.CutPrefix(source, "*"); ok && !strings.HasPrefix(rest, "*") {
		return rest, true
	}
	return source, false
}

// BuiltinSQL maps a source-level type spelling onto its built-in SQL type
// name, handling the slice-to-array form.
func BuiltinSQL(goType string) (string, bool) {
	if sql, ok := builtinTypes[goType]; ok {
		return sql, true
	}
	if elem, ok := strings.CutPrefix(goType, "[]"); ok && goType != "[]byte" {
		if sql, ok := builtinTypes[elem]; ok && sql != "internal" {
			return sql + "[]", true
		}
	}
	return "", false
}

// Load reads and parses a manifest file.
func Load(path string) (graph.Set, graph.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.Set{}, graph.Options{}, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse builds the entity set and compiler options from manifest bytes.
func Parse(data []byte) (graph.Set, graph.Options, error) {
	if err := validateBuiltins(); err != nil {
		return graph.Set{}, graph.Options{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return graph.Set{}, graph.Options{}, fmt.Errorf("parsing manifest: %w", err)
	}

	b := newBuilder(&doc)
	set, err := b.build()
	if err != nil {
		return graph.Set{}, graph.Options{}, err
	}
	opts := graph.Options{
		DefaultSchema:  doc.DefaultSchema,
		ModulePathname: doc.ModulePathname,
	}
	return set, opts, nil
}

type builder struct {
	doc      *Document
	typesBy  map[string]*entity.Type
	enumsBy  map[string]*entity.Enum
	builtins map[string]bool
}

func newBuilder(doc *Document) *builder {
	return &builder{
		doc:      doc,
		typesBy:  make(map[string]*entity.Type),
		enumsBy:  make(map[string]*entity.Enum),
		builtins: make(map[string]bool),
	}
}

func (b *builder) build() (graph.Set, error) {
	var set graph.Set
	for _, td := range b.doc.Types {
		if td.ID == "" || td.Name == "" {
			return set, fmt.Errorf("type declaration needs both id and name, got id=%q name=%q", td.ID, td.Name)
		}
		t := &entity.Type{
			ID: td.ID, Name: td.Name, Schema: td.Schema,
			ModulePath: td.ModulePath, FullPath: td.ID,
			File: td.File, Line: td.Line,
		}
		b.typesBy[td.Name] = t
		b.typesBy[td.ID] = t
		set.Types = append(set.Types, t)
	}
	for _, ed := range b.doc.Enums {
		if ed.ID == "" || ed.Name == "" {
			return set, fmt.Errorf("enum declaration needs both id and name, got id=%q name=%q", ed.ID, ed.Name)
		}
		e := &entity.Enum{
			ID: ed.ID, Name: ed.Name, Schema: ed.Schema,
			ModulePath: ed.ModulePath, FullPath: ed.ID,
			File: ed.File, Line: ed.Line, Variants: ed.Variants,
		}
		b.enumsBy[ed.Name] = e
		b.enumsBy[ed.ID] = e
		set.Enums = append(set.Enums, e)
	}
	for _, td := range b.doc.Triggers {
		if td.Function == "" {
			return set, fmt.Errorf("trigger declaration needs a function name")
		}
		set.Triggers = append(set.Triggers, &entity.Trigger{
			FunctionName: td.Function,
			ModulePath:   td.ModulePath,
			FullPath:     td.ModulePath + "::" + td.Function,
			Schema:       td.Schema,
			File:         td.File,
			Line:         td.Line,
		})
	}
	for i := range b.doc.Functions {
		fn, err := b.function(&b.doc.Functions[i])
		if err != nil {
			return set, err
		}
		set.Functions = append(set.Functions, fn)
	}
	for name := range b.builtins {
		set.Builtins = append(set.Builtins, name)
	}
	return set, nil
}

func (b *builder) function(fd *FunctionDecl) (*entity.Function, error) {
	if fd.Name == "" {
		return nil, fmt.Errorf("function declaration needs a name")
	}
	ret, err := shape.Classify(fd.Returns)
	if err != nil {
		return nil, fmt.Errorf("function %s (%s:%d): %w", fd.Name, fd.File, fd.Line, err)
	}

	goName := fd.GoName
	if goName == "" {
		goName = fd.Name
	}
	f := &entity.Function{
		Name:          fd.Name,
		UnaliasedName: goName,
		ModulePath:    fd.ModulePath,
		FullPath:      fd.ModulePath + "::" + goName,
		Schema:        fd.Schema,
		File:          fd.File,
		Line:          fd.Line,
		Return:        ret,
		SearchPath:    fd.SearchPath,
	}

	for _, ad := range fd.Arguments {
		arg, err := b.argument(fd, ad)
		if err != nil {
			return nil, err
		}
		f.Arguments = append(f.Arguments, arg)
	}

	f.Attributes, err = b.attributes(fd)
	if err != nil {
		return nil, err
	}

	if fd.Operator != nil {
		f.Operator = &entity.Operator{
			Name:       fd.Operator.Name,
			Commutator: fd.Operator.Commutator,
			Negator:    fd.Operator.Negator,
			Restrict:   fd.Operator.Restrict,
			Join:       fd.Operator.Join,
			Hashes:     fd.Operator.Hashes,
			Merges:     fd.Operator.Merges,
		}
	}

	f.Retval, err = b.realized(fd, ret)
	if err != nil {
		return nil, fmt.Errorf("function %s (%s:%d): %w", fd.Name, fd.File, fd.Line, err)
	}
	return f, nil
}

func (b *builder) argument(fd *FunctionDecl, ad ArgumentDecl) (entity.Argument, error) {
	if ad.Name == "" || (ad.Type == "" && ad.Composite == "") {
		return entity.Argument{}, fmt.Errorf("function %s: argument needs a name and a type", fd.Name)
	}
	arg := entity.Argument{
		Pattern:   ad.Name,
		Optional:  ad.Optional,
		Variadic:  ad.Variadic,
		Default:   ad.Default,
		Composite: ad.Composite,
	}
	if _, ptr := nullable(ad.Type); ptr {
		arg.Optional = true
	}
	if ad.Composite != "" {
		arg.Type = b.ref(ad.Type, ad.TypeID)
		if arg.Type.Name == "" {
			arg.Type = b.ref("pgsys.Row", "")
		}
		arg.SQL = entity.SqlMapping{Kind: entity.SqlComposite, ArrayBrackets: ad.CompositeArray}
		return arg, nil
	}
	arg.Type = b.ref(ad.Type, ad.TypeID)
	arg.SQL = b.mapping(arg.Type)
	return arg, nil
}

// ref builds a graph reference for a source-level spelling: declared types
// and enums contribute their identity, everything else resolves by name.
// A pointer spelling drops its star first, so nullable references share
// the referent's identity.
func (b *builder) ref(source, explicitID string) entity.TypeRef {
	source, _ = nullable(source)
	ref := entity.TypeRef{Name: source, ID: explicitID}
	if ref.ID == "" {
		if t, ok := b.typesBy[source]; ok {
			ref.ID = t.ID
		} else if e, ok := b.enumsBy[source]; ok {
			ref.ID = e.ID
		}
	}
	if ref.ID == "" {
		if _, ok := BuiltinSQL(source); ok {
			b.builtins[source] = true
		}
	}
	return ref
}

// mapping derives the realized SQL form of a statically typed reference.
// Unknown spellings map through unchanged; the graph build rejects them
// with an unresolved-reference failure, keeping resolution in one place.
func (b *builder) mapping(ref entity.TypeRef) entity.SqlMapping {
	if sql, ok := BuiltinSQL(ref.Name); ok {
		return entity.SqlMapping{Kind: entity.SqlMapped, SQL: sql}
	}
	if t, ok := b.typesBy[ref.Name]; ok {
		return entity.SqlMapping{Kind: entity.SqlMapped, SQL: t.Name}
	}
	if e, ok := b.enumsBy[ref.Name]; ok {
		return entity.SqlMapping{Kind: entity.SqlMapped, SQL: e.Name}
	}
	return entity.SqlMapping{Kind: entity.SqlMapped, SQL: ref.Name}
}

func (b *builder) shapeRef(ref shape.TypeRef) (entity.TypeRef, entity.SqlMapping) {
	if ref.Composite != "" {
		r := b.ref(ref.Source, "")
		return r, entity.SqlMapping{Kind: entity.SqlComposite}
	}
	r := b.ref(ref.Source, "")
	return r, b.mapping(r)
}

// realized derives the executed-form return metadata from the classified
// declaration, or builds it from an explicit pin.
func (b *builder) realized(fd *FunctionDecl, ret shape.Returning) (*entity.ReturnMetadata, error) {
	derived, err := b.realizedOf(ret)
	if err != nil {
		return nil, err
	}
	if fd.Realized == nil {
		return derived, nil
	}

	rd := fd.Realized
	if rd.Variant == "void" {
		return nil, nil
	}
	rm := &entity.ReturnMetadata{}
	if derived != nil {
		*rm = *derived
	}
	switch rd.Variant {
	case "plain":
		rm.Variant = entity.ReturnPlain
	case "setof":
		rm.Variant = entity.ReturnSetOf
	case "table":
		rm.Variant = entity.ReturnTable
	default:
		return nil, fmt.Errorf("realized variant must be void, plain, setof or table, got %q", rd.Variant)
	}
	if rd.SQL != "" {
		if err := b.checkPinnedSQL(rd.SQL); err != nil {
			return nil, err
		}
		rm.SQL = entity.SqlMapping{Kind: entity.SqlMapped, SQL: rd.SQL}
	}
	if rd.Skip {
		rm.SQL = entity.SqlMapping{Kind: entity.SqlSkip}
	}
	return rm, nil
}

// checkPinnedSQL rejects a pinned SQL type name that is neither a declared
// type or enum nor a built-in name the type registry knows.
func (b *builder) checkPinnedSQL(name string) error {
	base := strings.TrimSuffix(name, "[]")
	if _, ok := b.typesBy[base]; ok {
		return nil
	}
	if _, ok := b.enumsBy[base]; ok {
		return nil
	}
	lookup := base
	if canonical, ok := canonicalNames[base]; ok {
		lookup = canonical
	}
	if _, ok := typeRegistry.TypeForName(lookup); ok {
		return nil
	}
	return fmt.Errorf("pinned SQL type %q is neither a declared type nor known to the type registry", name)
}

// realizedOf is the derivation path from the classified declaration.
func (b *builder) realizedOf(ret shape.Returning) (*entity.ReturnMetadata, error) {
	switch decl := ret.(type) {
	case nil, shape.None, shape.Trigger:
		return nil, nil
	case shape.Type:
		ref, sql := b.shapeRef(decl.Ref)
		return &entity.ReturnMetadata{Type: ref, Variant: entity.ReturnPlain, SQL: sql}, nil
	case shape.SetOf:
		ref, sql := b.shapeRef(decl.Ref)
		return &entity.ReturnMetadata{Type: ref, Variant: entity.ReturnSetOf, SQL: sql}, nil
	case shape.Iterated:
		rm := &entity.ReturnMetadata{Variant: entity.ReturnTable}
		for _, col := range decl.Columns {
			ref, sql := b.shapeRef(col.Ref)
			rm.Columns = append(rm.Columns, entity.ColumnMetadata{Type: ref, SQL: sql})
		}
		if len(rm.Columns) > 0 {
			rm.Type = rm.Columns[0].Type
		}
		return rm, nil
	}
	return nil, fmt.Errorf("unrecognized return shape %T", ret)
}

var attributeKinds = map[string]entity.AttrKind{
	"immutable":           entity.AttrImmutable,
	"strict":              entity.AttrStrict,
	"stable":              entity.AttrStable,
	"volatile":            entity.AttrVolatile,
	"parallel_safe":       entity.AttrParallelSafe,
	"parallel_unsafe":     entity.AttrParallelUnsafe,
	"parallel_restricted": entity.AttrParallelRestricted,
	"security_definer":    entity.AttrSecurityDefiner,
	"security_invoker":    entity.AttrSecurityInvoker,
}

func (b *builder) attributes(fd *FunctionDecl) ([]entity.Attribute, error) {
	var attrs []entity.Attribute
	for _, name := range fd.Attributes {
		kind, ok := attributeKinds[name]
		if !ok {
			return nil, fmt.Errorf("function %s: unknown attribute %q", fd.Name, name)
		}
		attrs = append(attrs, entity.Attribute{Kind: kind})
	}
	if fd.Cost != "" {
		attrs = append(attrs, entity.Attribute{Kind: entity.AttrCost, Cost: fd.Cost})
	}
	if len(fd.Requires) > 0 {
		attrs = append(attrs, entity.Attribute{Kind: entity.AttrRequires, Requires: fd.Requires})
	}
	return attrs, nil
}
