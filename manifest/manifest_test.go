package manifest

import (
	"strings"
	"testing"

	"github.com/pgink/pgink/entity"
	"github.com/pgink/pgink/shape"
)

const sampleManifest = `
default_schema: public
module_pathname: $libdir/dogs
types:
  - id: dogs.Dog
    name: Dog
    module_path: dogs
enums:
  - id: dogs.Mood
    name: mood
    variants: [happy, sad]
triggers:
  - function: audit_insert
    module_path: dogs
    file: dogs/audit.go
    line: 11
functions:
  - name: dog_age
    module_path: dogs
    file: dogs/dogs.go
    line: 3
    returns: int32
    arguments:
      - name: name
        type: string
  - name: feed
    go_name: feedDog
    module_path: dogs
    returns: ""
    arguments:
      - name: dog
        type: Dog
      - name: mood
        type: mood
    attributes: [immutable, parallel_safe]
    cost: "10"
    requires: [uuid-ossp]
`

func TestParse(t *testing.T) {
	set, opts, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if opts.DefaultSchema != "public" {
		t.Errorf("DefaultSchema = %q", opts.DefaultSchema)
	}
	if opts.ModulePathname != "$libdir/dogs" {
		t.Errorf("ModulePathname = %q", opts.ModulePathname)
	}
	if len(set.Types) != 1 || len(set.Enums) != 1 || len(set.Triggers) != 1 || len(set.Functions) != 2 {
		t.Fatalf("set sizes: %d types, %d enums, %d triggers, %d functions",
			len(set.Types), len(set.Enums), len(set.Triggers), len(set.Functions))
	}

	age := set.Functions[0]
	if _, ok := age.Return.(shape.Type); !ok {
		t.Errorf("dog_age classified as %T", age.Return)
	}
	if age.Retval == nil || age.Retval.Variant != entity.ReturnPlain || age.Retval.SQL.SQL != "integer" {
		t.Errorf("dog_age realized = %+v", age.Retval)
	}
	if age.Arguments[0].SQL.SQL != "text" {
		t.Errorf("dog_age argument mapped to %q", age.Arguments[0].SQL.SQL)
	}

	feed := set.Functions[1]
	if feed.UnaliasedName != "feedDog" || feed.FullPath != "dogs::feedDog" {
		t.Errorf("alias handling: unaliased %q, full path %q", feed.UnaliasedName, feed.FullPath)
	}
	if feed.Retval != nil {
		t.Errorf("void callable carries realized return %+v", feed.Retval)
	}
	if feed.Arguments[0].Type.ID != "dogs.Dog" {
		t.Errorf("declared type not resolved by name: %+v", feed.Arguments[0].Type)
	}
	if feed.Arguments[1].Type.ID != "dogs.Mood" {
		t.Errorf("declared enum not resolved by name: %+v", feed.Arguments[1].Type)
	}
	if len(feed.Attributes) != 4 {
		t.Errorf("attributes = %+v", feed.Attributes)
	}

	hasBuiltin := func(name string) bool {
		for _, b := range set.Builtins {
			if b == name {
				return true
			}
		}
		return false
	}
	if !hasBuiltin("string") || !hasBuiltin("int32") {
		t.Errorf("builtins = %v", set.Builtins)
	}
}

func TestParseCompositeArgument(t *testing.T) {
	doc := `
functions:
  - name: tally
    module_path: dogs
    arguments:
      - name: rows
        composite: dog_row
        composite_array: true
`
	set, _, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	arg := set.Functions[0].Arguments[0]
	if arg.SQL.Kind != entity.SqlComposite || !arg.SQL.ArrayBrackets {
		t.Errorf("composite mapping = %+v", arg.SQL)
	}
	if arg.Composite != "dog_row" {
		t.Errorf("composite name = %q", arg.Composite)
	}
	if arg.Type.Name != "pgsys.Row" {
		t.Errorf("composite reference = %+v", arg.Type)
	}
}

func TestParseNullable(t *testing.T) {
	doc := `
types:
  - id: dogs.Dog
    name: Dog
functions:
  - name: nickname
    returns: "*string"
    arguments:
      - name: max_age
        type: "*int32"
  - name: strays
    returns: iter.Seq[*Dog]
`
	set, _, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	nickname := set.Functions[0]
	rv := nickname.Retval
	if rv == nil || rv.Variant != entity.ReturnPlain || rv.SQL.SQL != "text" {
		t.Errorf("pointer return realized = %+v", rv)
	}
	if rv != nil && rv.Type.Name != "string" {
		t.Errorf("pointer return reference = %+v", rv.Type)
	}
	arg := nickname.Arguments[0]
	if !arg.Optional {
		t.Error("pointer argument not marked optional")
	}
	if arg.SQL.SQL != "integer" || arg.Type.Name != "int32" {
		t.Errorf("pointer argument mapped to %+v / %+v", arg.SQL, arg.Type)
	}

	strays := set.Functions[1]
	rv = strays.Retval
	if rv == nil || rv.Variant != entity.ReturnSetOf || rv.SQL.SQL != "Dog" {
		t.Errorf("pointer-element set realized = %+v", rv)
	}
	if rv != nil && rv.Type.ID != "dogs.Dog" {
		t.Errorf("pointer-element set reference = %+v", rv.Type)
	}
}

func TestParseRealizedPin(t *testing.T) {
	t.Run("variant and SQL override", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: iter.Seq[int32]
    realized:
      variant: setof
      sql: bigint
`
		set, _, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		rv := set.Functions[0].Retval
		if rv == nil || rv.Variant != entity.ReturnSetOf || rv.SQL.SQL != "bigint" {
			t.Errorf("pinned realized = %+v", rv)
		}
	})

	t.Run("void pin clears the realized value", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: int32
    realized:
      variant: void
`
		set, _, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if set.Functions[0].Retval != nil {
			t.Errorf("void pin kept realized value %+v", set.Functions[0].Retval)
		}
	})

	t.Run("skip pin", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: int32
    realized:
      variant: plain
      skip: true
`
		set, _, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		rv := set.Functions[0].Retval
		if rv == nil || rv.SQL.Kind != entity.SqlSkip {
			t.Errorf("skip pin realized = %+v", rv)
		}
	})

	t.Run("pinned SQL may name a declared enum", func(t *testing.T) {
		doc := `
enums:
  - id: dogs.Mood
    name: mood
    variants: [happy, sad]
functions:
  - name: drift
    returns: int32
    realized:
      variant: plain
      sql: mood
`
		if _, _, err := Parse([]byte(doc)); err != nil {
			t.Fatalf("Parse: %v", err)
		}
	})

	t.Run("pinned SQL array form validates its element", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: int32
    realized:
      variant: plain
      sql: bigint[]
`
		if _, _, err := Parse([]byte(doc)); err != nil {
			t.Fatalf("Parse: %v", err)
		}
	})

	t.Run("invented pinned SQL fails", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: int32
    realized:
      variant: plain
      sql: made_up_type
`
		_, _, err := Parse([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), "type registry") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("unknown variant fails", func(t *testing.T) {
		doc := `
functions:
  - name: drift
    returns: int32
    realized:
      variant: sideways
`
		_, _, err := Parse([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), "sideways") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			"unclassifiable return",
			"functions:\n  - name: bad\n    returns: map[string]int32\n",
			"unknown return shape",
		},
		{
			"unknown attribute",
			"functions:\n  - name: bad\n    attributes: [superfast]\n",
			"unknown attribute",
		},
		{
			"function without a name",
			"functions:\n  - returns: int32\n",
			"needs a name",
		},
		{
			"type without an id",
			"types:\n  - name: Dog\n",
			"needs both id and name",
		},
		{
			"trigger without a function",
			"triggers:\n  - module_path: dogs\n",
			"needs a function name",
		},
		{
			"argument without a type",
			"functions:\n  - name: bad\n    arguments:\n      - name: x\n",
			"needs a name and a type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestBuiltinSQL(t *testing.T) {
	tests := []struct {
		goType string
		sql    string
		ok     bool
	}{
		{"bool", "boolean", true},
		{"string", "text", true},
		{"int16", "smallint", true},
		{"int32", "integer", true},
		{"int", "integer", true},
		{"int64", "bigint", true},
		{"float32", "real", true},
		{"float64", "double precision", true},
		{"[]byte", "bytea", true},
		{"time.Time", "timestamptz", true},
		{"json.RawMessage", "jsonb", true},
		{"uuid.UUID", "uuid", true},
		{"pgsys.Internal", "internal", true},
		{"[]int32", "integer[]", true},
		{"[]string", "text[]", true},
		{"[]pgsys.Internal", "", false},
		{"Dog", "", false},
	}
	for _, tt := range tests {
		sql, ok := BuiltinSQL(tt.goType)
		if sql != tt.sql || ok != tt.ok {
			t.Errorf("BuiltinSQL(%q) = %q, %v; want %q, %v", tt.goType, sql, ok, tt.sql, tt.ok)
		}
	}
}

func TestValidateBuiltins(t *testing.T) {
	if err := validateBuiltins(); err != nil {
		t.Errorf("built-in table disagrees with the type registry: %v", err)
	}
}
