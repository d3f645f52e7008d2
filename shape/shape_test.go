package shape

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		decl string
		want Returning
	}{
		{"empty is void", "", None{}},
		{"whitespace is void", "   ", None{}},

		{"datum is trigger", "pgsys.Datum", Trigger{}},
		{"bare datum is trigger", "Datum", Trigger{}},
		{"pointer to datum is trigger", "*pgsys.Datum", Trigger{}},

		{"builtin scalar", "int32", Type{Ref: TypeRef{Source: "int32"}}},
		{"qualified type", "time.Time", Type{Ref: TypeRef{Source: "time.Time"}}},
		{"pointer keeps the star", "*Dog", Type{Ref: TypeRef{Source: "*Dog"}}},
		{"pointer to qualified", "*uuid.UUID", Type{Ref: TypeRef{Source: "*uuid.UUID"}}},
		{"slice", "[]string", Type{Ref: TypeRef{Source: "[]string"}}},
		{"byte slice", "[]byte", Type{Ref: TypeRef{Source: "[]byte"}}},
		{"generic instantiation", "Pair[int32]", Type{Ref: TypeRef{Source: "Pair[int32]"}}},
		{"empty tuple is a unit value", "struct{}", Type{Ref: TypeRef{Source: "struct{}"}}},

		{
			"composite reference",
			`pgsys.Composite("dog_summary")`,
			Type{Ref: TypeRef{Source: "pgsys.Row", Composite: "dog_summary"}},
		},

		{"set of scalar", "iter.Seq[int64]", SetOf{Ref: TypeRef{Source: "int64"}}},
		{"set of qualified", "iter.Seq[uuid.UUID]", SetOf{Ref: TypeRef{Source: "uuid.UUID"}}},
		{"set of pointer element", "iter.Seq[*Dog]", SetOf{Ref: TypeRef{Source: "*Dog"}}},
		{"pointer to iterator unwraps", "*iter.Seq[int32]", SetOf{Ref: TypeRef{Source: "int32"}}},
		{
			"set of composite",
			`iter.Seq[pgsys.Composite("dog_summary")]`,
			SetOf{Ref: TypeRef{Source: "pgsys.Row", Composite: "dog_summary"}},
		},

		{
			"iterated tuple",
			`iter.Seq[struct {
				DogName  string "col:\"dog_name\""
				DogAge   int32  "col:\"dog_age\""
				DogBreed string "col:\"dog_breed\""
				HumanAge int32  "col:\"human_age\""
			}]`,
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}, Name: "dog_name"},
				{Ref: TypeRef{Source: "int32"}, Name: "dog_age"},
				{Ref: TypeRef{Source: "string"}, Name: "dog_breed"},
				{Ref: TypeRef{Source: "int32"}, Name: "human_age"},
			}},
		},
		{
			"iterated tuple without names",
			`iter.Seq[struct {
				A string
				B int64
			}]`,
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}},
				{Ref: TypeRef{Source: "int64"}},
			}},
		},
		{
			"pair iterator is two unnamed columns",
			"iter.Seq2[string, int64]",
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}},
				{Ref: TypeRef{Source: "int64"}},
			}},
		},
		{
			"bare tuple",
			`struct {
				Name  string "col:\"name\""
				Count int32
			}`,
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}, Name: "name"},
				{Ref: TypeRef{Source: "int32"}},
			}},
		},
		{
			"tuple with composite element",
			`struct {
				Owner string                     "col:\"owner\""
				Dog   pgsys.Composite("dog_row") "col:\"dog\""
			}`,
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}, Name: "owner"},
				{Ref: TypeRef{Source: "pgsys.Row", Composite: "dog_row"}, Name: "dog"},
			}},
		},
		{
			"pair iterator with composite element",
			`iter.Seq2[string, pgsys.Composite("dog_row")]`,
			Iterated{Columns: []Column{
				{Ref: TypeRef{Source: "string"}},
				{Ref: TypeRef{Source: "pgsys.Row", Composite: "dog_row"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.decl)
			if err != nil {
				t.Fatalf("Classify(%q) returned error: %v", tt.decl, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.decl, got, tt.want)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		decl string
	}{
		{"unparseable", "not a type!!"},
		{"map", "map[string]int32"},
		{"channel", "chan int32"},
		{"func", "func()"},
		{"interface", "interface{}"},
		{"double pointer", "**Dog"},
		{"pointer to composite", `*pgsys.Composite("dog_row")`},
		{"composite without name", "pgsys.Composite()"},
		{"composite with two names", `pgsys.Composite("a", "b")`},
		{"composite with non-literal name", "pgsys.Composite(name)"},
		{"composite with empty name", `pgsys.Composite("")`},
		{"iterator over empty tuple", "iter.Seq[struct{}]"},
		{"iterator over map", "iter.Seq[map[string]int32]"},
		{"tuple with func element", "struct{ F func() }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.decl)
			if err == nil {
				t.Fatalf("Classify(%q) succeeded, want error", tt.decl)
			}
			if !IsUnknownReturnShape(err) {
				t.Errorf("Classify(%q) error = %v, want ErrUnknownReturnShape", tt.decl, err)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	decl := "iter.Seq2[string, int64]"
	first, err := Classify(decl)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Classify(decl)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Classify(%q) is not stable: %#v vs %#v", decl, first, second)
	}
}
