// Package wrapper emits the fixed ABI shim for trigger callables. The
// engine invokes the generated wrapper symbol with an opaque call-context
// handle; the wrapper rebuilds the trigger context, invokes the user
// callable, and converts its row result into the engine's native
// representation. There is no typed error path back through this ABI, so
// every conversion failure is process-fatal.
package wrapper

import (
	"io"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"

	"github.com/pgink/pgink/entity"
)

const pgsysPath = "github.com/pgink/pgink/pgsys"

// Entity builds the registration record for a trigger callable.
func Entity(functionName, modulePath, file string, line int) *entity.Trigger {
	return &entity.Trigger{
		FunctionName: functionName,
		ModulePath:   modulePath,
		FullPath:     modulePath + "::" + functionName,
		File:         file,
		Line:         line,
	}
}

// WrapperName is the exported Go identifier of the shim for a trigger
// function name.
func WrapperName(functionName string) string {
	return inflect.Camelize(functionName) + "Wrapper"
}

// CallableName is the Go identifier the shim invokes: the lower-camel form
// of the declared trigger function name.
func CallableName(functionName string) string {
	return inflect.CamelizeDownFirst(functionName)
}

// Generate writes the shim source for t into w, inside package pkg. The
// shim has the fixed shape the engine expects:
//
//	func <Name>Wrapper(fcinfo pgsys.FunctionCallInfo) pgsys.Datum
//
// and panics on any failure, since trigger callbacks cannot return control
// to the caller with a typed error.
//
// The shim is exported under the trigger's wrapper symbol via cgo, which is
// the symbol the registration statement names in its AS clause.
func Generate(w io.Writer, t *entity.Trigger, pkg string) error {
	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by pgink. DO NOT EDIT.")
	f.CgoPreamble("")

	wrapperName := WrapperName(t.FunctionName)
	callable := CallableName(t.FunctionName)

	f.Comment(wrapperName + " is the trigger entry point for " + t.FullPath + ".")
	f.Comment("//export " + t.WrapperSymbol())
	f.Func().Id(wrapperName).
		Params(jen.Id("fcinfo").Qual(pgsysPath, "FunctionCallInfo")).
		Qual(pgsysPath, "Datum").
		Block(
			jen.List(jen.Id("tg"), jen.Err()).Op(":=").Qual(pgsysPath, "TriggerFromFcinfo").Call(jen.Id("fcinfo")),
			jen.If(jen.Err().Op("!=").Nil()).Block(
				jen.Panic(jen.Qual("fmt", "Sprintf").Call(
					jen.Lit(t.FunctionName+": building trigger context: %v"), jen.Err(),
				)),
			),
			jen.List(jen.Id("row"), jen.Err()).Op(":=").Id(callable).Call(jen.Id("tg")),
			jen.If(jen.Err().Op("!=").Nil()).Block(
				jen.Panic(jen.Qual("fmt", "Sprintf").Call(
					jen.Lit(t.FunctionName+": trigger callable failed: %v"), jen.Err(),
				)),
			),
			jen.List(jen.Id("datum"), jen.Err()).Op(":=").Id("row").Dot("Datum").Call(),
			jen.If(jen.Err().Op("!=").Nil()).Block(
				jen.Panic(jen.Qual("fmt", "Sprintf").Call(
					jen.Lit(t.FunctionName+": converting trigger result: %v"), jen.Err(),
				)),
			),
			jen.Return(jen.Id("datum")),
		)
	return f.Render(w)
}
