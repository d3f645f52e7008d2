// Package pgsys declares the fixed names supplied by the PostgreSQL ABI
// bridge: the opaque datum handle, the function call-info handle passed to
// trigger wrappers, and the internal-only placeholder type. The compiler and
// the wrapper generator refer to these names verbatim; the real conversions
// behind them are provided by the host bridge that links the extension
// against a server, which is outside this module.
package pgsys

import "errors"

// Datum is the opaque ABI row handle. A callable declared as returning
// Datum (bare or one pointer deep) is a trigger callback.
type Datum uintptr

// FunctionCallInfo is the opaque call-context handle handed to generated
// trigger wrappers.
type FunctionCallInfo uintptr

// Internal is the untyped internal-only placeholder type. Arguments of this
// type never participate in strict-null inference.
type Internal struct{}

// Names recognized by the classifier and emitted verbatim by the renderer.
const (
	// DatumTypeName is the declared form of the opaque row handle.
	DatumTypeName = "pgsys.Datum"

	// InternalTypeID identifies the internal placeholder in the entity graph.
	InternalTypeID = "pgsys.Internal"

	// RowTypeName is the declared form of a dynamically named composite row.
	RowTypeName = "pgsys.Row"

	// TriggerSQLType is the return type PostgreSQL expects on trigger
	// registration functions.
	TriggerSQLType = "trigger"
)

// ErrNoBridge is returned by bridge entry points when the process is not
// linked against a server.
var ErrNoBridge = errors.New("pgsys: not linked against a PostgreSQL server bridge")

// Row is a composite row value known only by its runtime type name.
type Row struct {
	name   string
	values map[string]any
}

// NewRow builds an empty row of the named composite type.
func NewRow(name string) *Row {
	return &Row{name: name, values: make(map[string]any)}
}

// TypeName is the runtime composite type name.
func (r *Row) TypeName() string {
	return r.name
}

// Set assigns one field of the row.
func (r *Row) Set(field string, value any) {
	r.values[field] = value
}

// Get reads one field of the row.
func (r *Row) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Datum converts the row into the engine's native representation.
func (r *Row) Datum() (Datum, error) {
	if r == nil {
		return 0, errors.New("pgsys: nil row")
	}
	return 0, ErrNoBridge
}

// TriggerData carries the trigger invocation context: the fired row, the
// event kind, and the relation it fired on.
type TriggerData struct {
	Relation string
	Event    string
	Current  *Row
}

// TriggerFromFcinfo reconstructs the trigger context from a call-info handle.
func TriggerFromFcinfo(fcinfo FunctionCallInfo) (*TriggerData, error) {
	if fcinfo == 0 {
		return nil, errors.New("pgsys: null fcinfo")
	}
	return nil, ErrNoBridge
}
