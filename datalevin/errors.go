package datalevin

import (
	"github.com/samber/oops"
)

// Error codes are the machine-readable halves of the error contract. The
// message prefix is the stable public text callers match on; the code and
// context map travel with the error for programmatic matching.
const (
	CodeSchemaTupleAttrs   = "schema/invalid-tuple-attrs"
	CodeSchemaTupleType    = "schema/missing-tuple-type"
	CodeSchemaValueType    = "schema/invalid-value-type"
	CodeTransactTuple      = "transact/tuple"
	CodeTransactTempid     = "transact/tempid"
	CodeTransactCAS        = "transact/cas"
	CodeTransactUnique     = "transact/unique"
	CodeTransactUpsert     = "transact/upsert"
	CodeTransactLookupRef  = "transact/lookup-ref"
	CodeTransactFn         = "transact/fn"
	CodeTransactSyntax     = "transact/syntax"
	CodeTransactValidation = "transact/validation"
	CodeQuerySyntax        = "query/syntax"
	CodeQueryOrVars        = "query/or-free-vars"
	CodeQueryBindings      = "query/insufficient-bindings"
	CodeSearchSyntax       = "search/syntax"
	CodeKVDupOpen          = "kv/dup-open"
	CodeKVClosed           = "kv/closed"
)

// NewError builds an error with a stable message, a code and context pairs.
func NewError(code string, msg string, kv ...any) error {
	return oops.Code(code).With(kv...).Errorf("%s", msg)
}

// Errorf builds a formatted error carrying a code.
func Errorf(code string, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// WrapError attaches a code and context to an underlying error.
func WrapError(code string, err error, msg string, kv ...any) error {
	return oops.Code(code).With(kv...).Wrapf(err, "%s", msg)
}

// CodeOf extracts the machine-readable code, or "" for foreign errors.
func CodeOf(err error) string {
	if e, ok := oops.AsOops(err); ok {
		return e.Code()
	}
	return ""
}

// ContextOf extracts the structured context map, or nil.
func ContextOf(err error) map[string]any {
	if e, ok := oops.AsOops(err); ok {
		return e.Context()
	}
	return nil
}
