package result

// Extended is the result of an extended operation: the common result shape
// plus the optional response OID and value.
type Extended struct {
	Result
	// OID is the responseName, when the server included one.
	OID string
	// Value is the raw responseValue, nil when absent.
	Value []byte
}

// NewExtended wraps a result with extended-response fields.
func NewExtended(r *Result, oid string, value []byte) *Extended {
	return &Extended{Result: *r, OID: oid, Value: value}
}

// LocalExtended returns a locally-generated extended result.
func LocalExtended(r *Result) *Extended {
	return &Extended{Result: *r}
}
