package extop

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// ErrorBehavior selects how the server treats a failed operation within a
// multi-update request.
type ErrorBehavior int

const (
	// Atomic applies all of the operations or none of them.
	Atomic ErrorBehavior = 0
	// AbortOnError stops at the first failure, keeping earlier changes.
	AbortOnError ErrorBehavior = 1
	// ContinueOnError attempts every operation regardless of failures.
	ContinueOnError ErrorBehavior = 2
)

// ParseErrorBehavior maps the command-line spelling onto the behavior.
func ParseErrorBehavior(s string) (ErrorBehavior, error) {
	switch s {
	case "atomic":
		return Atomic, nil
	case "abort-on-error":
		return AbortOnError, nil
	case "continue-on-error":
		return ContinueOnError, nil
	}
	return 0, fmt.Errorf("unsupported multi-update error behavior %q", s)
}

func (b ErrorBehavior) String() string {
	switch b {
	case Atomic:
		return "atomic"
	case AbortOnError:
		return "abort-on-error"
	case ContinueOnError:
		return "continue-on-error"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// Request is one buffered operation awaiting inclusion in a multi-update
// request. Exactly one field is set.
type Request struct {
	Add      *ldap.AddRequest
	Delete   *ldap.DelRequest
	Modify   *ldap.ModifyRequest
	ModifyDN *ldap.ModifyDNRequest
}

// DN returns the distinguished name the buffered operation targets.
func (r Request) DN() string {
	switch {
	case r.Add != nil:
		return r.Add.DN
	case r.Delete != nil:
		return r.Delete.DN
	case r.Modify != nil:
		return r.Modify.DN
	case r.ModifyDN != nil:
		return r.ModifyDN.DN
	}
	return ""
}

// LDAP protocol op application tags for the buffered request types.
const (
	appModifyRequest   ber.Tag = 6
	appAddRequest      ber.Tag = 8
	appDelRequest      ber.Tag = 10
	appModifyDNRequest ber.Tag = 12
)

// encode renders the buffered operation as the multi-update request
// element: the protocol op followed by its controls, when present.
func (r Request) encode() *ber.Packet {
	element := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Request")

	var op *ber.Packet
	var controls []ldap.Control
	switch {
	case r.Add != nil:
		op = ber.Encode(ber.ClassApplication, ber.TypeConstructed, appAddRequest, nil, "Add Request")
		op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			r.Add.DN, "DN"))
		attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
		for _, attr := range r.Add.Attributes {
			attrs.AppendChild(encodeAttribute(attr.Type, attr.Vals))
		}
		op.AppendChild(attrs)
		controls = r.Add.Controls

	case r.Delete != nil:
		op = ber.Encode(ber.ClassApplication, ber.TypePrimitive, appDelRequest, nil, "Delete Request")
		op.Data.Write([]byte(r.Delete.DN))
		controls = r.Delete.Controls

	case r.Modify != nil:
		op = ber.Encode(ber.ClassApplication, ber.TypeConstructed, appModifyRequest, nil, "Modify Request")
		op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			r.Modify.DN, "DN"))
		changes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Changes")
		for _, change := range r.Modify.Changes {
			seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Change")
			seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
				int64(change.Operation), "Operation"))
			seq.AppendChild(encodeAttribute(change.Modification.Type, change.Modification.Vals))
			changes.AppendChild(seq)
		}
		op.AppendChild(changes)
		controls = r.Modify.Controls

	case r.ModifyDN != nil:
		op = ber.Encode(ber.ClassApplication, ber.TypeConstructed, appModifyDNRequest, nil, "Modify DN Request")
		op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			r.ModifyDN.DN, "DN"))
		op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			r.ModifyDN.NewRDN, "New RDN"))
		op.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
			r.ModifyDN.DeleteOldRDN, "Delete Old RDN"))
		if r.ModifyDN.NewSuperior != "" {
			newSup := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "New Superior")
			newSup.Data.Write([]byte(r.ModifyDN.NewSuperior))
			op.AppendChild(newSup)
		}
		controls = r.ModifyDN.Controls
	}

	element.AppendChild(op)
	if len(controls) > 0 {
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
		for _, control := range controls {
			packet.AppendChild(control.Encode())
		}
		element.AppendChild(packet)
	}
	return element
}

// MultiUpdateResult is the decoded multi-update response: whether the
// server applied none, some, or all of the changes, and the per-operation
// results in request order.
type MultiUpdateResult struct {
	*result.Extended
	// ChangesApplied is one of the changesApplied values below, or -1 when
	// the response carried no value.
	ChangesApplied int
	Results        []*result.Result
}

// changesApplied values in the multi-update response.
const (
	ChangesAppliedNone    = 0
	ChangesAppliedAll     = 1
	ChangesAppliedPartial = 2
)

// MultiUpdate sends the buffered requests as a single multi-update
// extended request with the given error behavior. Controls supplied here
// (proxied authorization, when multi-update is in effect) attach to the
// multi-update request only.
func MultiUpdate(ext Extender, behavior ErrorBehavior, requests []Request,
	controls []ldap.Control) *MultiUpdateResult {

	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Multi-Update Value")
	value.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
		int64(behavior), "Error Behavior"))
	reqSeq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Requests")
	for _, request := range requests {
		reqSeq.AppendChild(request.encode())
	}
	value.AppendChild(reqSeq)

	res := ext.ProcessExtended(MultiUpdateOID, value.Bytes(), controls)
	decoded := &MultiUpdateResult{Extended: res, ChangesApplied: -1}
	if len(res.Value) > 0 {
		decoded.decodeValue(res.Value)
	}
	return decoded
}

// decodeValue interprets the response value; a malformed value leaves the
// outer result intact and the per-operation results empty.
func (m *MultiUpdateResult) decodeValue(value []byte) {
	packet, err := ber.DecodePacketErr(value)
	if err != nil || len(packet.Children) == 0 {
		return
	}
	if applied, ok := packet.Children[0].Value.(int64); ok {
		m.ChangesApplied = int(applied)
	}
	if len(packet.Children) < 2 {
		return
	}
	for _, element := range packet.Children[1].Children {
		if len(element.Children) == 0 {
			continue
		}
		res, err := result.Decode(result.NoMessageID, element.Children[0], nil)
		if err != nil {
			continue
		}
		m.Results = append(m.Results, res)
	}
}

func encodeAttribute(attrType string, vals []string) *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attribute")
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		attrType, "Type"))
	set := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Values")
	for _, v := range vals {
		value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Value")
		value.Data.Write([]byte(v))
		set.AppendChild(value)
	}
	seq.AppendChild(set)
	return seq
}
