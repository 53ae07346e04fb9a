package controls

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// readEntryControl is the shared shape of the pre-read (RFC 4527) and
// post-read controls: an attribute selection list captured before or after
// the change is applied.
type readEntryControl struct {
	oid        string
	Attributes []string
}

func (c readEntryControl) GetControlType() string { return c.oid }

func (c readEntryControl) Encode() *ber.Packet {
	sel := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "AttributeSelection")
	for _, attr := range c.Attributes {
		sel.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			attr, "Attribute"))
	}
	return encode(c.oid, true, sel)
}

func (c readEntryControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Attributes: %s",
		Describe(c.oid), c.oid, true, strings.Join(c.Attributes, ","))
}

// PreRead captures the targeted entry as it was before the change.
type PreRead struct{ readEntryControl }

// NewPreRead returns the pre-read control for the given attribute list.
func NewPreRead(attributes []string) *PreRead {
	return &PreRead{readEntryControl{oid: OIDPreRead, Attributes: attributes}}
}

// PostRead captures the targeted entry as it is after the change.
type PostRead struct{ readEntryControl }

// NewPostRead returns the post-read control for the given attribute list.
func NewPostRead(attributes []string) *PostRead {
	return &PostRead{readEntryControl{oid: OIDPostRead, Attributes: attributes}}
}

// TokenizeAttributes splits a comma- and whitespace-separated attribute
// list into its tokens.
func TokenizeAttributes(values []string) []string {
	var attrs []string
	for _, value := range values {
		for _, token := range strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}) {
			if token != "" {
				attrs = append(attrs, token)
			}
		}
	}
	return attrs
}
