package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Assertion is the assertion request control (RFC 4528). The server must
// refuse the operation with ASSERTION_FAILED when the filter does not match
// the target entry. Always critical.
type Assertion struct {
	Filter string

	compiled *ber.Packet
}

// NewAssertion compiles the filter and returns the control. A filter that
// does not parse is reported before any request is sent.
func NewAssertion(filter string) (*Assertion, error) {
	compiled, err := ldap.CompileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid assertion filter %q: %w", filter, err)
	}
	return &Assertion{Filter: filter, compiled: compiled}, nil
}

// GetControlType returns the OID.
func (c *Assertion) GetControlType() string { return OIDAssertion }

// Encode returns the ber packet representation.
func (c *Assertion) Encode() *ber.Packet {
	return encode(OIDAssertion, true, c.compiled)
}

func (c *Assertion) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Filter: %s",
		Describe(OIDAssertion), OIDAssertion, true, c.Filter)
}
