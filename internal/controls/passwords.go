package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// NewRetirePassword returns the control that retires the current password
// when a password modification is applied, leaving it usable for a limited
// grace period.
func NewRetirePassword() ldap.Control {
	return flagControl{oid: OIDRetirePassword, critical: false}
}

// NewPurgePassword returns the control that removes the current password
// immediately when a password modification is applied.
func NewPurgePassword() ldap.Control {
	return flagControl{oid: OIDPurgePassword, critical: false}
}

// SoftDelete requests that a delete operation hide the entry rather than
// remove it. The value asks the server to return the resulting
// soft-deleted entry DN.
type SoftDelete struct{}

// NewSoftDelete returns the soft delete request control.
func NewSoftDelete() *SoftDelete { return &SoftDelete{} }

// GetControlType returns the OID.
func (c *SoftDelete) GetControlType() string { return OIDSoftDelete }

// Encode returns the ber packet representation.
func (c *SoftDelete) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Soft Delete Value")
	ret := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "Return Soft Delete Response")
	ret.Data.Write([]byte{0xFF})
	seq.AppendChild(ret)
	return encode(OIDSoftDelete, true, seq)
}

func (c *SoftDelete) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t",
		Describe(OIDSoftDelete), OIDSoftDelete, true)
}
