package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// flagControl is the shape shared by controls that carry no value: the OID
// and criticality say everything.
type flagControl struct {
	oid      string
	critical bool
}

func (c flagControl) GetControlType() string { return c.oid }

func (c flagControl) Encode() *ber.Packet { return encode(c.oid, c.critical, nil) }

func (c flagControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t", Describe(c.oid), c.oid, c.critical)
}

// NewNoOp returns the no-op request control: the server performs all
// validation for the operation but does not apply the change.
func NewNoOp() ldap.Control { return flagControl{oid: OIDNoOp, critical: true} }

// NewIgnoreNoUserModification returns the control that permits adds to
// include attributes normally designated NO-USER-MODIFICATION.
func NewIgnoreNoUserModification() ldap.Control {
	return flagControl{oid: OIDIgnoreNoUserModification, critical: true}
}

// NewNameWithEntryUUID returns the control requesting that the server name
// the added entry with its entryUUID value.
func NewNameWithEntryUUID() ldap.Control {
	return flagControl{oid: OIDNameWithEntryUUID, critical: true}
}

// NewPermissiveModify returns the permissive modify control.
func NewPermissiveModify() ldap.Control {
	return flagControl{oid: OIDPermissiveModify, critical: false}
}

// NewSubtreeDelete returns the subtree delete control.
func NewSubtreeDelete() ldap.Control {
	return flagControl{oid: OIDSubtreeDelete, critical: false}
}

// NewHardDelete returns the control requesting that a delete bypass the
// soft-delete mechanism and remove the entry permanently.
func NewHardDelete() ldap.Control { return flagControl{oid: OIDHardDelete, critical: true} }

// NewUndelete returns the control attached to an add request that restores
// a soft-deleted entry.
func NewUndelete() ldap.Control { return flagControl{oid: OIDUndelete, critical: true} }

// NewSuppressReferentialIntegrityUpdates returns the control that prevents
// referential integrity processing for a delete or modify DN.
func NewSuppressReferentialIntegrityUpdates() ldap.Control {
	return flagControl{oid: OIDSuppressReferentialUpdates, critical: true}
}

// NewReplicationRepair returns the control that applies a change to the
// local server only, without replicating it.
func NewReplicationRepair() ldap.Control {
	return flagControl{oid: OIDReplicationRepair, critical: true}
}

// NewPasswordPolicy returns the password policy request control.
func NewPasswordPolicy() ldap.Control {
	return flagControl{oid: OIDPasswordPolicy, critical: false}
}

// NewPasswordValidationDetails returns the control requesting per-validator
// detail about a proposed password.
func NewPasswordValidationDetails() ldap.Control {
	return flagControl{oid: OIDPasswordValidationDetails, critical: false}
}

// NewGetUserResourceLimits returns the control requesting the server's
// resource limits for the authenticated user.
func NewGetUserResourceLimits() ldap.Control {
	return flagControl{oid: OIDGetUserResourceLimits, critical: false}
}

// NewAuthorizationIdentity returns the authorization identity request
// control attached to bind requests.
func NewAuthorizationIdentity() ldap.Control {
	return flagControl{oid: OIDAuthorizationIdentity, critical: false}
}
