// Package controls implements the request controls the tool can attach to
// outgoing operations. Each control satisfies the client library's Control
// interface and encodes its value with BER.
package controls

import (
	ber "github.com/go-asn1-ber/asn1-ber"
)

// OIDs for the controls defined in this package. Standard-track controls
// use their RFC assignments; the remainder use the Ping/UnboundID directory
// server assignments.
const (
	OIDAssertion                  = "1.3.6.1.1.12"
	OIDPreRead                    = "1.3.6.1.1.13.1"
	OIDPostRead                   = "1.3.6.1.1.13.2"
	OIDTransactionSpecification   = "1.3.6.1.1.21.2"
	OIDSubtreeDelete              = "1.2.840.113556.1.4.805"
	OIDPermissiveModify           = "1.2.840.113556.1.4.1413"
	OIDPagedResults               = "1.2.840.113556.1.4.319"
	OIDManageDsaIT                = "2.16.840.1.113730.3.4.2"
	OIDProxiedAuthorizationV1     = "2.16.840.1.113730.3.4.12"
	OIDAuthorizationIdentity      = "2.16.840.1.113730.3.4.16"
	OIDProxiedAuthorizationV2     = "2.16.840.1.113730.3.4.18"
	OIDNoOp                       = "1.3.6.1.4.1.4203.1.10.2"
	OIDPasswordPolicy             = "1.3.6.1.4.1.42.2.27.8.5.1"
	OIDReplicationRepair          = "1.3.6.1.4.1.30221.1.5.2"
	OIDIgnoreNoUserModification   = "1.3.6.1.4.1.30221.2.5.5"
	OIDGetAuthorizationEntry      = "1.3.6.1.4.1.30221.2.5.6"
	OIDOperationPurpose           = "1.3.6.1.4.1.30221.2.5.19"
	OIDSoftDelete                 = "1.3.6.1.4.1.30221.2.5.20"
	OIDHardDelete                 = "1.3.6.1.4.1.30221.2.5.22"
	OIDUndelete                   = "1.3.6.1.4.1.30221.2.5.23"
	OIDGetUserResourceLimits      = "1.3.6.1.4.1.30221.2.5.25"
	OIDSuppressOperationalUpdate  = "1.3.6.1.4.1.30221.2.5.27"
	OIDAssuredReplication         = "1.3.6.1.4.1.30221.2.5.28"
	OIDSuppressReferentialUpdates = "1.3.6.1.4.1.30221.2.5.30"
	OIDRetirePassword             = "1.3.6.1.4.1.30221.2.5.31"
	OIDPurgePassword              = "1.3.6.1.4.1.30221.2.5.32"
	OIDPasswordValidationDetails  = "1.3.6.1.4.1.30221.2.5.40"
	OIDNameWithEntryUUID          = "1.3.6.1.4.1.30221.2.5.44"
)

var descriptions = map[string]string{
	OIDAssertion:                  "Assertion",
	OIDPreRead:                    "Pre-Read",
	OIDPostRead:                   "Post-Read",
	OIDTransactionSpecification:   "Transaction Specification",
	OIDSubtreeDelete:              "Subtree Delete",
	OIDPermissiveModify:           "Permissive Modify",
	OIDPagedResults:               "Simple Paged Results",
	OIDManageDsaIT:                "Manage DSA IT",
	OIDProxiedAuthorizationV1:     "Proxied Authorization v1",
	OIDAuthorizationIdentity:      "Authorization Identity Request",
	OIDProxiedAuthorizationV2:     "Proxied Authorization v2",
	OIDNoOp:                       "No-Op",
	OIDPasswordPolicy:             "Password Policy",
	OIDReplicationRepair:          "Replication Repair",
	OIDIgnoreNoUserModification:   "Ignore NO-USER-MODIFICATION",
	OIDGetAuthorizationEntry:      "Get Authorization Entry",
	OIDOperationPurpose:           "Operation Purpose",
	OIDSoftDelete:                 "Soft Delete",
	OIDHardDelete:                 "Hard Delete",
	OIDUndelete:                   "Undelete",
	OIDGetUserResourceLimits:      "Get User Resource Limits",
	OIDSuppressOperationalUpdate:  "Suppress Operational Attribute Updates",
	OIDAssuredReplication:         "Assured Replication",
	OIDSuppressReferentialUpdates: "Suppress Referential Integrity Updates",
	OIDRetirePassword:             "Retire Password",
	OIDPurgePassword:              "Purge Password",
	OIDPasswordValidationDetails:  "Password Validation Details",
	OIDNameWithEntryUUID:          "Name With Entry UUID",
}

// Describe returns the human-readable name registered for the OID, or the
// OID itself when unknown.
func Describe(oid string) string {
	if d, ok := descriptions[oid]; ok {
		return d
	}
	return oid
}

// encode builds the control sequence: OID, optional criticality, and an
// optional value holding the BER encoding of the supplied packet.
func encode(oid string, criticality bool, value *ber.Packet) *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		oid, "Control Type ("+Describe(oid)+")"))
	if criticality {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
			true, "Criticality"))
	}
	if value != nil {
		p2 := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil,
			"Control Value ("+Describe(oid)+")")
		p2.AppendChild(value)
		packet.AppendChild(p2)
	}
	return packet
}

// encodeRaw builds the control sequence with a value that is raw bytes
// rather than a nested BER element.
func encodeRaw(oid string, criticality bool, value []byte) *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		oid, "Control Type ("+Describe(oid)+")"))
	if criticality {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
			true, "Criticality"))
	}
	p2 := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil,
		"Control Value ("+Describe(oid)+")")
	p2.Value = value
	p2.Data.Write(value)
	packet.AppendChild(p2)
	return packet
}
