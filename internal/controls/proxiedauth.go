package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// ProxiedAuthorizationV1 is the draft-weltman-ldapv3-proxy-04 control whose
// value wraps the authorization DN in a sequence. Always critical.
type ProxiedAuthorizationV1 struct {
	AuthorizationDN string
}

// NewProxiedAuthorizationV1 returns the DN-based proxied authorization
// control.
func NewProxiedAuthorizationV1(dn string) *ProxiedAuthorizationV1 {
	return &ProxiedAuthorizationV1{AuthorizationDN: dn}
}

// GetControlType returns the OID.
func (c *ProxiedAuthorizationV1) GetControlType() string { return OIDProxiedAuthorizationV1 }

// Encode returns the ber packet representation.
func (c *ProxiedAuthorizationV1) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Proxied Authorization V1 Value")
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		c.AuthorizationDN, "Authorization DN"))
	return encode(OIDProxiedAuthorizationV1, true, seq)
}

func (c *ProxiedAuthorizationV1) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Authorization DN: %s",
		Describe(OIDProxiedAuthorizationV1), OIDProxiedAuthorizationV1, true, c.AuthorizationDN)
}

// ProxiedAuthorizationV2 is the RFC 4370 control whose value is the raw
// authorization identity ("dn:..." or "u:..."). Always critical.
type ProxiedAuthorizationV2 struct {
	AuthorizationID string
}

// NewProxiedAuthorizationV2 returns the authzID-based proxied authorization
// control.
func NewProxiedAuthorizationV2(authzID string) *ProxiedAuthorizationV2 {
	return &ProxiedAuthorizationV2{AuthorizationID: authzID}
}

// GetControlType returns the OID.
func (c *ProxiedAuthorizationV2) GetControlType() string { return OIDProxiedAuthorizationV2 }

// Encode returns the ber packet representation.
func (c *ProxiedAuthorizationV2) Encode() *ber.Packet {
	return encodeRaw(OIDProxiedAuthorizationV2, true, []byte(c.AuthorizationID))
}

func (c *ProxiedAuthorizationV2) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Authorization ID: %s",
		Describe(OIDProxiedAuthorizationV2), OIDProxiedAuthorizationV2, true, c.AuthorizationID)
}
