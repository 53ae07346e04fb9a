package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// OperationPurpose annotates a request with the application, version, and
// human-supplied reason it was issued, for the server's access log.
type OperationPurpose struct {
	ApplicationName    string
	ApplicationVersion string
	CodeLocation       string
	Purpose            string
}

// NewOperationPurpose returns the operation purpose request control.
func NewOperationPurpose(name, version, codeLocation, purpose string) *OperationPurpose {
	return &OperationPurpose{
		ApplicationName:    name,
		ApplicationVersion: version,
		CodeLocation:       codeLocation,
		Purpose:            purpose,
	}
}

// GetControlType returns the OID.
func (c *OperationPurpose) GetControlType() string { return OIDOperationPurpose }

// Encode returns the ber packet representation.
func (c *OperationPurpose) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Operation Purpose Value")
	if c.ApplicationName != "" {
		seq.AppendChild(contextString(0, c.ApplicationName, "Application Name"))
	}
	if c.ApplicationVersion != "" {
		seq.AppendChild(contextString(1, c.ApplicationVersion, "Application Version"))
	}
	if c.CodeLocation != "" {
		seq.AppendChild(contextString(2, c.CodeLocation, "Code Location"))
	}
	seq.AppendChild(contextString(3, c.Purpose, "Request Purpose"))
	return encode(OIDOperationPurpose, false, seq)
}

func (c *OperationPurpose) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Purpose: %s",
		Describe(OIDOperationPurpose), OIDOperationPurpose, false, c.Purpose)
}

// GetAuthorizationEntry asks the server to return the authentication and
// authorization entries with the bind or operation response.
type GetAuthorizationEntry struct {
	Attributes []string
}

// NewGetAuthorizationEntry returns the get authorization entry request
// control for the given attribute list.
func NewGetAuthorizationEntry(attributes []string) *GetAuthorizationEntry {
	return &GetAuthorizationEntry{Attributes: attributes}
}

// GetControlType returns the OID.
func (c *GetAuthorizationEntry) GetControlType() string { return OIDGetAuthorizationEntry }

// Encode returns the ber packet representation.
func (c *GetAuthorizationEntry) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Get Authorization Entry Value")
	includeAuthN := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "Include Authentication Entry")
	includeAuthN.Data.Write([]byte{0xFF})
	seq.AppendChild(includeAuthN)
	includeAuthZ := ber.Encode(ber.ClassContext, ber.TypePrimitive, 1, nil, "Include Authorization Entry")
	includeAuthZ.Data.Write([]byte{0xFF})
	seq.AppendChild(includeAuthZ)
	if len(c.Attributes) > 0 {
		attrs := ber.Encode(ber.ClassContext, ber.TypeConstructed, 2, nil, "Attributes")
		for _, attr := range c.Attributes {
			attrs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive,
				ber.TagOctetString, attr, "Attribute"))
		}
		seq.AppendChild(attrs)
	}
	return encode(OIDGetAuthorizationEntry, false, seq)
}

func (c *GetAuthorizationEntry) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Attributes: %v",
		Describe(OIDGetAuthorizationEntry), OIDGetAuthorizationEntry, false, c.Attributes)
}

func contextString(tag ber.Tag, value, description string) *ber.Packet {
	p := ber.Encode(ber.ClassContext, ber.TypePrimitive, tag, nil, description)
	p.Value = value
	p.Data.Write([]byte(value))
	return p
}
