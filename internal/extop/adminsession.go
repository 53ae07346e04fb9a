package extop

import (
	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/google/uuid"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// StartAdministrativeSession asks the server to process the connection's
// operations in its dedicated administrative thread pool. It is issued
// before the bind on each new connection. The client identifier carries
// the tool name plus a per-invocation UUID so concurrent sessions remain
// distinguishable in the server's logs.
type StartAdministrativeSession struct {
	ClientName string
}

// NewStartAdministrativeSession returns the post-connect request for the
// named tool.
func NewStartAdministrativeSession(toolName string) *StartAdministrativeSession {
	return &StartAdministrativeSession{ClientName: toolName + "-" + uuid.NewString()}
}

// Send issues the request on the given connection.
func (s *StartAdministrativeSession) Send(ext ConnExtender) *result.Result {
	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil,
		"Start Administrative Session Value")
	name := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "Client Name")
	name.Data.Write([]byte(s.ClientName))
	value.AppendChild(name)
	dedicated := ber.Encode(ber.ClassContext, ber.TypePrimitive, 1, nil, "Use Dedicated Thread Pool")
	dedicated.Data.Write([]byte{0xFF})
	value.AppendChild(dedicated)

	res := ext.Extended(StartAdministrativeSessionOID, value.Bytes(), nil)
	return &res.Result
}
