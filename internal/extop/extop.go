// Package extop implements the extended operations the tool uses to group
// changes: LDAP transactions (RFC 5805), the multi-update operation, and
// the start-administrative-session operation.
package extop

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// Extended operation OIDs.
const (
	StartTransactionOID           = "1.3.6.1.1.21.1"
	EndTransactionOID             = "1.3.6.1.1.21.3"
	StartAdministrativeSessionOID = "1.3.6.1.4.1.30221.2.6.8"
	MultiUpdateOID                = "1.3.6.1.4.1.30221.2.6.17"
)

// Extender dispatches an extended request and reports the exchange's
// outcome. Satisfied by the connection pool.
type Extender interface {
	ProcessExtended(name string, value []byte, controls []ldap.Control) *result.Extended
}

// ConnExtender dispatches an extended request on a single connection,
// for operations that must run before the bind.
type ConnExtender interface {
	Extended(name string, value []byte, controls []ldap.Control) *result.Extended
}
