package controls

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// TransactionSpecification is the RFC 5805 control that binds a modifying
// operation to an open transaction. The value is the transaction identifier
// exactly as returned by the start-transaction extended operation. Always
// critical.
type TransactionSpecification struct {
	TransactionID []byte
}

// NewTransactionSpecification returns the control for the given transaction
// identifier.
func NewTransactionSpecification(txnID []byte) *TransactionSpecification {
	return &TransactionSpecification{TransactionID: txnID}
}

// GetControlType returns the OID.
func (c *TransactionSpecification) GetControlType() string { return OIDTransactionSpecification }

// Encode returns the ber packet representation.
func (c *TransactionSpecification) Encode() *ber.Packet {
	return encodeRaw(OIDTransactionSpecification, true, c.TransactionID)
}

func (c *TransactionSpecification) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Transaction ID: %x",
		Describe(OIDTransactionSpecification), OIDTransactionSpecification, true, c.TransactionID)
}
