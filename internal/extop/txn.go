package extop

import (
	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// StartTransaction begins a server-side transaction and returns its
// identifier. Controls supplied here (proxied authorization, when a
// transaction is in effect) attach to the start-transaction request only,
// never to the inner operations. The identifier is opaque and is echoed
// back in the transaction-specification control on every inner operation
// and in the end-transaction request.
func StartTransaction(ext Extender, controls []ldap.Control) ([]byte, *result.Result) {
	res := ext.ProcessExtended(StartTransactionOID, nil, controls)
	if !res.IsSuccess() {
		return nil, &res.Result
	}
	if len(res.Value) == 0 {
		return nil, result.Local(resultcode.DecodingError,
			"the start transaction response did not include a transaction ID")
	}
	return res.Value, &res.Result
}

// EndTransaction commits or aborts the transaction. The request value is
// the txnEndReq sequence; the commit flag defaults to TRUE on the wire and
// is only encoded when aborting.
func EndTransaction(ext Extender, txnID []byte, commit bool) *result.Result {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "txnEndReq")
	if !commit {
		seq.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
			false, "Commit"))
	}
	id := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Transaction ID")
	id.Value = txnID
	id.Data.Write(txnID)
	seq.AppendChild(id)

	res := ext.ProcessExtended(EndTransactionOID, seq.Bytes(), nil)
	return &res.Result
}
