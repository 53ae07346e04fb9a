package engine

import (
	"fmt"
	"unicode"

	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/controls"
	"github.com/kimluther18/ldapmodify/internal/extop"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// outerProxyControls returns the proxied authorization control destined
// for the outer start-transaction or multi-update request. Inner
// operations never carry it in those modes.
func (e *Engine) outerProxyControls() []ldap.Control {
	if e.opts.ProxyAs != "" {
		return []ldap.Control{controls.NewProxiedAuthorizationV2(e.opts.ProxyAs)}
	}
	if e.opts.ProxyV1As != "" {
		return []ldap.Control{controls.NewProxiedAuthorizationV1(e.opts.ProxyV1As)}
	}
	return nil
}

// startTransaction begins the transaction and threads its identifier into
// every modifying control set.
func (e *Engine) startTransaction() (resultcode.Code, bool) {
	txnID, res := extop.StartTransaction(e.dir, e.outerProxyControls())
	if !res.IsSuccess() || txnID == nil {
		e.commentToErr(fmt.Sprintf("Unable to start the transaction: %d (%s)",
			int(res.Code), res.Code.Name()))
		if res.DiagnosticMessage != "" {
			e.commentToErr(res.DiagnosticMessage)
		}
		return res.Code, false
	}

	e.txnID = txnID
	e.sets.addToModifying(controls.NewTransactionSpecification(txnID))
	e.commentToOut(fmt.Sprintf("Successfully started a transaction with ID %s",
		formatTxnID(txnID)))
	return resultcode.Success, true
}

// endTransaction commits or aborts the open transaction and folds its
// result into the final code.
func (e *Engine) endTransaction() {
	res := extop.EndTransaction(e.dir, e.txnID, e.commitTransaction)
	e.displayResult(res)
	e.setFinalOverride(res.Code)
}

// sendMultiUpdate dispatches the buffered requests as one multi-update
// extended request; its result becomes the final code.
func (e *Engine) sendMultiUpdate() {
	behavior, err := extop.ParseErrorBehavior(e.opts.MultiUpdateErrorBehavior)
	if err != nil {
		e.commentToErr(err.Error())
		e.recordFatal(resultcode.ParamError)
		return
	}

	e.commentToOut("Sending the multi-update request to the server.")
	res := extop.MultiUpdate(e.dir, behavior, e.multiUpdate, e.outerProxyControls())
	e.displayResult(&res.Result)
	for _, inner := range res.Results {
		e.displayResult(inner)
	}
	e.setFinalOverride(res.Code)
}

// formatTxnID renders the transaction identifier: printable identifiers
// verbatim, anything else as colon-separated hex.
func formatTxnID(txnID []byte) string {
	printable := true
	for _, b := range txnID {
		if b >= 0x80 || !unicode.IsPrint(rune(b)) {
			printable = false
			break
		}
	}
	if printable {
		return string(txnID)
	}
	out := ""
	for i, b := range txnID {
		if i > 0 {
			out += ":"
		}
		out += fmt.Sprintf("%02x", b)
	}
	return out
}
