// Package result provides the immutable value describing a directory server
// response, its wire-level decoding, and the textual rendering used on the
// output and reject channels.
package result

import (
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// NoMessageID is the sentinel used when a result was produced locally and is
// not bound to any LDAP message.
const NoMessageID = -1

// Control is a response control as carried on the wire: an OID, a
// criticality flag, and an optional opaque value.
type Control struct {
	OID      string
	Critical bool
	Value    []byte
	HasValue bool
}

// Result describes a single server response. Values are immutable once
// built and may be shared freely between goroutines.
type Result struct {
	MessageID         int
	Code              resultcode.Code
	MatchedDN         string
	DiagnosticMessage string
	ReferralURLs      []string
	Controls          []Control
}

// New returns a Result with the referral and control slices normalized to
// empty (never nil) and empty string fields treated as absent.
func New(messageID int, code resultcode.Code, matchedDN, diagnostic string,
	referrals []string, controls []Control) *Result {

	if referrals == nil {
		referrals = []string{}
	}
	if controls == nil {
		controls = []Control{}
	}
	return &Result{
		MessageID:         messageID,
		Code:              code,
		MatchedDN:         matchedDN,
		DiagnosticMessage: diagnostic,
		ReferralURLs:      referrals,
		Controls:          controls,
	}
}

// Success returns a locally-generated success result.
func Success() *Result {
	return New(NoMessageID, resultcode.Success, "", "", nil, nil)
}

// Local returns a locally-generated result with the given code and
// diagnostic message.
func Local(code resultcode.Code, diagnostic string) *Result {
	return New(NoMessageID, code, "", diagnostic, nil, nil)
}

// HasResponseControl reports whether the result carries a response control
// with the given OID.
func (r *Result) HasResponseControl(oid string) bool {
	return r.ResponseControl(oid) != nil
}

// ResponseControl returns the first response control with the given OID in
// insertion order, or nil.
func (r *Result) ResponseControl(oid string) *Control {
	for i := range r.Controls {
		if r.Controls[i].OID == oid {
			return &r.Controls[i]
		}
	}
	return nil
}

// IsSuccess reports whether the result should be treated as successful by
// the change-application engine.
func (r *Result) IsSuccess() bool {
	return r.Code == resultcode.Success || r.Code == resultcode.NoOperation
}
