package engine

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/controls"
	"github.com/kimluther18/ldapmodify/internal/ldif"
)

// Attributes with conditional control handling.
const (
	attrUserPassword   = "userPassword"
	attrAuthPassword   = "authPassword"
	attrUndeleteFromDN = "ds-undelete-from-dn"
)

// composeAdd builds the add request for the record: record-level controls,
// then the globally-configured add controls, then the conditional controls
// derived from the entry's content.
func (e *Engine) composeAdd(rec *ldif.AddRecord) *ldap.AddRequest {
	req := ldap.NewAddRequest(rec.DN(), e.requestControls(rec, e.sets.add))
	for _, attr := range rec.Attributes {
		req.Attribute(attr.Name, attr.Values)
	}

	if e.opts.AllowUndelete && rec.HasAttribute(attrUndeleteFromDN) {
		req.Controls = append(req.Controls, controls.NewUndelete())
	}
	if e.opts.PasswordValidationDetails &&
		(rec.HasAttribute(attrUserPassword) || rec.HasAttribute(attrAuthPassword)) {
		req.Controls = append(req.Controls, controls.NewPasswordValidationDetails())
	}
	return req
}

// composeDelete builds the delete request for the record.
func (e *Engine) composeDelete(rec *ldif.DeleteRecord) *ldap.DelRequest {
	return ldap.NewDelRequest(rec.DN(), e.requestControls(rec, e.sets.del))
}

// composeModify builds the modify request for the record, attaching the
// password-change controls when a modification targets a password
// attribute.
func (e *Engine) composeModify(rec *ldif.ModifyRecord) *ldap.ModifyRequest {
	req := ldap.NewModifyRequest(rec.DN(), e.requestControls(rec, e.sets.modify))
	for _, mod := range rec.Mods {
		req.Changes = append(req.Changes, ldap.Change{
			Operation:    uint(mod.Op),
			Modification: ldap.PartialAttribute{Type: mod.Attribute, Vals: mod.Values},
		})
	}

	if e.opts.RetireCurrentPassword || e.opts.PurgeCurrentPassword ||
		e.opts.PasswordValidationDetails {
		if rec.HasAttribute(attrUserPassword) || rec.HasAttribute(attrAuthPassword) {
			if e.opts.RetireCurrentPassword {
				req.Controls = append(req.Controls, controls.NewRetirePassword())
			} else if e.opts.PurgeCurrentPassword {
				req.Controls = append(req.Controls, controls.NewPurgePassword())
			}
			if e.opts.PasswordValidationDetails {
				req.Controls = append(req.Controls, controls.NewPasswordValidationDetails())
			}
		}
	}
	return req
}

// composeModifyDN builds the modify DN request for the record.
func (e *Engine) composeModifyDN(rec *ldif.ModifyDNRecord) *ldap.ModifyDNRequest {
	return ldap.NewModifyDNWithControlsRequest(rec.DN(), rec.NewRDN, rec.DeleteOldRDN,
		rec.NewSuperior, e.requestControls(rec, e.sets.modifyDN))
}

// requestControls concatenates the record's own controls with the global
// set for the operation type, preserving insertion order.
func (e *Engine) requestControls(rec ldif.Record, global []ldap.Control) []ldap.Control {
	record := rec.RecordControls()
	if len(record) == 0 && len(global) == 0 {
		return nil
	}
	out := make([]ldap.Control, 0, len(record)+len(global))
	out = append(out, record...)
	out = append(out, global...)
	return out
}
