// Package ldif reads LDAP change records in the LDIF format (RFC 2849) and
// writes rejected records back out with commented diagnostics.
package ldif

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Record is a single LDIF change record: exactly one of add, delete,
// modify, or modify-DN.
type Record interface {
	// DN returns the distinguished name the record targets.
	DN() string
	// RecordControls returns the controls attached to the record by
	// per-record "control:" lines.
	RecordControls() []ldap.Control
	// LDIF renders the record as unfolded LDIF lines, without a trailing
	// blank line.
	LDIF() []string
}

type recordBase struct {
	dn       string
	controls []ldap.Control
}

func (r recordBase) DN() string                     { return r.dn }
func (r recordBase) RecordControls() []ldap.Control { return r.controls }

// Attribute is a named attribute with one or more values.
type Attribute struct {
	Name   string
	Values []string
}

// BaseName returns the attribute name with any options stripped.
func (a Attribute) BaseName() string {
	if i := strings.IndexByte(a.Name, ';'); i >= 0 {
		return a.Name[:i]
	}
	return a.Name
}

// AddRecord adds a new entry.
type AddRecord struct {
	recordBase
	Attributes []Attribute
}

// NewAddRecord returns an add record for the given entry.
func NewAddRecord(dn string, attributes []Attribute, controls []ldap.Control) *AddRecord {
	return &AddRecord{recordBase{dn, controls}, attributes}
}

// HasAttribute reports whether the entry contains the named attribute,
// ignoring case and attribute options.
func (r *AddRecord) HasAttribute(name string) bool {
	for _, attr := range r.Attributes {
		if strings.EqualFold(attr.BaseName(), name) {
			return true
		}
	}
	return false
}

// LDIF renders the record.
func (r *AddRecord) LDIF() []string {
	lines := []string{encodeLine("dn", r.dn), "changetype: add"}
	for _, attr := range r.Attributes {
		for _, v := range attr.Values {
			lines = append(lines, encodeLine(attr.Name, v))
		}
	}
	return lines
}

// DeleteRecord removes an entry.
type DeleteRecord struct {
	recordBase
}

// NewDeleteRecord returns a delete record for the given DN.
func NewDeleteRecord(dn string, controls []ldap.Control) *DeleteRecord {
	return &DeleteRecord{recordBase{dn, controls}}
}

// LDIF renders the record.
func (r *DeleteRecord) LDIF() []string {
	return []string{encodeLine("dn", r.dn), "changetype: delete"}
}

// ModOp is a modification type within a modify record.
type ModOp int

const (
	ModAdd       ModOp = ldap.AddAttribute
	ModDelete    ModOp = ldap.DeleteAttribute
	ModReplace   ModOp = ldap.ReplaceAttribute
	ModIncrement ModOp = ldap.IncrementAttribute
)

func (op ModOp) String() string {
	switch op {
	case ModAdd:
		return "add"
	case ModDelete:
		return "delete"
	case ModReplace:
		return "replace"
	case ModIncrement:
		return "increment"
	default:
		return fmt.Sprintf("unknown(%d)", int(op))
	}
}

// Mod is one modification within a modify record.
type Mod struct {
	Op        ModOp
	Attribute string
	Values    []string
}

// ModifyRecord applies a sequence of modifications to an entry.
type ModifyRecord struct {
	recordBase
	Mods []Mod
}

// NewModifyRecord returns a modify record.
func NewModifyRecord(dn string, mods []Mod, controls []ldap.Control) *ModifyRecord {
	return &ModifyRecord{recordBase{dn, controls}, mods}
}

// WithDN returns a copy of the record that targets the given DN instead of
// the DN it was read with, preserving the modifications and record
// controls.
func (r *ModifyRecord) WithDN(dn string) *ModifyRecord {
	return &ModifyRecord{recordBase{dn, r.controls}, r.Mods}
}

// HasAttribute reports whether any modification targets the named
// attribute, ignoring case and attribute options.
func (r *ModifyRecord) HasAttribute(name string) bool {
	for _, mod := range r.Mods {
		base := mod.Attribute
		if i := strings.IndexByte(base, ';'); i >= 0 {
			base = base[:i]
		}
		if strings.EqualFold(base, name) {
			return true
		}
	}
	return false
}

// LDIF renders the record.
func (r *ModifyRecord) LDIF() []string {
	lines := []string{encodeLine("dn", r.dn), "changetype: modify"}
	for _, mod := range r.Mods {
		lines = append(lines, fmt.Sprintf("%s: %s", mod.Op, mod.Attribute))
		for _, v := range mod.Values {
			lines = append(lines, encodeLine(mod.Attribute, v))
		}
		lines = append(lines, "-")
	}
	return lines
}

// ModifyDNRecord renames or moves an entry.
type ModifyDNRecord struct {
	recordBase
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string
	HasSuperior  bool
}

// NewModifyDNRecord returns a modify DN record. An empty newSuperior with
// hasSuperior false is a rename in place.
func NewModifyDNRecord(dn, newRDN string, deleteOldRDN bool, newSuperior string,
	hasSuperior bool, controls []ldap.Control) *ModifyDNRecord {
	return &ModifyDNRecord{recordBase{dn, controls}, newRDN, deleteOldRDN, newSuperior, hasSuperior}
}

// NewDN returns the DN the entry will have after the operation, or an error
// when any component does not parse. A malformed DN does not prevent
// dispatch; the server may apply its own handling.
func (r *ModifyDNRecord) NewDN() (string, error) {
	if _, err := ldap.ParseDN(r.NewRDN); err != nil {
		return "", fmt.Errorf("invalid new RDN %q: %w", r.NewRDN, err)
	}
	if r.HasSuperior {
		if _, err := ldap.ParseDN(r.NewSuperior); err != nil {
			return "", fmt.Errorf("invalid new superior DN %q: %w", r.NewSuperior, err)
		}
		if r.NewSuperior == "" {
			return r.NewRDN, nil
		}
		return r.NewRDN + "," + r.NewSuperior, nil
	}
	parsed, err := ldap.ParseDN(r.dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN %q: %w", r.dn, err)
	}
	if len(parsed.RDNs) <= 1 {
		return r.NewRDN, nil
	}
	parent := r.dn[strings.IndexByte(r.dn, ',')+1:]
	return r.NewRDN + "," + strings.TrimSpace(parent), nil
}

// LDIF renders the record.
func (r *ModifyDNRecord) LDIF() []string {
	deleteOld := "0"
	if r.DeleteOldRDN {
		deleteOld = "1"
	}
	lines := []string{
		encodeLine("dn", r.dn),
		"changetype: moddn",
		encodeLine("newrdn", r.NewRDN),
		"deleteoldrdn: " + deleteOld,
	}
	if r.HasSuperior {
		lines = append(lines, encodeLine("newsuperior", r.NewSuperior))
	}
	return lines
}

// encodeLine renders "name: value", base64-encoding the value when it is
// not safe to carry literally (RFC 2849 SAFE-STRING).
func encodeLine(name, value string) string {
	if isSafeString(value) {
		return name + ": " + value
	}
	return name + ":: " + base64.StdEncoding.EncodeToString([]byte(value))
}

func isSafeString(s string) bool {
	if s == "" {
		return true
	}
	switch s[0] {
	case ' ', ':', '<':
		return false
	}
	if s[len(s)-1] == ' ' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' || c == 0 || c >= 0x80 {
			return false
		}
	}
	return true
}
