package ldif

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/controls"
)

// TrailingSpaceBehavior selects how values with unescaped trailing spaces
// are handled.
type TrailingSpaceBehavior int

const (
	// RejectTrailingSpaces fails the record.
	RejectTrailingSpaces TrailingSpaceBehavior = iota
	// StripTrailingSpaces removes the trailing spaces.
	StripTrailingSpaces
	// RetainTrailingSpaces keeps the value as written.
	RetainTrailingSpaces
)

// ParseError describes a malformed record. When Recoverable is true the
// reader consumed the full record and can continue with the next one;
// when false the stream structure itself is broken and the reader can no
// longer locate record boundaries.
type ParseError struct {
	Line        int
	Message     string
	DataLines   []string
	Recoverable bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// MayContinueReading reports whether the reader is positioned to produce
// further records after this error.
func (e *ParseError) MayContinueReading() bool { return e.Recoverable }

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// DefaultAdd treats records without a changetype as add records.
	DefaultAdd bool
	// TrailingSpaces selects the trailing-space behavior. The zero value
	// rejects unescaped trailing spaces.
	TrailingSpaces TrailingSpaceBehavior
	// CharacterSet names the input character set. Only UTF-8 (and its
	// aliases) is supported.
	CharacterSet string
}

// SupportedCharacterSet reports whether the named character set can be
// read. The reader operates on UTF-8 input.
func SupportedCharacterSet(name string) bool {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return true
	}
	return false
}

// Reader produces change records from an LDIF stream, lazily, one record
// per call.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	lineNo  int
	sawEOF  bool
	started bool
}

// NewReader returns a Reader over the given stream.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{r: bufio.NewReader(r), opts: opts}
}

// line is one logical (unfolded) LDIF line.
type line struct {
	text string
	num  int
}

// ReadChangeRecord returns the next change record. It returns (nil, io.EOF)
// at end of stream. A *ParseError is returned for malformed records; any
// other error is an I/O failure.
func (r *Reader) ReadChangeRecord() (Record, error) {
	lines, err := r.readParagraph()
	if err != nil {
		return nil, err
	}

	if !r.started {
		r.started = true
		if strings.HasPrefix(lines[0].text, "version:") {
			lines = lines[1:]
			if len(lines) == 0 {
				return r.ReadChangeRecord()
			}
		}
	}

	return r.parseRecord(lines)
}

// readParagraph collects the logical lines of the next record, unfolding
// continuations and dropping comments.
func (r *Reader) readParagraph() ([]line, error) {
	var lines []line
	for {
		raw, err := r.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		atEOF := err == io.EOF
		if raw != "" {
			r.lineNo++
		}
		text := strings.TrimRight(raw, "\r\n")

		switch {
		case text == "":
			if len(lines) > 0 {
				return lines, nil
			}
		case strings.HasPrefix(text, " "):
			if len(lines) == 0 {
				// With no line to continue, the record boundary is lost;
				// reading on would misattribute the following lines.
				return nil, &ParseError{Line: r.lineNo, Recoverable: false,
					Message: "continuation line with no preceding line"}
			}
			lines[len(lines)-1].text += text[1:]
		case strings.HasPrefix(text, "#"):
			// Comment; continuations of a comment are dropped with it.
			if err := r.skipCommentContinuation(); err != nil {
				return nil, err
			}
		default:
			lines = append(lines, line{text: text, num: r.lineNo})
		}

		if atEOF {
			if len(lines) > 0 {
				return lines, nil
			}
			return nil, io.EOF
		}
	}
}

func (r *Reader) skipCommentContinuation() error {
	for {
		peek, err := r.r.Peek(1)
		if err != nil || peek[0] != ' ' {
			return nil
		}
		if _, err := r.r.ReadString('\n'); err != nil && err != io.EOF {
			return err
		}
		r.lineNo++
	}
}

func (r *Reader) parseRecord(lines []line) (Record, error) {
	name, dn, err := r.parseAttrLine(lines[0])
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(name, "dn") {
		return nil, r.recordError(lines, lines[0].num,
			fmt.Sprintf("record does not start with a DN line (found %q)", name))
	}
	rest := lines[1:]

	var recordControls []ldap.Control
	for len(rest) > 0 {
		n, v, err := r.parseAttrLine(rest[0])
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(n, "control") {
			break
		}
		ctrl, err := parseControlLine(v)
		if err != nil {
			return nil, r.recordError(lines, rest[0].num, err.Error())
		}
		recordControls = append(recordControls, ctrl)
		rest = rest[1:]
	}

	changeType := ""
	if len(rest) > 0 {
		n, v, err := r.parseAttrLine(rest[0])
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(n, "changetype") {
			changeType = strings.ToLower(strings.TrimSpace(v))
			rest = rest[1:]
		}
	}
	if changeType == "" {
		if !r.opts.DefaultAdd {
			return nil, r.recordError(lines, lines[0].num,
				fmt.Sprintf("record for %q has no changetype", dn))
		}
		changeType = "add"
	}

	switch changeType {
	case "add":
		return r.parseAdd(dn, recordControls, lines, rest)
	case "delete":
		if len(rest) != 0 {
			return nil, r.recordError(lines, rest[0].num,
				"delete record has content after the changetype")
		}
		return NewDeleteRecord(dn, recordControls), nil
	case "modify":
		return r.parseModify(dn, recordControls, lines, rest)
	case "moddn", "modrdn":
		return r.parseModifyDN(dn, recordControls, lines, rest)
	default:
		return nil, r.recordError(lines, lines[0].num,
			fmt.Sprintf("unsupported changetype %q", changeType))
	}
}

func (r *Reader) parseAdd(dn string, ctrls []ldap.Control, all []line, body []line) (Record, error) {
	if len(body) == 0 {
		return nil, r.recordError(all, all[0].num,
			fmt.Sprintf("add record for %q has no attributes", dn))
	}
	var attrs []Attribute
	for _, ln := range body {
		name, value, err := r.parseAttrLine(ln)
		if err != nil {
			return nil, err
		}
		if len(attrs) > 0 && attrs[len(attrs)-1].Name == name {
			attrs[len(attrs)-1].Values = append(attrs[len(attrs)-1].Values, value)
			continue
		}
		attrs = append(attrs, Attribute{Name: name, Values: []string{value}})
	}
	return NewAddRecord(dn, attrs, ctrls), nil
}

func (r *Reader) parseModify(dn string, ctrls []ldap.Control, all []line, body []line) (Record, error) {
	var mods []Mod
	i := 0
	for i < len(body) {
		opName, attr, err := r.parseAttrLine(body[i])
		if err != nil {
			return nil, err
		}
		var op ModOp
		switch strings.ToLower(opName) {
		case "add":
			op = ModAdd
		case "delete":
			op = ModDelete
		case "replace":
			op = ModReplace
		case "increment":
			op = ModIncrement
		default:
			return nil, r.recordError(all, body[i].num,
				fmt.Sprintf("expected a modification type, found %q", opName))
		}
		attr = strings.TrimSpace(attr)
		mod := Mod{Op: op, Attribute: attr}
		i++
		for i < len(body) && body[i].text != "-" {
			name, value, err := r.parseAttrLine(body[i])
			if err != nil {
				return nil, err
			}
			if !strings.EqualFold(name, attr) {
				return nil, r.recordError(all, body[i].num,
					fmt.Sprintf("modification of %q contains a value for %q", attr, name))
			}
			mod.Values = append(mod.Values, value)
			i++
		}
		if i < len(body) {
			i++ // consume the "-" separator
		}
		mods = append(mods, mod)
	}
	return NewModifyRecord(dn, mods, ctrls), nil
}

func (r *Reader) parseModifyDN(dn string, ctrls []ldap.Control, all []line, body []line) (Record, error) {
	if len(body) < 2 {
		return nil, r.recordError(all, all[0].num,
			fmt.Sprintf("modify DN record for %q is missing newrdn or deleteoldrdn", dn))
	}

	name, newRDN, err := r.parseAttrLine(body[0])
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(name, "newrdn") {
		return nil, r.recordError(all, body[0].num,
			fmt.Sprintf("expected newrdn, found %q", name))
	}

	name, deleteOldValue, err := r.parseAttrLine(body[1])
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(name, "deleteoldrdn") {
		return nil, r.recordError(all, body[1].num,
			fmt.Sprintf("expected deleteoldrdn, found %q", name))
	}
	var deleteOld bool
	switch strings.ToLower(strings.TrimSpace(deleteOldValue)) {
	case "1", "true":
		deleteOld = true
	case "0", "false":
		deleteOld = false
	default:
		return nil, r.recordError(all, body[1].num,
			fmt.Sprintf("deleteoldrdn value %q is not 0 or 1", deleteOldValue))
	}

	newSuperior := ""
	hasSuperior := false
	if len(body) > 2 {
		name, newSuperior, err = r.parseAttrLine(body[2])
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(name, "newsuperior") {
			return nil, r.recordError(all, body[2].num,
				fmt.Sprintf("expected newsuperior, found %q", name))
		}
		hasSuperior = true
		if len(body) > 3 {
			return nil, r.recordError(all, body[3].num,
				"modify DN record has content after newsuperior")
		}
	}

	return NewModifyDNRecord(dn, newRDN, deleteOld, newSuperior, hasSuperior, ctrls), nil
}

// parseAttrLine splits "name: value", handling base64 ("::") and URL ("<")
// value forms and the configured trailing-space behavior.
func (r *Reader) parseAttrLine(ln line) (string, string, error) {
	colon := strings.IndexByte(ln.text, ':')
	if colon < 1 {
		return "", "", &ParseError{Line: ln.num, Recoverable: true,
			Message: fmt.Sprintf("line %q has no attribute separator", ln.text)}
	}
	name := ln.text[:colon]
	rest := ln.text[colon+1:]

	switch {
	case strings.HasPrefix(rest, ":"):
		encoded := strings.TrimLeft(rest[1:], " ")
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", "", &ParseError{Line: ln.num, Recoverable: true,
				Message: fmt.Sprintf("value of %q is not valid base64: %v", name, err)}
		}
		return name, string(decoded), nil
	case strings.HasPrefix(rest, "<"):
		ref := strings.TrimLeft(rest[1:], " ")
		value, err := readValueURL(ref)
		if err != nil {
			return "", "", &ParseError{Line: ln.num, Recoverable: true,
				Message: fmt.Sprintf("cannot read value of %q from %q: %v", name, ref, err)}
		}
		return name, value, nil
	default:
		value := strings.TrimLeft(rest, " ")
		if strings.HasSuffix(value, " ") {
			switch r.opts.TrailingSpaces {
			case StripTrailingSpaces:
				value = strings.TrimRight(value, " ")
			case RetainTrailingSpaces:
			default:
				return "", "", &ParseError{Line: ln.num, Recoverable: true,
					Message: fmt.Sprintf("value of %q has unescaped trailing spaces", name)}
			}
		}
		return name, value, nil
	}
}

func readValueURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseControlLine interprets a per-record control line:
// "oid [true|false] [: value | :: base64value]".
func parseControlLine(value string) (ldap.Control, error) {
	value = strings.TrimSpace(value)
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, fmt.Errorf("control line is empty")
	}

	// Rewrite the whitespace syntax into the colon syntax understood by
	// the generic parser.
	oid := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(value, oid))
	criticality := "false"
	if strings.HasPrefix(rest, "true") {
		criticality = "true"
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "true"))
	} else if strings.HasPrefix(rest, "false") {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "false"))
	}
	spec := oid + ":" + criticality
	if rest != "" {
		if !strings.HasPrefix(rest, ":") {
			return nil, fmt.Errorf("control line %q has an invalid value form", value)
		}
		spec += rest
	}
	return controls.ParseGeneric(spec)
}

func (r *Reader) recordError(lines []line, at int, message string) *ParseError {
	data := make([]string, 0, len(lines))
	for _, ln := range lines {
		data = append(data, ln.text)
	}
	return &ParseError{Line: at, Message: message, DataLines: data, Recoverable: true}
}
