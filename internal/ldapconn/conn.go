// Package ldapconn implements the synchronous LDAP connection the tool
// dispatches through. The tool applies one operation at a time, so the
// connection reads responses inline rather than demultiplexing them on a
// separate goroutine; unsolicited notifications and intermediate responses
// encountered while awaiting a response are surfaced through handlers.
package ldapconn

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// LDAP protocol op application tags (RFC 4511 §4).
const (
	appBindRequest      ber.Tag = 0
	appBindResponse     ber.Tag = 1
	appUnbindRequest    ber.Tag = 2
	appSearchRequest    ber.Tag = 3
	appSearchEntry      ber.Tag = 4
	appSearchDone       ber.Tag = 5
	appModifyRequest    ber.Tag = 6
	appModifyResponse   ber.Tag = 7
	appAddRequest       ber.Tag = 8
	appAddResponse      ber.Tag = 9
	appDelRequest       ber.Tag = 10
	appDelResponse      ber.Tag = 11
	appModifyDNRequest  ber.Tag = 12
	appModifyDNResponse ber.Tag = 13
	appSearchReference  ber.Tag = 19
	appExtendedRequest  ber.Tag = 23
	appExtendedResponse ber.Tag = 24
	appIntermediate     ber.Tag = 25
)

// Extended response and intermediate response field tags.
const (
	tagExtendedName      ber.Tag = 10
	tagExtendedValue     ber.Tag = 11
	tagIntermediateName  ber.Tag = 0
	tagIntermediateValue ber.Tag = 1
)

// UnsolicitedHandler receives notifications the server sends outside any
// operation.
type UnsolicitedHandler func(oid string, res *result.Extended)

// IntermediateHandler receives intermediate responses observed while
// awaiting an operation's final result.
type IntermediateHandler func(oid string, value []byte)

// Config describes how to establish and secure a connection.
type Config struct {
	UseTLS    bool
	StartTLS  bool
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Conn is a single synchronous LDAP connection.
type Conn struct {
	nc           net.Conn
	br           *bufio.Reader
	nextID       int64
	timeout      time.Duration
	unsolicited  UnsolicitedHandler
	intermediate IntermediateHandler
	closed       bool
}

// Dial connects to server ("host:port") and performs the configured TLS
// negotiation.
func Dial(server string, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	var nc net.Conn
	var err error
	if cfg.UseTLS {
		nc, err = tls.DialWithDialer(dialer, "tcp", server, cfg.TLSConfig)
	} else {
		nc, err = dialer.Dial("tcp", server)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", server, err)
	}

	c := NewConn(nc, cfg.Timeout)
	if !cfg.UseTLS && cfg.StartTLS {
		if err := c.startTLS(cfg.TLSConfig); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewConn returns a Conn using nc for network I/O.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{nc: nc, br: bufio.NewReader(nc), nextID: 1, timeout: timeout}
}

// SetUnsolicitedHandler registers the receiver for unsolicited
// notifications.
func (c *Conn) SetUnsolicitedHandler(h UnsolicitedHandler) { c.unsolicited = h }

// SetIntermediateHandler registers the receiver for intermediate
// responses.
func (c *Conn) SetIntermediateHandler(h IntermediateHandler) { c.intermediate = h }

// Bind performs a simple bind with optional request controls.
func (c *Conn) Bind(dn, password string, controls []ldap.Control) *result.Result {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appBindRequest, nil, "Bind Request")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger,
		int64(3), "Version"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		dn, "Bind DN"))
	password0 := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "Password")
	password0.Data.Write([]byte(password))
	op.AppendChild(password0)

	res, _, err := c.exchange(op, controls, appBindResponse)
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// Add dispatches an add request.
func (c *Conn) Add(req *ldap.AddRequest) *result.Result {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appAddRequest, nil, "Add Request")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		req.DN, "DN"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, attr := range req.Attributes {
		attrs.AppendChild(encodeAttribute(attr.Type, attr.Vals))
	}
	op.AppendChild(attrs)

	res, _, err := c.exchange(op, req.Controls, appAddResponse)
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// Delete dispatches a delete request.
func (c *Conn) Delete(req *ldap.DelRequest) *result.Result {
	op := ber.Encode(ber.ClassApplication, ber.TypePrimitive, appDelRequest, nil, "Delete Request")
	op.Data.Write([]byte(req.DN))

	res, _, err := c.exchange(op, req.Controls, appDelResponse)
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// Modify dispatches a modify request.
func (c *Conn) Modify(req *ldap.ModifyRequest) *result.Result {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appModifyRequest, nil, "Modify Request")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		req.DN, "DN"))
	changes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Changes")
	for _, change := range req.Changes {
		seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Change")
		seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
			int64(change.Operation), "Operation"))
		seq.AppendChild(encodeAttribute(change.Modification.Type, change.Modification.Vals))
		changes.AppendChild(seq)
	}
	op.AppendChild(changes)

	res, _, err := c.exchange(op, req.Controls, appModifyResponse)
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// ModifyDN dispatches a modify DN request.
func (c *Conn) ModifyDN(req *ldap.ModifyDNRequest) *result.Result {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appModifyDNRequest, nil, "Modify DN Request")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		req.DN, "DN"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		req.NewRDN, "New RDN"))
	op.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
		req.DeleteOldRDN, "Delete Old RDN"))
	if req.NewSuperior != "" {
		newSup := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "New Superior")
		newSup.Data.Write([]byte(req.NewSuperior))
		op.AppendChild(newSup)
	}

	res, _, err := c.exchange(op, req.Controls, appModifyDNResponse)
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// SearchDNs dispatches a search and invokes onEntry with the DN of every
// entry as it arrives. The final search result is returned; entries
// delivered before a failure have already been handed to onEntry.
func (c *Conn) SearchDNs(req *ldap.SearchRequest, onEntry func(dn string)) *result.Result {
	filter, err := ldap.CompileFilter(req.Filter)
	if err != nil {
		return result.Local(resultcode.FilterError,
			fmt.Sprintf("unable to compile filter %q: %v", req.Filter, err))
	}

	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appSearchRequest, nil, "Search Request")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		req.BaseDN, "Base DN"))
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
		int64(req.Scope), "Scope"))
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
		int64(req.DerefAliases), "Deref Aliases"))
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger,
		int64(req.SizeLimit), "Size Limit"))
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger,
		int64(req.TimeLimit), "Time Limit"))
	op.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
		req.TypesOnly, "Types Only"))
	op.AppendChild(filter)
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, attr := range req.Attributes {
		attrs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
			attr, "Attribute"))
	}
	op.AppendChild(attrs)

	msgID, err := c.send(op, req.Controls)
	if err != nil {
		return result.FromError(err)
	}

	for {
		protocolOp, controls, err := c.await(msgID)
		if err != nil {
			return result.FromError(err)
		}
		switch protocolOp.Tag {
		case appSearchEntry:
			if len(protocolOp.Children) < 1 {
				return result.Local(resultcode.DecodingError, "search entry has no DN")
			}
			onEntry(string(protocolOp.Children[0].Data.Bytes()))
		case appSearchReference:
			// Referrals within the result set are not chased.
		case appSearchDone:
			res, err := result.Decode(msgID, protocolOp, controls)
			if err != nil {
				return result.FromError(err)
			}
			return res
		default:
			return result.Local(resultcode.DecodingError,
				fmt.Sprintf("unexpected protocol op with tag %d in search response", protocolOp.Tag))
		}
	}
}

// Extended dispatches an extended request with optional request controls.
func (c *Conn) Extended(name string, value []byte, controls []ldap.Control) *result.Extended {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, appExtendedRequest, nil, "Extended Request")
	reqName := ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, nil, "Request Name")
	reqName.Data.Write([]byte(name))
	op.AppendChild(reqName)
	if value != nil {
		reqValue := ber.Encode(ber.ClassContext, ber.TypePrimitive, 1, nil, "Request Value")
		reqValue.Data.Write(value)
		op.AppendChild(reqValue)
	}

	res, protocolOp, err := c.exchange(op, controls, appExtendedResponse)
	if err != nil {
		return result.LocalExtended(result.FromError(err))
	}

	oid := ""
	var respValue []byte
	for _, child := range protocolOp.Children {
		if child.ClassType != ber.ClassContext {
			continue
		}
		switch child.Tag {
		case tagExtendedName:
			oid = string(child.Data.Bytes())
		case tagExtendedValue:
			respValue = child.Data.Bytes()
		}
	}
	return result.NewExtended(res, oid, respValue)
}

// Close sends an unbind request and closes the connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	op := ber.Encode(ber.ClassApplication, ber.TypePrimitive, appUnbindRequest, nil, "Unbind Request")
	_, _ = c.send(op, nil)
	return c.nc.Close()
}

// exchange sends the request and awaits the single response with the
// expected tag, returning the decoded result and the raw protocol op.
func (c *Conn) exchange(op *ber.Packet, controls []ldap.Control, wantTag ber.Tag) (*result.Result, *ber.Packet, error) {
	msgID, err := c.send(op, controls)
	if err != nil {
		return nil, nil, err
	}
	protocolOp, responseControls, err := c.await(msgID)
	if err != nil {
		return nil, nil, err
	}
	if protocolOp.Tag != wantTag {
		return nil, nil, &result.DecodeError{Message: fmt.Sprintf(
			"expected a protocol op with tag %d, got %d", wantTag, protocolOp.Tag)}
	}
	res, err := result.Decode(msgID, protocolOp, responseControls)
	if err != nil {
		return nil, nil, err
	}
	return res, protocolOp, nil
}

// send writes one LDAPMessage carrying the protocol op and controls.
func (c *Conn) send(op *ber.Packet, controls []ldap.Control) (int, error) {
	msgID := c.nextID
	c.nextID++

	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Message")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger,
		msgID, "Message ID"))
	envelope.AppendChild(op)
	if len(controls) > 0 {
		packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
		for _, control := range controls {
			packet.AppendChild(control.Encode())
		}
		envelope.AppendChild(packet)
	}

	if c.timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	if _, err := c.nc.Write(envelope.Bytes()); err != nil {
		return 0, fmt.Errorf("unable to send the request: %w", err)
	}
	return int(msgID), nil
}

// await reads messages until one addressed to msgID arrives, dispatching
// unsolicited notifications and intermediate responses along the way. It
// returns the protocol op and the optional message-level controls packet.
func (c *Conn) await(msgID int) (*ber.Packet, *ber.Packet, error) {
	for {
		if c.timeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
				return nil, nil, err
			}
		}
		envelope, err := ber.ReadPacket(c.br)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to read a response: %w", err)
		}
		if len(envelope.Children) < 2 {
			return nil, nil, &result.DecodeError{Message: "response message has no protocol op"}
		}
		id, ok := envelope.Children[0].Value.(int64)
		if !ok {
			return nil, nil, &result.DecodeError{Message: "response message ID is not an integer"}
		}
		protocolOp := envelope.Children[1]
		var controls *ber.Packet
		if len(envelope.Children) > 2 {
			controls = envelope.Children[2]
		}

		switch {
		case id == 0:
			c.handleUnsolicited(protocolOp, controls)
		case int(id) != msgID:
			return nil, nil, &result.DecodeError{Message: fmt.Sprintf(
				"response for message %d while awaiting message %d", id, msgID)}
		case protocolOp.Tag == appIntermediate:
			c.handleIntermediate(protocolOp)
		default:
			return protocolOp, controls, nil
		}
	}
}

func (c *Conn) handleUnsolicited(protocolOp, controls *ber.Packet) {
	if c.unsolicited == nil || protocolOp.Tag != appExtendedResponse {
		return
	}
	res, err := result.Decode(0, protocolOp, controls)
	if err != nil {
		return
	}
	oid := ""
	var value []byte
	for _, child := range protocolOp.Children {
		if child.ClassType != ber.ClassContext {
			continue
		}
		switch child.Tag {
		case tagExtendedName:
			oid = string(child.Data.Bytes())
		case tagExtendedValue:
			value = child.Data.Bytes()
		}
	}
	c.unsolicited(oid, result.NewExtended(res, oid, value))
}

func (c *Conn) handleIntermediate(protocolOp *ber.Packet) {
	if c.intermediate == nil {
		return
	}
	oid := ""
	var value []byte
	for _, child := range protocolOp.Children {
		if child.ClassType != ber.ClassContext {
			continue
		}
		switch child.Tag {
		case tagIntermediateName:
			oid = string(child.Data.Bytes())
		case tagIntermediateValue:
			value = child.Data.Bytes()
		}
	}
	c.intermediate(oid, value)
}

// startTLS negotiates TLS on an established connection via the StartTLS
// extended operation (RFC 4511 §4.14).
func (c *Conn) startTLS(cfg *tls.Config) error {
	res := c.Extended("1.3.6.1.4.1.1466.20037", nil, nil)
	if !res.IsSuccess() {
		return fmt.Errorf("StartTLS was refused: %s", result.FormatTrailer(&res.Result))
	}
	tlsConn := tls.Client(c.nc, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	c.nc = tlsConn
	c.br = bufio.NewReader(tlsConn)
	return nil
}

func encodeAttribute(attrType string, vals []string) *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attribute")
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		attrType, "Type"))
	set := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Values")
	for _, v := range vals {
		value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Value")
		value.Data.Write([]byte(v))
		set.AppendChild(value)
	}
	seq.AppendChild(set)
	return seq
}
