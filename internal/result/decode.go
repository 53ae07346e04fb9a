package result

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"

	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// BER tags used by the LDAPResult protocol op and the message-level
// controls sequence (RFC 4511 §4.1.1, §4.1.9).
const (
	tagReferralURLs ber.Tag = 3 // [0xA3]
	tagControls     ber.Tag = 0 // [0xA0]
)

// Decode interprets an LDAPResult protocol op, plus the optional
// message-level controls packet (tag 0xA0), into a Result. Decoding is
// side-effect-free on failure: either a fully-populated Result is returned,
// or a decoding error naming the cause.
func Decode(messageID int, protocolOp, controls *ber.Packet) (*Result, error) {
	if protocolOp == nil || len(protocolOp.Children) < 3 {
		return nil, decodeErrorf("result sequence has %d elements, need at least 3",
			childCount(protocolOp))
	}

	code, err := decodeEnumerated(protocolOp.Children[0])
	if err != nil {
		return nil, decodeErrorf("result code: %v", err)
	}

	matchedDN, err := decodeString(protocolOp.Children[1])
	if err != nil {
		return nil, decodeErrorf("matched DN: %v", err)
	}

	diagnostic, err := decodeString(protocolOp.Children[2])
	if err != nil {
		return nil, decodeErrorf("diagnostic message: %v", err)
	}

	referrals := []string{}
	for _, extra := range protocolOp.Children[3:] {
		if extra.ClassType != ber.ClassContext {
			return nil, decodeErrorf("unexpected element of type %#x in result sequence",
				int(extra.ClassType)|int(extra.Tag))
		}
		if extra.Tag != tagReferralURLs {
			// Subtype-specific field (server SASL credentials, extended
			// response name or value); interpreted by the caller.
			continue
		}
		for _, child := range extra.Children {
			url, err := decodeString(child)
			if err != nil {
				return nil, decodeErrorf("referral URL: %v", err)
			}
			referrals = append(referrals, url)
		}
	}

	decodedControls := []Control{}
	if controls != nil {
		if controls.ClassType != ber.ClassContext || controls.Tag != tagControls {
			return nil, decodeErrorf("unexpected controls element of type %#x",
				int(controls.ClassType)|int(controls.Tag))
		}
		for _, child := range controls.Children {
			c, err := decodeControl(child)
			if err != nil {
				return nil, err
			}
			decodedControls = append(decodedControls, c)
		}
	}

	return New(messageID, resultcode.Code(code), matchedDN, diagnostic,
		referrals, decodedControls), nil
}

// DecodeBytes decodes a raw BER-encoded LDAPResult sequence, without any
// trailing controls. Used for results nested inside extended-operation
// response values.
func DecodeBytes(messageID int, data []byte) (*Result, error) {
	packet, err := ber.DecodePacketErr(data)
	if err != nil {
		return nil, decodeErrorf("malformed result sequence: %v", err)
	}
	return Decode(messageID, packet, nil)
}

// Encode produces the protocol-op packet for the result. Encoding a decoded
// result reproduces the referral and control arrays byte-identically.
func (r *Result) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPResult")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
		int64(r.Code), "Result Code"))
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		r.MatchedDN, "Matched DN"))
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		r.DiagnosticMessage, "Diagnostic Message"))
	if len(r.ReferralURLs) > 0 {
		refs := ber.Encode(ber.ClassContext, ber.TypeConstructed, tagReferralURLs, nil, "Referral URLs")
		for _, url := range r.ReferralURLs {
			refs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive,
				ber.TagOctetString, url, "Referral URL"))
		}
		seq.AppendChild(refs)
	}
	return seq
}

// EncodeControls produces the message-level controls packet, or nil when
// the result carries no response controls.
func (r *Result) EncodeControls() *ber.Packet {
	if len(r.Controls) == 0 {
		return nil
	}
	seq := ber.Encode(ber.ClassContext, ber.TypeConstructed, tagControls, nil, "Controls")
	for _, c := range r.Controls {
		ctrl := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
		ctrl.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive,
			ber.TagOctetString, c.OID, "Control OID"))
		if c.Critical {
			ctrl.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive,
				ber.TagBoolean, true, "Criticality"))
		}
		if c.HasValue {
			ctrl.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive,
				ber.TagOctetString, string(c.Value), "Control Value"))
		}
		seq.AppendChild(ctrl)
	}
	return seq
}

func decodeControl(packet *ber.Packet) (Control, error) {
	if len(packet.Children) == 0 {
		return Control{}, decodeErrorf("control sequence is empty")
	}
	oid, err := decodeString(packet.Children[0])
	if err != nil {
		return Control{}, decodeErrorf("control OID: %v", err)
	}
	c := Control{OID: oid}
	for _, child := range packet.Children[1:] {
		switch child.Tag {
		case ber.TagBoolean:
			critical, ok := child.Value.(bool)
			if !ok {
				return Control{}, decodeErrorf("control criticality is not a boolean")
			}
			c.Critical = critical
		case ber.TagOctetString:
			c.Value = child.Data.Bytes()
			c.HasValue = true
		default:
			return Control{}, decodeErrorf("unexpected element of type %#x in control sequence",
				int(child.Tag))
		}
	}
	return c, nil
}

func decodeEnumerated(packet *ber.Packet) (int64, error) {
	v, ok := packet.Value.(int64)
	if !ok {
		return 0, fmt.Errorf("element of type %#x is not an enumerated value", int(packet.Tag))
	}
	return v, nil
}

func decodeString(packet *ber.Packet) (string, error) {
	if packet.Value == nil {
		return string(packet.Data.Bytes()), nil
	}
	s, ok := packet.Value.(string)
	if !ok {
		return "", fmt.Errorf("element of type %#x is not a string", int(packet.Tag))
	}
	return s, nil
}

func childCount(packet *ber.Packet) int {
	if packet == nil {
		return 0
	}
	return len(packet.Children)
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

// DecodeError reports a malformed server response. The associated result
// code is always DECODING_ERROR.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "unable to decode response: " + e.Message
}

// Code returns the result code for a decode failure.
func (e *DecodeError) Code() resultcode.Code {
	return resultcode.DecodingError
}
