package result

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// StreamProxyValuesOID identifies the stream-proxy-values intermediate
// response returned by proxying directory servers while streaming attribute
// values or entry DNs to backend sets.
const StreamProxyValuesOID = "1.3.6.1.4.1.30221.2.6.9"

// Stream-proxy-values result values.
const (
	StreamProxyAllValuesReturned   = 0
	StreamProxyMoreValuesToReturn  = 1
	StreamProxyAttributeNotIndexed = 2
	StreamProxyProcessingError     = 3
)

// Value sequence tags.
const (
	tagStreamProxyAttributeName     ber.Tag = 0 // [0x80]
	tagStreamProxyResult            ber.Tag = 1 // [0x81]
	tagStreamProxyDiagnosticMessage ber.Tag = 2 // [0x82]
	tagStreamProxyValues            ber.Tag = 4 // [0xA4]
)

// BackendSetValue is a single value relayed in a stream-proxy-values
// intermediate response: the backend set it belongs to and the raw value.
type BackendSetValue struct {
	BackendSetID []byte
	Value        []byte
}

// StreamProxyValues is the decoded form of a stream-proxy-values
// intermediate response payload.
type StreamProxyValues struct {
	AttributeName     string
	Result            int
	DiagnosticMessage string
	Values            []BackendSetValue
}

// DecodeStreamProxyValues decodes the value of a stream-proxy-values
// intermediate response.
func DecodeStreamProxyValues(value []byte) (*StreamProxyValues, error) {
	if len(value) == 0 {
		return nil, decodeErrorf("stream-proxy-values response has no value")
	}
	packet, err := ber.DecodePacketErr(value)
	if err != nil {
		return nil, decodeErrorf("malformed stream-proxy-values value: %v", err)
	}

	r := &StreamProxyValues{Result: -1, Values: []BackendSetValue{}}
	for _, child := range packet.Children {
		switch child.Tag {
		case tagStreamProxyAttributeName:
			r.AttributeName = string(child.Data.Bytes())
		case tagStreamProxyResult:
			v, err := ber.ParseInt64(child.Data.Bytes())
			if err != nil {
				return nil, decodeErrorf("stream-proxy-values result: %v", err)
			}
			r.Result = int(v)
		case tagStreamProxyDiagnosticMessage:
			r.DiagnosticMessage = string(child.Data.Bytes())
		case tagStreamProxyValues:
			for _, valueSeq := range child.Children {
				if len(valueSeq.Children) != 2 {
					return nil, decodeErrorf("stream-proxy-values backend set value has %d elements, need 2",
						len(valueSeq.Children))
				}
				r.Values = append(r.Values, BackendSetValue{
					BackendSetID: valueSeq.Children[0].Data.Bytes(),
					Value:        valueSeq.Children[1].Data.Bytes(),
				})
			}
		default:
			return nil, decodeErrorf("unexpected element of type %#x in stream-proxy-values value",
				int(child.Tag))
		}
	}

	if r.Result < 0 {
		return nil, decodeErrorf("stream-proxy-values response is missing the result element")
	}
	return r, nil
}

// ResultName returns the symbolic name for the stream result value.
func (s *StreamProxyValues) ResultName() string {
	switch s.Result {
	case StreamProxyAllValuesReturned:
		return "all values returned"
	case StreamProxyMoreValuesToReturn:
		return "more values to return"
	case StreamProxyAttributeNotIndexed:
		return "attribute not indexed"
	case StreamProxyProcessingError:
		return "processing error"
	default:
		return fmt.Sprintf("unknown (%d)", s.Result)
	}
}
