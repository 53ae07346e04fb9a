// Package notify reports unsolicited notifications and recognized
// intermediate responses on the tool's error channel. Notifications are
// informational only; they never alter the change-application state
// machine.
package notify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// Sink formats unsolicited notifications onto a writer.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	log *zap.Logger
}

// NewSink returns a sink writing to w.
func NewSink(w io.Writer, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{w: w, log: log}
}

// HandleUnsolicited renders one unsolicited notification.
func (s *Sink) HandleUnsolicited(hostPort, oid string, res *result.Extended) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("unsolicited notification",
		zap.String("server", hostPort), zap.String("oid", oid))

	fmt.Fprintf(s.w, "# Unsolicited notification from %s (OID %s):\n", hostPort, oid)
	for _, line := range result.Format(&res.Result) {
		fmt.Fprintln(s.w, line)
	}
	fmt.Fprintln(s.w)
}

// HandleIntermediate renders an intermediate response. The
// stream-proxy-values payload is decoded; other OIDs are reported by OID
// alone.
func (s *Sink) HandleIntermediate(hostPort, oid string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("intermediate response",
		zap.String("server", hostPort), zap.String("oid", oid))

	if oid != result.StreamProxyValuesOID {
		fmt.Fprintf(s.w, "# Intermediate response from %s (OID %s)\n\n", hostPort, oid)
		return
	}

	decoded, err := result.DecodeStreamProxyValues(value)
	if err != nil {
		fmt.Fprintf(s.w, "# Intermediate response from %s (OID %s): %v\n\n", hostPort, oid, err)
		return
	}
	fmt.Fprintf(s.w, "# Stream proxy values intermediate response: %s", decoded.ResultName())
	if decoded.AttributeName != "" {
		fmt.Fprintf(s.w, "  attribute %s", decoded.AttributeName)
	}
	if len(decoded.Values) > 0 {
		fmt.Fprintf(s.w, "  (%d values)", len(decoded.Values))
	}
	fmt.Fprintln(s.w)
	if decoded.DiagnosticMessage != "" {
		fmt.Fprintf(s.w, "# Diagnostic Message:  %s\n", decoded.DiagnosticMessage)
	}
	fmt.Fprintln(s.w)
}
