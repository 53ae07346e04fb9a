package ldif

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// RejectWriter appends rejected change records to an LDIF sink. The version
// header is written exactly once, ahead of the first entry. Comments are
// never folded. Write failures are reported to the error channel but never
// abort processing.
type RejectWriter struct {
	w      io.Writer
	errW   io.Writer
	name   string
	once   sync.Once
	closer io.Closer
}

// NewRejectWriter returns a writer that appends to w. Failures are
// described on errW using name as the sink's name.
func NewRejectWriter(w io.Writer, errW io.Writer, name string) *RejectWriter {
	rw := &RejectWriter{w: w, errW: errW, name: name}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}
	return rw
}

// Write records one rejection. Any of comment, record, and res may be
// omitted; the version header is emitted before the first entry that is
// actually written.
func (w *RejectWriter) Write(comment string, record Record, res *result.Result) {
	if w == nil {
		return
	}

	var b strings.Builder
	if comment != "" {
		writeComment(&b, comment)
	}
	if res != nil {
		writeComment(&b, result.FormatTrailer(res))
	}
	if record != nil {
		for _, line := range record.LDIF() {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')

	w.once.Do(func() {
		if _, err := io.WriteString(w.w, "version: 1\n\n"); err != nil {
			w.reportFailure(err)
		}
	})
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		w.reportFailure(err)
	}
}

// Close releases the underlying sink when it is closable.
func (w *RejectWriter) Close() error {
	if w == nil || w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

func (w *RejectWriter) reportFailure(err error) {
	if w.errW != nil {
		fmt.Fprintf(w.errW, "# Unable to write to the reject file %s: %v\n", w.name, err)
	}
}

// writeComment renders each line of the comment with a "# " prefix, at
// infinite width: lines are never folded.
func writeComment(b *strings.Builder, comment string) {
	for _, line := range strings.Split(strings.TrimRight(comment, "\n"), "\n") {
		b.WriteString("# ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
}
