package result

import (
	"fmt"
	"strings"
)

// Format renders the result as the commented block written to the output
// and reject channels.
func Format(r *Result) []string {
	lines := make([]string, 0, 6)
	lines = append(lines, fmt.Sprintf("# Result Code:  %d (%s)", int(r.Code), r.Code.Name()))
	if r.DiagnosticMessage != "" {
		lines = append(lines, "# Diagnostic Message:  "+r.DiagnosticMessage)
	}
	if r.MatchedDN != "" {
		lines = append(lines, "# Matched DN:  "+r.MatchedDN)
	}
	for _, url := range r.ReferralURLs {
		lines = append(lines, "# Referral URL:  "+url)
	}
	for _, c := range r.Controls {
		lines = append(lines, "# Response Control:  "+c.OID)
	}
	return lines
}

// FormatTrailer renders the result as the uncommented trailer placed ahead
// of a rejected change record.
func FormatTrailer(r *Result) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Result Code:  %d (%s)", int(r.Code), r.Code.Name()))
	if r.DiagnosticMessage != "" {
		b.WriteString("\nDiagnostic Message:  " + r.DiagnosticMessage)
	}
	if r.MatchedDN != "" {
		b.WriteString("\nMatched DN:  " + r.MatchedDN)
	}
	for _, url := range r.ReferralURLs {
		b.WriteString("\nReferral URL:  " + url)
	}
	return b.String()
}
