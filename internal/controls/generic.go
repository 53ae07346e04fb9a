package controls

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ParseGeneric interprets the command-line control syntax
// "oid[:criticality[:value|::base64value]]" into a control that attaches
// the value verbatim.
func ParseGeneric(spec string) (ldap.Control, error) {
	parts := strings.SplitN(spec, ":", 2)
	oid := strings.TrimSpace(parts[0])
	if oid == "" || !isOID(oid) {
		return nil, fmt.Errorf("control specification %q does not start with a valid OID", spec)
	}
	if len(parts) == 1 {
		return ldap.NewControlString(oid, false, ""), nil
	}

	rest := parts[1]
	var critical bool
	switch {
	case rest == "true" || strings.HasPrefix(rest, "true:"):
		critical = true
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "true"), ":")
	case rest == "false" || strings.HasPrefix(rest, "false:"):
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "false"), ":")
	default:
		return nil, fmt.Errorf("control specification %q has a criticality that is not true or false", spec)
	}

	if strings.HasPrefix(rest, ":") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(rest, ":")))
		if err != nil {
			return nil, fmt.Errorf("control specification %q has an invalid base64 value: %w", spec, err)
		}
		rest = string(decoded)
	} else {
		rest = strings.TrimPrefix(rest, " ")
	}
	return ldap.NewControlString(oid, critical, rest), nil
}

func isOID(s string) bool {
	lastDot := true
	for _, r := range s {
		switch {
		case r == '.':
			if lastDot {
				return false
			}
			lastDot = true
		case r >= '0' && r <= '9':
			lastDot = false
		default:
			return false
		}
	}
	return !lastDot && strings.Contains(s, ".")
}
