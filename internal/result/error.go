package result

import (
	"errors"

	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// FromError converts an error returned by the LDAP client library into a
// Result. A nil error converts to a success result.
func FromError(err error) *Result {
	if err == nil {
		return Success()
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return Local(resultcode.DecodingError, decodeErr.Message)
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		diagnostic := ""
		if ldapErr.Err != nil {
			diagnostic = ldapErr.Err.Error()
		}
		return New(NoMessageID, mapClientCode(ldapErr.ResultCode), ldapErr.MatchedDN,
			diagnostic, nil, nil)
	}

	return Local(resultcode.LocalError, err.Error())
}

// mapClientCode folds the library's client-side error codes (200 and up)
// into the closed taxonomy; server codes pass through unchanged.
func mapClientCode(code uint16) resultcode.Code {
	switch code {
	case ldap.ErrorNetwork:
		return resultcode.ServerDown
	case ldap.ErrorFilterCompile, ldap.ErrorFilterDecompile:
		return resultcode.FilterError
	case ldap.ErrorUnexpectedMessage, ldap.ErrorUnexpectedResponse:
		return resultcode.DecodingError
	case ldap.ErrorEmptyPassword:
		return resultcode.ParamError
	case ldap.ErrorDebugging:
		return resultcode.LocalError
	}
	if code >= 200 {
		return resultcode.LocalError
	}
	return resultcode.Code(code)
}
