// Package resultcode defines the closed set of LDAP result codes the tool
// reasons about, together with the classification predicates that drive
// retry and failover policy.
package resultcode

import "fmt"

// Code is an LDAP result code as defined in RFC 4511, extended with the
// client-side codes from the LDAP C API (RFC 1823) and the no-operation
// code used with the no-op request control.
type Code uint16

const (
	Success                      Code = 0
	OperationsError              Code = 1
	ProtocolError                Code = 2
	TimeLimitExceeded            Code = 3
	SizeLimitExceeded            Code = 4
	CompareFalse                 Code = 5
	CompareTrue                  Code = 6
	AuthMethodNotSupported       Code = 7
	StrongerAuthRequired         Code = 8
	Referral                     Code = 10
	AdminLimitExceeded           Code = 11
	UnavailableCriticalExtension Code = 12
	ConfidentialityRequired      Code = 13
	SaslBindInProgress           Code = 14
	NoSuchAttribute              Code = 16
	UndefinedAttributeType       Code = 17
	InappropriateMatching        Code = 18
	ConstraintViolation          Code = 19
	AttributeOrValueExists       Code = 20
	InvalidAttributeSyntax       Code = 21
	NoSuchObject                 Code = 32
	AliasProblem                 Code = 33
	InvalidDNSyntax              Code = 34
	AliasDereferencingProblem    Code = 36
	InappropriateAuthentication  Code = 48
	InvalidCredentials           Code = 49
	InsufficientAccessRights     Code = 50
	Busy                         Code = 51
	Unavailable                  Code = 52
	UnwillingToPerform           Code = 53
	LoopDetect                   Code = 54
	NamingViolation              Code = 64
	ObjectClassViolation         Code = 65
	NotAllowedOnNonLeaf          Code = 66
	NotAllowedOnRDN              Code = 67
	EntryAlreadyExists           Code = 68
	ObjectClassModsProhibited    Code = 69
	AffectsMultipleDSAs          Code = 71
	Other                        Code = 80

	// Client-side result codes.
	ServerDown             Code = 81
	LocalError             Code = 82
	EncodingError          Code = 83
	DecodingError          Code = 84
	Timeout                Code = 85
	AuthUnknown            Code = 86
	FilterError            Code = 87
	UserCanceled           Code = 88
	ParamError             Code = 89
	NoMemory               Code = 90
	ConnectError           Code = 91
	NotSupported           Code = 92
	ControlNotFound        Code = 93
	NoResultsReturned      Code = 94
	MoreResultsToReturn    Code = 95
	ClientLoop             Code = 96
	ReferralLimitExceeded  Code = 97

	Canceled            Code = 118
	NoSuchOperation     Code = 119
	TooLate             Code = 120
	CannotCancel        Code = 121
	AssertionFailed     Code = 122
	AuthorizationDenied Code = 123

	// NoOperation is returned by servers that honor the no-op request
	// control in place of actually applying the change.
	NoOperation Code = 16654
)

var names = map[Code]string{
	Success:                      "SUCCESS",
	OperationsError:              "OPERATIONS_ERROR",
	ProtocolError:                "PROTOCOL_ERROR",
	TimeLimitExceeded:            "TIME_LIMIT_EXCEEDED",
	SizeLimitExceeded:            "SIZE_LIMIT_EXCEEDED",
	CompareFalse:                 "COMPARE_FALSE",
	CompareTrue:                  "COMPARE_TRUE",
	AuthMethodNotSupported:       "AUTH_METHOD_NOT_SUPPORTED",
	StrongerAuthRequired:         "STRONGER_AUTH_REQUIRED",
	Referral:                     "REFERRAL",
	AdminLimitExceeded:           "ADMIN_LIMIT_EXCEEDED",
	UnavailableCriticalExtension: "UNAVAILABLE_CRITICAL_EXTENSION",
	ConfidentialityRequired:      "CONFIDENTIALITY_REQUIRED",
	SaslBindInProgress:           "SASL_BIND_IN_PROGRESS",
	NoSuchAttribute:              "NO_SUCH_ATTRIBUTE",
	UndefinedAttributeType:       "UNDEFINED_ATTRIBUTE_TYPE",
	InappropriateMatching:        "INAPPROPRIATE_MATCHING",
	ConstraintViolation:          "CONSTRAINT_VIOLATION",
	AttributeOrValueExists:       "ATTRIBUTE_OR_VALUE_EXISTS",
	InvalidAttributeSyntax:       "INVALID_ATTRIBUTE_SYNTAX",
	NoSuchObject:                 "NO_SUCH_OBJECT",
	AliasProblem:                 "ALIAS_PROBLEM",
	InvalidDNSyntax:              "INVALID_DN_SYNTAX",
	AliasDereferencingProblem:    "ALIAS_DEREFERENCING_PROBLEM",
	InappropriateAuthentication:  "INAPPROPRIATE_AUTHENTICATION",
	InvalidCredentials:           "INVALID_CREDENTIALS",
	InsufficientAccessRights:     "INSUFFICIENT_ACCESS_RIGHTS",
	Busy:                         "BUSY",
	Unavailable:                  "UNAVAILABLE",
	UnwillingToPerform:           "UNWILLING_TO_PERFORM",
	LoopDetect:                   "LOOP_DETECT",
	NamingViolation:              "NAMING_VIOLATION",
	ObjectClassViolation:         "OBJECT_CLASS_VIOLATION",
	NotAllowedOnNonLeaf:          "NOT_ALLOWED_ON_NON_LEAF",
	NotAllowedOnRDN:              "NOT_ALLOWED_ON_RDN",
	EntryAlreadyExists:           "ENTRY_ALREADY_EXISTS",
	ObjectClassModsProhibited:    "OBJECT_CLASS_MODS_PROHIBITED",
	AffectsMultipleDSAs:          "AFFECTS_MULTIPLE_DSAS",
	Other:                        "OTHER",
	ServerDown:                   "SERVER_DOWN",
	LocalError:                   "LOCAL_ERROR",
	EncodingError:                "ENCODING_ERROR",
	DecodingError:                "DECODING_ERROR",
	Timeout:                      "TIMEOUT",
	AuthUnknown:                  "AUTH_UNKNOWN",
	FilterError:                  "FILTER_ERROR",
	UserCanceled:                 "USER_CANCELED",
	ParamError:                   "PARAM_ERROR",
	NoMemory:                     "NO_MEMORY",
	ConnectError:                 "CONNECT_ERROR",
	NotSupported:                 "NOT_SUPPORTED",
	ControlNotFound:              "CONTROL_NOT_FOUND",
	NoResultsReturned:            "NO_RESULTS_RETURNED",
	MoreResultsToReturn:          "MORE_RESULTS_TO_RETURN",
	ClientLoop:                   "CLIENT_LOOP",
	ReferralLimitExceeded:        "REFERRAL_LIMIT_EXCEEDED",
	Canceled:                     "CANCELED",
	NoSuchOperation:              "NO_SUCH_OPERATION",
	TooLate:                      "TOO_LATE",
	CannotCancel:                 "CANNOT_CANCEL",
	AssertionFailed:              "ASSERTION_FAILED",
	AuthorizationDenied:          "AUTHORIZATION_DENIED",
	NoOperation:                  "NO_OPERATION",
}

// connectionUnusable lists the codes that indicate the connection the
// operation was attempted on can no longer be trusted for further use.
var connectionUnusable = map[Code]struct{}{
	ServerDown:    {},
	LocalError:    {},
	EncodingError: {},
	DecodingError: {},
	Timeout:       {},
	NoMemory:      {},
	ConnectError:  {},
}

// Name returns the symbolic name for the code, or "UNKNOWN" if the code is
// outside the closed set.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// String renders the code as "N (NAME)".
func (c Code) String() string {
	return fmt.Sprintf("%d (%s)", int(c), c.Name())
}

// IsConnectionUsable reports whether a connection that yielded this result
// code may still be used for subsequent operations.
func (c Code) IsConnectionUsable() bool {
	_, bad := connectionUnusable[c]
	return !bad
}

// IsClientSide reports whether the code was generated by the client rather
// than returned by a directory server.
func (c Code) IsClientSide() bool {
	return c >= ServerDown && c <= ReferralLimitExceeded
}

// ExitCode maps the code onto a process exit status, clamped to the range
// a shell can observe.
func (c Code) ExitCode() int {
	if c > 255 {
		return 255
	}
	return int(c)
}
