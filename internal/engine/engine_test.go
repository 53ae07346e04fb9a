package engine

import (
	"context"
	"strings"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimluther18/ldapmodify/internal/controls"
	"github.com/kimluther18/ldapmodify/internal/extop"
	"github.com/kimluther18/ldapmodify/internal/ldif"
	"github.com/kimluther18/ldapmodify/internal/pool"
	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// extCall records one extended request seen by the fake directory.
type extCall struct {
	name     string
	value    []byte
	controls []ldap.Control
}

// fakeDirectory is a scripted Directory.
type fakeDirectory struct {
	hostPort string

	addResults      []*result.Result
	deleteResults   []*result.Result
	modifyResults   []*result.Result
	modifyDNResults []*result.Result

	addReqs      []*ldap.AddRequest
	deleteReqs   []*ldap.DelRequest
	modifyReqs   []*ldap.ModifyRequest
	modifyDNReqs []*ldap.ModifyDNRequest

	extendedCalls   []extCall
	extendedResults map[string][]*result.Extended

	searchConns     []pool.Conn
	released        []pool.Conn
	releasedDefunct []pool.Conn
}

func (d *fakeDirectory) HostPort() string {
	if d.hostPort == "" {
		return "ds1:389"
	}
	return d.hostPort
}

func pop(queue *[]*result.Result) *result.Result {
	if len(*queue) == 0 {
		return result.Success()
	}
	res := (*queue)[0]
	*queue = (*queue)[1:]
	return res
}

func (d *fakeDirectory) Add(req *ldap.AddRequest) *result.Result {
	d.addReqs = append(d.addReqs, req)
	return pop(&d.addResults)
}

func (d *fakeDirectory) Delete(req *ldap.DelRequest) *result.Result {
	d.deleteReqs = append(d.deleteReqs, req)
	return pop(&d.deleteResults)
}

func (d *fakeDirectory) Modify(req *ldap.ModifyRequest) *result.Result {
	d.modifyReqs = append(d.modifyReqs, req)
	return pop(&d.modifyResults)
}

func (d *fakeDirectory) ModifyDN(req *ldap.ModifyDNRequest) *result.Result {
	d.modifyDNReqs = append(d.modifyDNReqs, req)
	return pop(&d.modifyDNResults)
}

func (d *fakeDirectory) ProcessExtended(name string, value []byte, ctrls []ldap.Control) *result.Extended {
	d.extendedCalls = append(d.extendedCalls, extCall{name: name, value: value, controls: ctrls})
	queue := d.extendedResults[name]
	if len(queue) == 0 {
		return result.LocalExtended(result.Success())
	}
	res := queue[0]
	d.extendedResults[name] = queue[1:]
	return res
}

func (d *fakeDirectory) Acquire() (pool.Conn, error) {
	if len(d.searchConns) == 0 {
		return nil, assert.AnError
	}
	conn := d.searchConns[0]
	d.searchConns = d.searchConns[1:]
	return conn, nil
}

func (d *fakeDirectory) Release(conn pool.Conn) { d.released = append(d.released, conn) }

func (d *fakeDirectory) ReleaseDefunct(conn pool.Conn) {
	d.releasedDefunct = append(d.releasedDefunct, conn)
}

func (d *fakeDirectory) ReplaceDefunct(conn pool.Conn) (pool.Conn, error) {
	d.releasedDefunct = append(d.releasedDefunct, conn)
	return d.Acquire()
}

// harness bundles an engine with its sinks.
type harness struct {
	eng     *Engine
	dir     *fakeDirectory
	out     *strings.Builder
	errOut  *strings.Builder
	rejects *strings.Builder
}

func newHarness(t *testing.T, opts Options, dir *fakeDirectory) *harness {
	t.Helper()
	h := &harness{
		dir:     dir,
		out:     &strings.Builder{},
		errOut:  &strings.Builder{},
		rejects: &strings.Builder{},
	}
	var d Directory
	if dir != nil {
		d = dir
	}
	rejects := ldif.NewRejectWriter(h.rejects, h.errOut, "rejects.ldif")
	eng, err := New(opts, d, h.out, h.errOut, rejects, nil)
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) run(t *testing.T, input string, opts ldif.ReaderOptions) resultcode.Code {
	t.Helper()
	return h.eng.Run(context.Background(), ldif.NewReader(strings.NewReader(input), opts))
}

func controlOIDs(cs []ldap.Control) []string {
	oids := make([]string, 0, len(cs))
	for _, c := range cs {
		oids = append(oids, c.GetControlType())
	}
	return oids
}

const addRecord = `dn: uid=a,dc=example,dc=com
changetype: add
objectClass: person
cn: A
`

func TestSingleAddSuccess(t *testing.T) {
	dir := &fakeDirectory{}
	h := newHarness(t, Options{}, dir)

	code := h.run(t, addRecord, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	require.Len(t, dir.addReqs, 1)
	assert.Equal(t, "uid=a,dc=example,dc=com", dir.addReqs[0].DN)
	assert.Contains(t, h.out.String(), "Adding entry uid=a,dc=example,dc=com")
	assert.Contains(t, h.out.String(), "SUCCESS")
	assert.Empty(t, h.rejects.String())
}

func TestContinueOnError(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: delete

dn: uid=b,dc=example,dc=com
changetype: delete

dn: uid=c,dc=example,dc=com
changetype: delete
`
	dir := &fakeDirectory{deleteResults: []*result.Result{
		result.Success(),
		result.Local(resultcode.NoSuchObject, "entry does not exist"),
		result.Success(),
	}}
	h := newHarness(t, Options{ContinueOnError: true}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.NoSuchObject, code)

	// All three records were dispatched, and exactly the failed one was
	// rejected with a diagnostic trailer.
	require.Len(t, dir.deleteReqs, 3)
	rejects := h.rejects.String()
	assert.Equal(t, 1, strings.Count(rejects, "dn: uid=b,dc=example,dc=com"))
	assert.NotContains(t, rejects, "uid=a,")
	assert.NotContains(t, rejects, "uid=c,")
	assert.Contains(t, rejects, "# Result Code:  32 (NO_SUCH_OBJECT)")
}

func TestStopOnFirstErrorWithoutContinue(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: delete

dn: uid=b,dc=example,dc=com
changetype: delete
`
	dir := &fakeDirectory{deleteResults: []*result.Result{
		result.Local(resultcode.InsufficientAccessRights, "not allowed"),
	}}
	h := newHarness(t, Options{}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.InsufficientAccessRights, code)
	assert.Len(t, dir.deleteReqs, 1)
}

func TestNoOperationResultContinues(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: delete

dn: uid=b,dc=example,dc=com
changetype: delete
`
	dir := &fakeDirectory{deleteResults: []*result.Result{
		result.Local(resultcode.NoOperation, "no-op"),
		result.Success(),
	}}
	h := newHarness(t, Options{}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)
	assert.Len(t, dir.deleteReqs, 2)
	assert.Empty(t, h.rejects.String())
}

func TestTransactionalAbortOnAssertionFailure(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: modify
replace: cn
cn: One
-

dn: uid=b,dc=example,dc=com
changetype: modify
replace: cn
cn: Two
-
`
	dir := &fakeDirectory{
		extendedResults: map[string][]*result.Extended{
			extop.StartTransactionOID: {
				result.NewExtended(result.Success(), "", []byte("txn-1")),
			},
		},
		modifyResults: []*result.Result{
			result.Success(),
			result.Local(resultcode.AssertionFailed, "assertion did not match"),
		},
	}
	h := newHarness(t, Options{
		UseTransaction:  true,
		AssertionFilter: "(description=ready)",
		ProxyAs:         "dn:uid=proxy,dc=example,dc=com",
	}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.AssertionFailed, code)

	require.Len(t, dir.extendedCalls, 2)

	// The proxied authorization control rides only on the start-transaction
	// request.
	start := dir.extendedCalls[0]
	assert.Equal(t, extop.StartTransactionOID, start.name)
	assert.Contains(t, controlOIDs(start.controls), controls.OIDProxiedAuthorizationV2)

	// Every inner modify carries the transaction specification and never
	// the proxied authorization control.
	require.Len(t, dir.modifyReqs, 2)
	for _, req := range dir.modifyReqs {
		oids := controlOIDs(req.Controls)
		assert.Contains(t, oids, controls.OIDTransactionSpecification)
		assert.NotContains(t, oids, controls.OIDProxiedAuthorizationV2)
		assert.NotContains(t, oids, controls.OIDProxiedAuthorizationV1)
	}

	// The end-transaction request aborts.
	end := dir.extendedCalls[1]
	assert.Equal(t, extop.EndTransactionOID, end.name)
	value, err := ber.DecodePacketErr(end.value)
	require.NoError(t, err)
	require.Len(t, value.Children, 2)
	assert.Equal(t, false, value.Children[0].Value.(bool))
	assert.Equal(t, "txn-1", string(value.Children[1].Data.Bytes()))

	// The rejected record quotes the assertion filter.
	assert.Contains(t, h.rejects.String(), "(description=ready)")
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	dir := &fakeDirectory{
		extendedResults: map[string][]*result.Extended{
			extop.StartTransactionOID: {
				result.NewExtended(result.Success(), "", []byte("txn-2")),
			},
		},
	}
	h := newHarness(t, Options{UseTransaction: true}, dir)

	code := h.run(t, addRecord, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	require.Len(t, dir.extendedCalls, 2)
	end := dir.extendedCalls[1]
	value, err := ber.DecodePacketErr(end.value)
	require.NoError(t, err)
	// Committing omits the default commit flag: only the ID is present.
	require.Len(t, value.Children, 1)
	assert.Equal(t, "txn-2", string(value.Children[0].Data.Bytes()))
}

func TestDryRunPerformsNoDispatch(t *testing.T) {
	input := addRecord + `
dn: uid=b,dc=example,dc=com
changetype: add
objectClass: person

dn: uid=c,dc=example,dc=com
changetype: add
objectClass: person
`
	h := newHarness(t, Options{DryRun: true}, nil)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)
	assert.Equal(t, 3, strings.Count(h.out.String(), "dry-run"))
}

func TestMultiUpdateAggregation(t *testing.T) {
	input := addRecord + `
dn: uid=b,dc=example,dc=com
changetype: add
objectClass: person
`
	dir := &fakeDirectory{}
	h := newHarness(t, Options{
		MultiUpdateErrorBehavior: "abort-on-error",
		ProxyAs:                  "dn:uid=proxy,dc=example,dc=com",
	}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	// No individual operations were dispatched.
	assert.Empty(t, dir.addReqs)
	require.Len(t, dir.extendedCalls, 1)

	call := dir.extendedCalls[0]
	assert.Equal(t, extop.MultiUpdateOID, call.name)
	assert.Contains(t, controlOIDs(call.controls), controls.OIDProxiedAuthorizationV2)

	value, err := ber.DecodePacketErr(call.value)
	require.NoError(t, err)
	require.Len(t, value.Children, 2)

	behavior, err := ber.ParseInt64(value.Children[0].Data.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, extop.AbortOnError, behavior)

	elements := value.Children[1].Children
	require.Len(t, elements, 2)
	// Buffered order is preserved, and the inner requests never carry the
	// proxied authorization control.
	first := string(elements[0].Children[0].Children[0].Data.Bytes())
	second := string(elements[1].Children[0].Children[0].Data.Bytes())
	assert.Equal(t, "uid=a,dc=example,dc=com", first)
	assert.Equal(t, "uid=b,dc=example,dc=com", second)
	for _, element := range elements {
		assert.Len(t, element.Children, 1, "inner request should carry no controls")
	}
}

func TestMultiUpdateResultBecomesFinalCode(t *testing.T) {
	dir := &fakeDirectory{
		extendedResults: map[string][]*result.Extended{
			extop.MultiUpdateOID: {
				result.LocalExtended(result.Local(resultcode.UnwillingToPerform, "rejected")),
			},
		},
	}
	h := newHarness(t, Options{MultiUpdateErrorBehavior: "atomic"}, dir)

	code := h.run(t, addRecord, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.UnwillingToPerform, code)
}

func TestParseErrorRecoverableContinues(t *testing.T) {
	input := `dn: uid=broken,dc=example,dc=com
changetype: frobnicate

dn: uid=b,dc=example,dc=com
changetype: delete
`
	dir := &fakeDirectory{}
	h := newHarness(t, Options{}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	// The malformed record is recorded as a local error, and processing
	// continued with the next record.
	assert.Equal(t, resultcode.LocalError, code)
	assert.Len(t, dir.deleteReqs, 1)
	assert.Contains(t, h.rejects.String(), "uid=broken")
}

func TestUnrecoverableParseErrorStopsProcessing(t *testing.T) {
	// An orphaned continuation line breaks the stream structure, so the
	// reader reports it as unrecoverable and the engine stops even outside
	// a transaction.
	input := " orphaned continuation\n\ndn: uid=b,dc=example,dc=com\nchangetype: delete\n"
	dir := &fakeDirectory{}
	h := newHarness(t, Options{ContinueOnError: true}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.LocalError, code)
	assert.Empty(t, dir.deleteReqs)
	assert.Contains(t, h.errOut.String(), "unrecoverable")
}

func TestParseErrorInTransactionAborts(t *testing.T) {
	input := `dn: uid=broken,dc=example,dc=com
changetype: frobnicate

dn: uid=b,dc=example,dc=com
changetype: delete
`
	dir := &fakeDirectory{
		extendedResults: map[string][]*result.Extended{
			extop.StartTransactionOID: {
				result.NewExtended(result.Success(), "", []byte("txn-3")),
			},
		},
	}
	h := newHarness(t, Options{UseTransaction: true}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.LocalError, code)
	// Nothing after the malformed record was dispatched, and the
	// transaction was aborted.
	assert.Empty(t, dir.deleteReqs)
	end := dir.extendedCalls[len(dir.extendedCalls)-1]
	assert.Equal(t, extop.EndTransactionOID, end.name)
	value, err := ber.DecodePacketErr(end.value)
	require.NoError(t, err)
	require.Len(t, value.Children, 2)
	assert.Equal(t, false, value.Children[0].Value.(bool))
}

func TestControlAttachmentTable(t *testing.T) {
	input := `dn: uid=add,dc=example,dc=com
changetype: add
objectClass: person

dn: uid=del,dc=example,dc=com
changetype: delete

dn: uid=mod,dc=example,dc=com
changetype: modify
replace: cn
cn: X
-

dn: uid=rename,dc=example,dc=com
changetype: moddn
newrdn: uid=renamed
deleteoldrdn: 1
`
	dir := &fakeDirectory{}
	h := newHarness(t, Options{
		ContinueOnError:                     true,
		NoOperation:                         true,
		IgnoreNoUserModification:            true,
		NameWithEntryUUID:                   true,
		PermissiveModify:                    true,
		SubtreeDelete:                       true,
		HardDelete:                          true,
		SoftDelete:                          true,
		SuppressReferentialIntegrityUpdates: true,
		UsePasswordPolicyControl:            true,
		AssertionFilter:                     "(objectClass=person)",
		ManageDsaIT:                         true,
		PreReadAttributes:                   []string{"cn"},
		PostReadAttributes:                  []string{"cn"},
		ProxyAs:                             "dn:uid=proxy,dc=example,dc=com",
	}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	require.Len(t, dir.addReqs, 1)
	require.Len(t, dir.deleteReqs, 1)
	require.Len(t, dir.modifyReqs, 1)
	require.Len(t, dir.modifyDNReqs, 1)

	addOIDs := controlOIDs(dir.addReqs[0].Controls)
	assert.Subset(t, addOIDs, []string{
		controls.OIDNoOp, controls.OIDIgnoreNoUserModification, controls.OIDNameWithEntryUUID,
		controls.OIDPasswordPolicy, controls.OIDAssertion, controls.OIDManageDsaIT,
		controls.OIDPostRead, controls.OIDProxiedAuthorizationV2,
	})
	assert.NotContains(t, addOIDs, controls.OIDPermissiveModify)
	assert.NotContains(t, addOIDs, controls.OIDSubtreeDelete)
	assert.NotContains(t, addOIDs, controls.OIDHardDelete)
	assert.NotContains(t, addOIDs, controls.OIDSoftDelete)
	assert.NotContains(t, addOIDs, controls.OIDSuppressReferentialUpdates)
	assert.NotContains(t, addOIDs, controls.OIDPreRead)

	deleteOIDs := controlOIDs(dir.deleteReqs[0].Controls)
	assert.Subset(t, deleteOIDs, []string{
		controls.OIDNoOp, controls.OIDSubtreeDelete, controls.OIDHardDelete,
		controls.OIDSoftDelete, controls.OIDSuppressReferentialUpdates,
		controls.OIDAssertion, controls.OIDManageDsaIT, controls.OIDPreRead,
		controls.OIDProxiedAuthorizationV2,
	})
	assert.NotContains(t, deleteOIDs, controls.OIDPasswordPolicy)
	assert.NotContains(t, deleteOIDs, controls.OIDPostRead)
	assert.NotContains(t, deleteOIDs, controls.OIDPermissiveModify)

	modifyOIDs := controlOIDs(dir.modifyReqs[0].Controls)
	assert.Subset(t, modifyOIDs, []string{
		controls.OIDNoOp, controls.OIDPermissiveModify, controls.OIDPasswordPolicy,
		controls.OIDAssertion, controls.OIDManageDsaIT, controls.OIDPreRead,
		controls.OIDPostRead, controls.OIDProxiedAuthorizationV2,
	})
	assert.NotContains(t, modifyOIDs, controls.OIDSubtreeDelete)
	assert.NotContains(t, modifyOIDs, controls.OIDNameWithEntryUUID)

	modifyDNOIDs := controlOIDs(dir.modifyDNReqs[0].Controls)
	assert.Subset(t, modifyDNOIDs, []string{
		controls.OIDNoOp, controls.OIDSuppressReferentialUpdates, controls.OIDAssertion,
		controls.OIDManageDsaIT, controls.OIDPreRead, controls.OIDPostRead,
		controls.OIDProxiedAuthorizationV2,
	})
	assert.NotContains(t, modifyDNOIDs, controls.OIDSubtreeDelete)
	assert.NotContains(t, modifyDNOIDs, controls.OIDPasswordPolicy)
}

func TestConditionalControls(t *testing.T) {
	input := `dn: uid=restored,dc=example,dc=com
changetype: add
objectClass: person
ds-undelete-from-dn: entryUUID=x,uid=restored,dc=example,dc=com

dn: uid=pw,dc=example,dc=com
changetype: modify
replace: userPassword
userPassword: newSecret
-
`
	dir := &fakeDirectory{}
	h := newHarness(t, Options{
		ContinueOnError:           true,
		AllowUndelete:             true,
		RetireCurrentPassword:     true,
		PasswordValidationDetails: true,
	}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	require.Len(t, dir.addReqs, 1)
	assert.Contains(t, controlOIDs(dir.addReqs[0].Controls), controls.OIDUndelete)

	require.Len(t, dir.modifyReqs, 1)
	modifyOIDs := controlOIDs(dir.modifyReqs[0].Controls)
	assert.Contains(t, modifyOIDs, controls.OIDRetirePassword)
	assert.Contains(t, modifyOIDs, controls.OIDPasswordValidationDetails)
	assert.NotContains(t, modifyOIDs, controls.OIDPurgePassword)
}

func TestConditionalControlsAbsentWithoutTriggers(t *testing.T) {
	dir := &fakeDirectory{}
	h := newHarness(t, Options{
		AllowUndelete:             true,
		PasswordValidationDetails: true,
	}, dir)

	code := h.run(t, addRecord, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)
	require.Len(t, dir.addReqs, 1)
	oids := controlOIDs(dir.addReqs[0].Controls)
	assert.NotContains(t, oids, controls.OIDUndelete)
	assert.NotContains(t, oids, controls.OIDPasswordValidationDetails)
}

func TestRecordControlsPrecedeGlobalControls(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
control: 1.2.3.4 true
changetype: delete
`
	dir := &fakeDirectory{}
	h := newHarness(t, Options{SubtreeDelete: true}, dir)

	code := h.run(t, input, ldif.ReaderOptions{})
	assert.Equal(t, resultcode.Success, code)

	require.Len(t, dir.deleteReqs, 1)
	oids := controlOIDs(dir.deleteReqs[0].Controls)
	require.Len(t, oids, 2)
	assert.Equal(t, "1.2.3.4", oids[0])
	assert.Equal(t, controls.OIDSubtreeDelete, oids[1])
}

func TestOptionsValidation(t *testing.T) {
	valid := Options{}
	assert.NoError(t, valid.Validate())

	tests := []Options{
		{UseTransaction: true, MultiUpdateErrorBehavior: "atomic"},
		{UseTransaction: true, ContinueOnError: true},
		{UseTransaction: true, DryRun: true},
		{UseTransaction: true, HasRejectFile: true},
		{UseTransaction: true, ModifyEntriesMatchingFilter: []string{"(objectClass=*)"}},
		{MultiUpdateErrorBehavior: "atomic", RatePerSecond: 10},
		{MultiUpdateErrorBehavior: "sideways"},
		{ProxyAs: "dn:x", ProxyV1As: "cn=x"},
		{RetireCurrentPassword: true, PurgeCurrentPassword: true},
		{AssuredReplicationLocalLevel: "none"},
		{SearchPageSize: 5},
		{CharacterSet: "EBCDIC"},
	}
	for i, opts := range tests {
		assert.Error(t, opts.Validate(), "case %d", i)
	}
}
