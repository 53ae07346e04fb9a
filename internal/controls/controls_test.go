package controls

import (
	"testing"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeControl re-parses an encoded control into its OID, criticality,
// and raw value.
func decodeControl(t *testing.T, c ldap.Control) (string, bool, []byte) {
	t.Helper()
	packet, err := ber.DecodePacketErr(c.Encode().Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, packet.Children)

	oid := packet.Children[0].Value.(string)
	critical := false
	var value []byte
	for _, child := range packet.Children[1:] {
		switch child.Tag {
		case ber.TagBoolean:
			critical = child.Value.(bool)
		case ber.TagOctetString:
			value = child.Data.Bytes()
		}
	}
	return oid, critical, value
}

func TestFlagControls(t *testing.T) {
	tests := []struct {
		control  ldap.Control
		oid      string
		critical bool
	}{
		{NewNoOp(), OIDNoOp, true},
		{NewIgnoreNoUserModification(), OIDIgnoreNoUserModification, true},
		{NewNameWithEntryUUID(), OIDNameWithEntryUUID, true},
		{NewPermissiveModify(), OIDPermissiveModify, false},
		{NewSubtreeDelete(), OIDSubtreeDelete, false},
		{NewHardDelete(), OIDHardDelete, true},
		{NewUndelete(), OIDUndelete, true},
		{NewSuppressReferentialIntegrityUpdates(), OIDSuppressReferentialUpdates, true},
		{NewReplicationRepair(), OIDReplicationRepair, true},
		{NewPasswordPolicy(), OIDPasswordPolicy, false},
		{NewPasswordValidationDetails(), OIDPasswordValidationDetails, false},
		{NewRetirePassword(), OIDRetirePassword, false},
		{NewPurgePassword(), OIDPurgePassword, false},
		{NewGetUserResourceLimits(), OIDGetUserResourceLimits, false},
		{NewAuthorizationIdentity(), OIDAuthorizationIdentity, false},
	}
	for _, tc := range tests {
		oid, critical, value := decodeControl(t, tc.control)
		assert.Equal(t, tc.oid, oid)
		assert.Equal(t, tc.oid, tc.control.GetControlType())
		assert.Equal(t, tc.critical, critical, "criticality for %s", tc.oid)
		assert.Empty(t, value, "%s should carry no value", tc.oid)
	}
}

func TestAssertion(t *testing.T) {
	c, err := NewAssertion("(objectClass=person)")
	require.NoError(t, err)

	oid, critical, value := decodeControl(t, c)
	assert.Equal(t, OIDAssertion, oid)
	assert.True(t, critical)

	compiled, err := ldap.CompileFilter("(objectClass=person)")
	require.NoError(t, err)
	assert.Equal(t, compiled.Bytes(), value)
}

func TestAssertionRejectsBadFilter(t *testing.T) {
	_, err := NewAssertion("(objectClass=person")
	assert.Error(t, err)
}

func TestProxiedAuthorizationV2ValueIsRawAuthzID(t *testing.T) {
	oid, critical, value := decodeControl(t, NewProxiedAuthorizationV2("dn:uid=proxy,dc=example,dc=com"))
	assert.Equal(t, OIDProxiedAuthorizationV2, oid)
	assert.True(t, critical)
	assert.Equal(t, []byte("dn:uid=proxy,dc=example,dc=com"), value)
}

func TestProxiedAuthorizationV1WrapsDNInSequence(t *testing.T) {
	oid, critical, value := decodeControl(t, NewProxiedAuthorizationV1("uid=proxy,dc=example,dc=com"))
	assert.Equal(t, OIDProxiedAuthorizationV1, oid)
	assert.True(t, critical)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	require.Len(t, seq.Children, 1)
	assert.Equal(t, "uid=proxy,dc=example,dc=com", seq.Children[0].Value.(string))
}

func TestTransactionSpecification(t *testing.T) {
	txnID := []byte{0x01, 0x02, 0xFF}
	oid, critical, value := decodeControl(t, NewTransactionSpecification(txnID))
	assert.Equal(t, OIDTransactionSpecification, oid)
	assert.True(t, critical)
	assert.Equal(t, txnID, value)
}

func TestReadEntryControls(t *testing.T) {
	pre := NewPreRead([]string{"cn", "mail"})
	oid, critical, value := decodeControl(t, pre)
	assert.Equal(t, OIDPreRead, oid)
	assert.True(t, critical)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	require.Len(t, seq.Children, 2)
	assert.Equal(t, "cn", seq.Children[0].Value.(string))
	assert.Equal(t, "mail", seq.Children[1].Value.(string))

	oid, _, _ = decodeControl(t, NewPostRead([]string{"entryUUID"}))
	assert.Equal(t, OIDPostRead, oid)
}

func TestTokenizeAttributes(t *testing.T) {
	assert.Equal(t, []string{"cn", "sn", "mail", "uid"},
		TokenizeAttributes([]string{"cn, sn", "mail uid"}))
	assert.Empty(t, TokenizeAttributes([]string{" , "}))
}

func TestAssuredReplication(t *testing.T) {
	c := NewAssuredReplication(LocalProcessedAllServers, RemoteReceivedAnyLocation, 2*time.Second)
	oid, critical, value := decodeControl(t, c)
	assert.Equal(t, OIDAssuredReplication, oid)
	assert.True(t, critical)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	// Min and max local level, min and max remote level, timeout.
	require.Len(t, seq.Children, 5)

	local, err := ber.ParseInt64(seq.Children[0].Data.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, LocalProcessedAllServers, local)
	timeout, err := ber.ParseInt64(seq.Children[4].Data.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 2000, timeout)
}

func TestAssuredReplicationLevelParsing(t *testing.T) {
	level, err := ParseLocalLevel("received-any-server")
	require.NoError(t, err)
	assert.Equal(t, LocalReceivedAnyServer, level)
	_, err = ParseLocalLevel("bogus")
	assert.Error(t, err)

	remote, err := ParseRemoteLevel("processed-all-remote-servers")
	require.NoError(t, err)
	assert.Equal(t, RemoteProcessedAllServers, remote)
	_, err = ParseRemoteLevel("bogus")
	assert.Error(t, err)
}

func TestSuppressOperationalAttributeUpdate(t *testing.T) {
	types := []SuppressType{SuppressLastAccessTime, SuppressLastMod}
	oid, critical, value := decodeControl(t, NewSuppressOperationalAttributeUpdate(types))
	assert.Equal(t, OIDSuppressOperationalUpdate, oid)
	assert.False(t, critical)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	require.Len(t, seq.Children, 1)
	require.Len(t, seq.Children[0].Children, 2)

	first, err := ber.ParseInt64(seq.Children[0].Children[0].Data.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, SuppressLastAccessTime, first)
}

func TestParseSuppressType(t *testing.T) {
	tests := map[string]SuppressType{
		"last-access-time": SuppressLastAccessTime,
		"last-login-time":  SuppressLastLoginTime,
		"last-login-ip":    SuppressLastLoginIP,
		"lastmod":          SuppressLastMod,
	}
	for name, want := range tests {
		got, err := ParseSuppressType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSuppressType("created")
	assert.Error(t, err)
}

func TestOperationPurpose(t *testing.T) {
	c := NewOperationPurpose("ldapmodify", "1.0.0", "ldapmodify.buildControlSets", "migration batch 7")
	oid, critical, value := decodeControl(t, c)
	assert.Equal(t, OIDOperationPurpose, oid)
	assert.False(t, critical)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	require.Len(t, seq.Children, 4)
	assert.Equal(t, "ldapmodify", string(seq.Children[0].Data.Bytes()))
	assert.Equal(t, "migration batch 7", string(seq.Children[3].Data.Bytes()))
}

func TestGetAuthorizationEntry(t *testing.T) {
	oid, _, value := decodeControl(t, NewGetAuthorizationEntry([]string{"cn", "uid"}))
	assert.Equal(t, OIDGetAuthorizationEntry, oid)

	seq, err := ber.DecodePacketErr(value)
	require.NoError(t, err)
	require.Len(t, seq.Children, 3)
	require.Len(t, seq.Children[2].Children, 2)
}

func TestSoftDeleteValue(t *testing.T) {
	oid, critical, value := decodeControl(t, NewSoftDelete())
	assert.Equal(t, OIDSoftDelete, oid)
	assert.True(t, critical)
	assert.NotEmpty(t, value)
}

func TestParseGeneric(t *testing.T) {
	tests := []struct {
		spec     string
		oid      string
		critical bool
		value    string
	}{
		{"1.2.3.4", "1.2.3.4", false, ""},
		{"1.2.3.4:true", "1.2.3.4", true, ""},
		{"1.2.3.4:false:hello", "1.2.3.4", false, "hello"},
		{"1.2.3.4:true:with:colons", "1.2.3.4", true, "with:colons"},
		{"1.2.3.4:true::aGVsbG8=", "1.2.3.4", true, "hello"},
	}
	for _, tc := range tests {
		c, err := ParseGeneric(tc.spec)
		require.NoError(t, err, "spec %q", tc.spec)
		cs, ok := c.(*ldap.ControlString)
		require.True(t, ok)
		assert.Equal(t, tc.oid, cs.ControlType)
		assert.Equal(t, tc.critical, cs.Criticality)
		assert.Equal(t, tc.value, cs.ControlValue)
	}
}

func TestParseGenericErrors(t *testing.T) {
	for _, spec := range []string{"", "notanoid", "1.2.3.4:maybe", "1..4", "1.2.3.4:true::!!!"} {
		_, err := ParseGeneric(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "No-Op", Describe(OIDNoOp))
	assert.Equal(t, "5.6.7.8", Describe("5.6.7.8"))
}
