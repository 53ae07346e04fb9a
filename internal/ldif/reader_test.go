package ldif

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string, opts ReaderOptions) []Record {
	t.Helper()
	r := NewReader(strings.NewReader(input), opts)
	var records []Record
	for {
		record, err := r.ReadChangeRecord()
		if err == io.EOF {
			return records
		}
		require.NoError(t, err)
		records = append(records, record)
	}
}

func TestReadAddRecord(t *testing.T) {
	input := `version: 1

dn: uid=a,dc=example,dc=com
changetype: add
objectClass: top
objectClass: person
cn: Test
 User
sn:: VXNlcg==
`
	records := readAll(t, input, ReaderOptions{})
	require.Len(t, records, 1)

	add, ok := records[0].(*AddRecord)
	require.True(t, ok)
	assert.Equal(t, "uid=a,dc=example,dc=com", add.DN())
	require.Len(t, add.Attributes, 3)
	// Consecutive values for the same attribute collapse into one.
	assert.Equal(t, Attribute{Name: "objectClass", Values: []string{"top", "person"}}, add.Attributes[0])
	// Folded continuation line joins without the leading space.
	assert.Equal(t, []string{"TestUser"}, add.Attributes[1].Values)
	// Base64 values decode transparently.
	assert.Equal(t, []string{"User"}, add.Attributes[2].Values)
}

func TestReadDeleteRecord(t *testing.T) {
	records := readAll(t, "dn: uid=gone,dc=example,dc=com\nchangetype: delete\n", ReaderOptions{})
	require.Len(t, records, 1)

	del, ok := records[0].(*DeleteRecord)
	require.True(t, ok)
	assert.Equal(t, "uid=gone,dc=example,dc=com", del.DN())
}

func TestReadModifyRecord(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: modify
add: description
description: first
description: second
-
delete: seeAlso
-
replace: cn
cn: New Name
-
increment: loginCount
loginCount: 1
-
`
	records := readAll(t, input, ReaderOptions{})
	require.Len(t, records, 1)

	mod, ok := records[0].(*ModifyRecord)
	require.True(t, ok)
	require.Len(t, mod.Mods, 4)
	assert.Equal(t, Mod{Op: ModAdd, Attribute: "description", Values: []string{"first", "second"}}, mod.Mods[0])
	assert.Equal(t, Mod{Op: ModDelete, Attribute: "seeAlso"}, mod.Mods[1])
	assert.Equal(t, Mod{Op: ModReplace, Attribute: "cn", Values: []string{"New Name"}}, mod.Mods[2])
	assert.Equal(t, Mod{Op: ModIncrement, Attribute: "loginCount", Values: []string{"1"}}, mod.Mods[3])
}

func TestReadModifyDNRecord(t *testing.T) {
	input := `dn: uid=a,ou=old,dc=example,dc=com
changetype: moddn
newrdn: uid=b
deleteoldrdn: 1
newsuperior: ou=new,dc=example,dc=com
`
	records := readAll(t, input, ReaderOptions{})
	require.Len(t, records, 1)

	moddn, ok := records[0].(*ModifyDNRecord)
	require.True(t, ok)
	assert.Equal(t, "uid=b", moddn.NewRDN)
	assert.True(t, moddn.DeleteOldRDN)
	assert.True(t, moddn.HasSuperior)
	assert.Equal(t, "ou=new,dc=example,dc=com", moddn.NewSuperior)

	newDN, err := moddn.NewDN()
	require.NoError(t, err)
	assert.Equal(t, "uid=b,ou=new,dc=example,dc=com", newDN)
}

func TestModifyDNNewDNWithoutSuperior(t *testing.T) {
	rec := NewModifyDNRecord("uid=a,ou=people,dc=example,dc=com", "uid=b", true, "", false, nil)
	newDN, err := rec.NewDN()
	require.NoError(t, err)
	assert.Equal(t, "uid=b,ou=people,dc=example,dc=com", newDN)

	malformed := NewModifyDNRecord("not a dn", "uid=b", true, "", false, nil)
	_, err = malformed.NewDN()
	assert.Error(t, err)
}

func TestDefaultAdd(t *testing.T) {
	input := "dn: uid=a,dc=example,dc=com\ncn: Test\n"

	// Without the option, a record with no changetype is an error.
	r := NewReader(strings.NewReader(input), ReaderOptions{})
	_, err := r.ReadChangeRecord()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.True(t, parseErr.MayContinueReading())

	records := readAll(t, input, ReaderOptions{DefaultAdd: true})
	require.Len(t, records, 1)
	_, ok := records[0].(*AddRecord)
	assert.True(t, ok)
}

func TestRecordControls(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
control: 1.2.840.113556.1.4.805 true
control: 1.3.6.1.4.1.42.2.27.8.5.1
changetype: delete
`
	records := readAll(t, input, ReaderOptions{})
	require.Len(t, records, 1)

	controls := records[0].RecordControls()
	require.Len(t, controls, 2)
	assert.Equal(t, "1.2.840.113556.1.4.805", controls[0].GetControlType())
	assert.Equal(t, "1.3.6.1.4.1.42.2.27.8.5.1", controls[1].GetControlType())
}

func TestTrailingSpaceBehavior(t *testing.T) {
	input := "dn: uid=a,dc=example,dc=com\nchangetype: add\ncn: padded  \n"

	r := NewReader(strings.NewReader(input), ReaderOptions{})
	_, err := r.ReadChangeRecord()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	records := readAll(t, input, ReaderOptions{TrailingSpaces: StripTrailingSpaces})
	add := records[0].(*AddRecord)
	assert.Equal(t, []string{"padded"}, add.Attributes[0].Values)

	records = readAll(t, input, ReaderOptions{TrailingSpaces: RetainTrailingSpaces})
	add = records[0].(*AddRecord)
	assert.Equal(t, []string{"padded  "}, add.Attributes[0].Values)
}

func TestCommentsAndBlankLinesSkipped(t *testing.T) {
	input := `# a header comment
#  continued

dn: uid=a,dc=example,dc=com
changetype: delete


dn: uid=b,dc=example,dc=com
changetype: delete
`
	records := readAll(t, input, ReaderOptions{})
	require.Len(t, records, 2)
	assert.Equal(t, "uid=a,dc=example,dc=com", records[0].DN())
	assert.Equal(t, "uid=b,dc=example,dc=com", records[1].DN())
}

func TestRecoverableParseErrorAllowsContinuing(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: frobnicate

dn: uid=b,dc=example,dc=com
changetype: delete
`
	r := NewReader(strings.NewReader(input), ReaderOptions{})

	_, err := r.ReadChangeRecord()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.True(t, parseErr.MayContinueReading())
	assert.NotEmpty(t, parseErr.DataLines)

	record, err := r.ReadChangeRecord()
	require.NoError(t, err)
	assert.Equal(t, "uid=b,dc=example,dc=com", record.DN())
}

func TestOrphanedContinuationIsUnrecoverable(t *testing.T) {
	// A continuation line with nothing to continue means the reader can no
	// longer trust record boundaries, unlike a malformed-but-complete
	// record.
	input := " orphaned continuation\ndn: uid=a,dc=example,dc=com\nchangetype: delete\n"
	r := NewReader(strings.NewReader(input), ReaderOptions{})

	_, err := r.ReadChangeRecord()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.False(t, parseErr.MayContinueReading())
}

func TestModifyValueForWrongAttributeRejected(t *testing.T) {
	input := `dn: uid=a,dc=example,dc=com
changetype: modify
add: description
cn: wrong
-
`
	r := NewReader(strings.NewReader(input), ReaderOptions{})
	_, err := r.ReadChangeRecord()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestSupportedCharacterSet(t *testing.T) {
	assert.True(t, SupportedCharacterSet("UTF-8"))
	assert.True(t, SupportedCharacterSet("utf8"))
	assert.True(t, SupportedCharacterSet(""))
	assert.False(t, SupportedCharacterSet("ISO-8859-1"))
}

func TestRecordLDIFRendering(t *testing.T) {
	add := NewAddRecord("uid=a,dc=example,dc=com", []Attribute{
		{Name: "cn", Values: []string{"Test"}},
		{Name: "sn", Values: []string{"padded "}},
	}, nil)
	lines := add.LDIF()
	assert.Equal(t, "dn: uid=a,dc=example,dc=com", lines[0])
	assert.Equal(t, "changetype: add", lines[1])
	assert.Equal(t, "cn: Test", lines[2])
	// A value with a trailing space is base64-encoded.
	assert.Equal(t, "sn:: cGFkZGVkIA==", lines[3])

	mod := NewModifyRecord("uid=a,dc=example,dc=com", []Mod{
		{Op: ModReplace, Attribute: "cn", Values: []string{"New"}},
	}, nil)
	assert.Equal(t, []string{
		"dn: uid=a,dc=example,dc=com",
		"changetype: modify",
		"replace: cn",
		"cn: New",
		"-",
	}, mod.LDIF())
}

func TestModifyRecordWithDN(t *testing.T) {
	original := NewModifyRecord("uid=a,dc=example,dc=com", []Mod{
		{Op: ModReplace, Attribute: "cn", Values: []string{"New"}},
	}, nil)
	substituted := original.WithDN("uid=other,dc=example,dc=com")
	assert.Equal(t, "uid=other,dc=example,dc=com", substituted.DN())
	assert.Equal(t, original.Mods, substituted.Mods)
	assert.Equal(t, "uid=a,dc=example,dc=com", original.DN())
}

func TestHasAttribute(t *testing.T) {
	add := NewAddRecord("uid=a,dc=example,dc=com", []Attribute{
		{Name: "userPassword;binary", Values: []string{"secret"}},
	}, nil)
	assert.True(t, add.HasAttribute("userpassword"))
	assert.False(t, add.HasAttribute("authPassword"))

	mod := NewModifyRecord("uid=a,dc=example,dc=com", []Mod{
		{Op: ModReplace, Attribute: "AuthPassword", Values: []string{"secret"}},
	}, nil)
	assert.True(t, mod.HasAttribute("authPassword"))
}
