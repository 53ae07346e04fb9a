package controls

import (
	"fmt"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// AssuredReplicationLocalLevel is the assurance required from servers in
// the same location before the response is returned.
type AssuredReplicationLocalLevel int

const (
	LocalLevelUnset              AssuredReplicationLocalLevel = -1
	LocalLevelNone               AssuredReplicationLocalLevel = 0
	LocalReceivedAnyServer       AssuredReplicationLocalLevel = 1
	LocalProcessedAllServers     AssuredReplicationLocalLevel = 2
)

// ParseLocalLevel maps the command-line spelling onto the level.
func ParseLocalLevel(s string) (AssuredReplicationLocalLevel, error) {
	switch s {
	case "none":
		return LocalLevelNone, nil
	case "received-any-server":
		return LocalReceivedAnyServer, nil
	case "processed-all-servers":
		return LocalProcessedAllServers, nil
	}
	return LocalLevelUnset, fmt.Errorf("unsupported assured replication local level %q", s)
}

// AssuredReplicationRemoteLevel is the assurance required from servers in
// remote locations.
type AssuredReplicationRemoteLevel int

const (
	RemoteLevelUnset               AssuredReplicationRemoteLevel = -1
	RemoteLevelNone                AssuredReplicationRemoteLevel = 0
	RemoteReceivedAnyLocation      AssuredReplicationRemoteLevel = 1
	RemoteReceivedAllLocations     AssuredReplicationRemoteLevel = 2
	RemoteProcessedAllServers      AssuredReplicationRemoteLevel = 3
)

// ParseRemoteLevel maps the command-line spelling onto the level.
func ParseRemoteLevel(s string) (AssuredReplicationRemoteLevel, error) {
	switch s {
	case "none":
		return RemoteLevelNone, nil
	case "received-any-remote-location":
		return RemoteReceivedAnyLocation, nil
	case "received-all-remote-locations":
		return RemoteReceivedAllLocations, nil
	case "processed-all-remote-servers":
		return RemoteProcessedAllServers, nil
	}
	return RemoteLevelUnset, fmt.Errorf("unsupported assured replication remote level %q", s)
}

// Value sequence tags.
const (
	tagAssuredMinLocalLevel  ber.Tag = 0
	tagAssuredMaxLocalLevel  ber.Tag = 1
	tagAssuredMinRemoteLevel ber.Tag = 2
	tagAssuredMaxRemoteLevel ber.Tag = 3
	tagAssuredTimeout        ber.Tag = 4
)

// AssuredReplication requests that the server delay its response until the
// change has achieved the requested replication assurance. Unset levels are
// omitted so the server applies its own defaults.
type AssuredReplication struct {
	LocalLevel  AssuredReplicationLocalLevel
	RemoteLevel AssuredReplicationRemoteLevel
	Timeout     time.Duration
}

// NewAssuredReplication returns the assured replication request control.
func NewAssuredReplication(local AssuredReplicationLocalLevel,
	remote AssuredReplicationRemoteLevel, timeout time.Duration) *AssuredReplication {
	return &AssuredReplication{LocalLevel: local, RemoteLevel: remote, Timeout: timeout}
}

// GetControlType returns the OID.
func (c *AssuredReplication) GetControlType() string { return OIDAssuredReplication }

// Encode returns the ber packet representation.
func (c *AssuredReplication) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Assured Replication Value")
	if c.LocalLevel != LocalLevelUnset {
		seq.AppendChild(contextEnum(tagAssuredMinLocalLevel, int(c.LocalLevel), "Minimum Local Level"))
		seq.AppendChild(contextEnum(tagAssuredMaxLocalLevel, int(c.LocalLevel), "Maximum Local Level"))
	}
	if c.RemoteLevel != RemoteLevelUnset {
		seq.AppendChild(contextEnum(tagAssuredMinRemoteLevel, int(c.RemoteLevel), "Minimum Remote Level"))
		seq.AppendChild(contextEnum(tagAssuredMaxRemoteLevel, int(c.RemoteLevel), "Maximum Remote Level"))
	}
	if c.Timeout > 0 {
		timeout := ber.NewInteger(ber.ClassContext, ber.TypePrimitive, tagAssuredTimeout,
			c.Timeout.Milliseconds(), "Timeout Millis")
		seq.AppendChild(timeout)
	}
	return encode(OIDAssuredReplication, true, seq)
}

func (c *AssuredReplication) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Local Level: %d  Remote Level: %d  Timeout: %s",
		Describe(OIDAssuredReplication), OIDAssuredReplication, true,
		c.LocalLevel, c.RemoteLevel, c.Timeout)
}

func contextEnum(tag ber.Tag, value int, description string) *ber.Packet {
	return ber.NewInteger(ber.ClassContext, ber.TypePrimitive, tag, int64(value), description)
}

// SuppressType identifies an operational attribute family whose updates may
// be suppressed for an operation.
type SuppressType int

const (
	SuppressLastAccessTime SuppressType = 0
	SuppressLastLoginTime  SuppressType = 1
	SuppressLastLoginIP    SuppressType = 2
	SuppressLastMod        SuppressType = 3
)

// ParseSuppressType maps the command-line spelling onto the suppress type.
func ParseSuppressType(s string) (SuppressType, error) {
	switch s {
	case "last-access-time":
		return SuppressLastAccessTime, nil
	case "last-login-time":
		return SuppressLastLoginTime, nil
	case "last-login-ip":
		return SuppressLastLoginIP, nil
	case "lastmod":
		return SuppressLastMod, nil
	}
	return 0, fmt.Errorf("unsupported operational attribute type %q", s)
}

// SuppressOperationalAttributeUpdate prevents the server from maintaining
// the listed operational attributes for the operation.
type SuppressOperationalAttributeUpdate struct {
	Types []SuppressType
}

// NewSuppressOperationalAttributeUpdate returns the control for the given
// suppress types.
func NewSuppressOperationalAttributeUpdate(types []SuppressType) *SuppressOperationalAttributeUpdate {
	return &SuppressOperationalAttributeUpdate{Types: types}
}

// GetControlType returns the OID.
func (c *SuppressOperationalAttributeUpdate) GetControlType() string {
	return OIDSuppressOperationalUpdate
}

// Encode returns the ber packet representation.
func (c *SuppressOperationalAttributeUpdate) Encode() *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Suppress Value")
	set := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Suppress Types")
	for _, t := range c.Types {
		set.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated,
			int64(t), "Suppress Type"))
	}
	seq.AppendChild(set)
	return encode(OIDSuppressOperationalUpdate, false, seq)
}

func (c *SuppressOperationalAttributeUpdate) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Types: %v",
		Describe(OIDSuppressOperationalUpdate), OIDSuppressOperationalUpdate, false, c.Types)
}
