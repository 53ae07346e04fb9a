package engine

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/controls"
)

// controlSets holds the globally-configured controls for each operation
// type, in attachment order. Controls are appended in the order
// buildControlSets processes the arguments, so per-operation-type and
// cross-operation controls are interleaved rather than grouped.
type controlSets struct {
	add      []ldap.Control
	del      []ldap.Control
	modify   []ldap.Control
	modifyDN []ldap.Control
	search   []ldap.Control
}

// buildControlSets assembles the per-operation control lists from the
// configured arguments.
func buildControlSets(o *Options) (*controlSets, error) {
	s := &controlSets{}

	appendParsed := func(dst *[]ldap.Control, specs []string) error {
		for _, spec := range specs {
			c, err := controls.ParseGeneric(spec)
			if err != nil {
				return err
			}
			*dst = append(*dst, c)
		}
		return nil
	}
	if err := appendParsed(&s.add, o.AddControls); err != nil {
		return nil, err
	}
	if err := appendParsed(&s.del, o.DeleteControls); err != nil {
		return nil, err
	}
	if err := appendParsed(&s.modify, o.ModifyControls); err != nil {
		return nil, err
	}
	if err := appendParsed(&s.modifyDN, o.ModifyDNControls); err != nil {
		return nil, err
	}
	for _, spec := range o.OperationControls {
		c, err := controls.ParseGeneric(spec)
		if err != nil {
			return nil, err
		}
		s.addToModifying(c)
	}

	if o.NoOperation {
		s.addToModifying(controls.NewNoOp())
	}
	if o.IgnoreNoUserModification {
		s.add = append(s.add, controls.NewIgnoreNoUserModification())
	}
	if o.NameWithEntryUUID {
		s.add = append(s.add, controls.NewNameWithEntryUUID())
	}
	if o.PermissiveModify {
		s.modify = append(s.modify, controls.NewPermissiveModify())
	}
	if o.SuppressReferentialIntegrityUpdates {
		c := controls.NewSuppressReferentialIntegrityUpdates()
		s.del = append(s.del, c)
		s.modifyDN = append(s.modifyDN, c)
	}
	if len(o.SuppressOperationalAttributeUpdates) > 0 {
		var types []controls.SuppressType
		for _, name := range o.SuppressOperationalAttributeUpdates {
			t, err := controls.ParseSuppressType(name)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		s.addToModifying(controls.NewSuppressOperationalAttributeUpdate(types))
	}
	if o.UsePasswordPolicyControl {
		c := controls.NewPasswordPolicy()
		s.add = append(s.add, c)
		s.modify = append(s.modify, c)
	}
	if o.AssuredReplication {
		local := controls.LocalLevelUnset
		if o.AssuredReplicationLocalLevel != "" {
			var err error
			if local, err = controls.ParseLocalLevel(o.AssuredReplicationLocalLevel); err != nil {
				return nil, err
			}
		}
		remote := controls.RemoteLevelUnset
		if o.AssuredReplicationRemoteLevel != "" {
			var err error
			if remote, err = controls.ParseRemoteLevel(o.AssuredReplicationRemoteLevel); err != nil {
				return nil, err
			}
		}
		s.addToModifying(controls.NewAssuredReplication(local, remote, o.AssuredReplicationTimeout))
	}
	if o.HardDelete {
		s.del = append(s.del, controls.NewHardDelete())
	}
	if o.ReplicationRepair {
		s.addToModifying(controls.NewReplicationRepair())
	}
	if o.SoftDelete {
		s.del = append(s.del, controls.NewSoftDelete())
	}
	if o.SubtreeDelete {
		s.del = append(s.del, controls.NewSubtreeDelete())
	}
	if o.AssertionFilter != "" {
		c, err := controls.NewAssertion(o.AssertionFilter)
		if err != nil {
			return nil, err
		}
		s.addToModifying(c)
	}
	if o.OperationPurpose != "" {
		s.addToModifying(controls.NewOperationPurpose(o.ToolName, o.ToolVersion,
			o.ToolName+".buildControlSets", o.OperationPurpose))
	}
	if o.ManageDsaIT {
		s.addToModifying(ldap.NewControlManageDsaIT(true))
	}
	if len(o.PreReadAttributes) > 0 {
		c := controls.NewPreRead(controls.TokenizeAttributes(o.PreReadAttributes))
		s.del = append(s.del, c)
		s.modify = append(s.modify, c)
		s.modifyDN = append(s.modifyDN, c)
	}
	if len(o.PostReadAttributes) > 0 {
		c := controls.NewPostRead(controls.TokenizeAttributes(o.PostReadAttributes))
		s.add = append(s.add, c)
		s.modify = append(s.modify, c)
		s.modifyDN = append(s.modifyDN, c)
	}

	// Proxied authorization attaches to individual operations only in
	// immediate mode; in transactional or multi-update runs it attaches to
	// the outer request instead.
	if !o.UseTransaction && !o.MultiUpdate() {
		if o.ProxyAs != "" {
			c := controls.NewProxiedAuthorizationV2(o.ProxyAs)
			s.addToModifying(c)
			s.search = append(s.search, c)
		} else if o.ProxyV1As != "" {
			c := controls.NewProxiedAuthorizationV1(o.ProxyV1As)
			s.addToModifying(c)
			s.search = append(s.search, c)
		}
	}

	return s, nil
}

// addToModifying appends the control to all four modifying-operation
// lists.
func (s *controlSets) addToModifying(c ldap.Control) {
	s.add = append(s.add, c)
	s.del = append(s.del, c)
	s.modify = append(s.modify, c)
	s.modifyDN = append(s.modifyDN, c)
}
