// Package engine implements the change-application engine: it consumes
// LDIF change records, composes the corresponding directory requests with
// their controls, dispatches them through the connection pool, and applies
// the failure and grouping policy.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/kimluther18/ldapmodify/internal/extop"
	"github.com/kimluther18/ldapmodify/internal/ldif"
)

// Options carries the per-invocation configuration, populated from the
// command line.
type Options struct {
	ToolName    string
	ToolVersion string

	// Input handling.
	DefaultAdd          bool
	StripTrailingSpaces bool
	CharacterSet        string
	HasRejectFile       bool

	// Target selection for bulk modifies.
	ModifyEntriesMatchingFilter      []string
	ModifyEntriesMatchingFiltersFile []string
	ModifyEntryWithDN                []string
	ModifyEntriesWithDNsFile         []string

	// Grouping.
	UseTransaction           bool
	MultiUpdateErrorBehavior string

	// Policy.
	ContinueOnError          bool
	RetryFailedOperations    bool
	FollowReferrals          bool
	DryRun                   bool
	Verbose                  bool
	RatePerSecond            int
	SearchPageSize           int
	UseAdministrativeSession bool

	// Generic controls, as "oid[:criticality[:value]]" specifications.
	AddControls      []string
	DeleteControls   []string
	ModifyControls   []string
	ModifyDNControls []string
	BindControls     []string
	OperationControls []string

	// Typed controls.
	NoOperation                         bool
	IgnoreNoUserModification            bool
	NameWithEntryUUID                   bool
	PermissiveModify                    bool
	SubtreeDelete                       bool
	HardDelete                          bool
	SoftDelete                          bool
	AllowUndelete                       bool
	SuppressReferentialIntegrityUpdates bool
	SuppressOperationalAttributeUpdates []string
	UsePasswordPolicyControl            bool
	PasswordValidationDetails           bool
	RetireCurrentPassword               bool
	PurgeCurrentPassword                bool
	AssuredReplication                  bool
	AssuredReplicationLocalLevel        string
	AssuredReplicationRemoteLevel       string
	AssuredReplicationTimeout           time.Duration
	ReplicationRepair                   bool
	AssertionFilter                     string
	OperationPurpose                    string
	ManageDsaIT                         bool
	PreReadAttributes                   []string
	PostReadAttributes                  []string
	ProxyAs                             string
	ProxyV1As                           string
	GetAuthorizationEntryAttributes     []string
	GetUserResourceLimits               bool
	AuthorizationIdentity               bool
}

// MultiUpdate reports whether multi-update grouping is in effect.
func (o *Options) MultiUpdate() bool { return o.MultiUpdateErrorBehavior != "" }

// BulkModify reports whether any bulk-modify target selector is present.
func (o *Options) BulkModify() bool {
	return len(o.ModifyEntriesMatchingFilter) > 0 ||
		len(o.ModifyEntriesMatchingFiltersFile) > 0 ||
		len(o.ModifyEntryWithDN) > 0 ||
		len(o.ModifyEntriesWithDNsFile) > 0
}

// Validate enforces the exclusion rules between grouping modes and the
// arguments incompatible with them. Violations are parameter errors.
func (o *Options) Validate() error {
	if o.UseTransaction && o.MultiUpdate() {
		return errors.New("--useTransaction and --multiUpdateErrorBehavior are mutually exclusive")
	}
	if o.MultiUpdate() {
		if _, err := extop.ParseErrorBehavior(o.MultiUpdateErrorBehavior); err != nil {
			return err
		}
	}

	if o.UseTransaction || o.MultiUpdate() {
		groupingArg := "--useTransaction"
		if o.MultiUpdate() {
			groupingArg = "--multiUpdateErrorBehavior"
		}
		incompatible := []struct {
			present bool
			name    string
		}{
			{o.ContinueOnError, "--continueOnError"},
			{o.FollowReferrals, "--followReferrals"},
			{o.NoOperation, "--noOperation"},
			{o.RetryFailedOperations, "--retryFailedOperations"},
			{o.DryRun, "--dryRun"},
			{len(o.AddControls) > 0, "--addControl"},
			{len(o.DeleteControls) > 0, "--deleteControl"},
			{len(o.ModifyControls) > 0, "--modifyControl"},
			{len(o.ModifyDNControls) > 0, "--modifyDNControl"},
			{o.NameWithEntryUUID, "--nameWithEntryUUID"},
			{o.HasRejectFile, "--rejectFile"},
			{len(o.ModifyEntriesMatchingFilter) > 0, "--modifyEntriesMatchingFilter"},
			{len(o.ModifyEntriesMatchingFiltersFile) > 0, "--modifyEntriesMatchingFiltersFromFile"},
			{len(o.ModifyEntryWithDN) > 0, "--modifyEntryWithDN"},
			{len(o.ModifyEntriesWithDNsFile) > 0, "--modifyEntriesWithDNsFromFile"},
		}
		for _, arg := range incompatible {
			if arg.present {
				return fmt.Errorf("%s cannot be used with %s", arg.name, groupingArg)
			}
		}
		if o.MultiUpdate() && o.RatePerSecond > 0 {
			return fmt.Errorf("--ratePerSecond cannot be used with %s", groupingArg)
		}
	}

	if o.ProxyAs != "" && o.ProxyV1As != "" {
		return errors.New("--proxyAs and --proxyV1As are mutually exclusive")
	}
	if o.RetireCurrentPassword && o.PurgeCurrentPassword {
		return errors.New("--retireCurrentPassword and --purgeCurrentPassword are mutually exclusive")
	}
	if !o.AssuredReplication &&
		(o.AssuredReplicationLocalLevel != "" || o.AssuredReplicationRemoteLevel != "" ||
			o.AssuredReplicationTimeout > 0) {
		return errors.New("the assured replication level and timeout arguments require --useAssuredReplication")
	}
	if o.SearchPageSize > 0 &&
		len(o.ModifyEntriesMatchingFilter) == 0 &&
		len(o.ModifyEntriesMatchingFiltersFile) == 0 {
		return errors.New("--searchPageSize requires a filter-based bulk modify argument")
	}
	if !ldif.SupportedCharacterSet(o.CharacterSet) {
		return fmt.Errorf("unsupported character set %q", o.CharacterSet)
	}
	return nil
}
