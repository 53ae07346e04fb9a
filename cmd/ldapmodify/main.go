// Command ldapmodify reads LDIF change records and applies them to a
// directory server, with optional transactional or multi-update grouping.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kimluther18/ldapmodify/internal/controls"
	"github.com/kimluther18/ldapmodify/internal/engine"
	"github.com/kimluther18/ldapmodify/internal/extop"
	"github.com/kimluther18/ldapmodify/internal/ldif"
	"github.com/kimluther18/ldapmodify/internal/notify"
	"github.com/kimluther18/ldapmodify/internal/pool"
	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

const (
	toolName    = "ldapmodify"
	toolVersion = "1.0.0"
)

// connectionFlags carries the server and authentication arguments.
type connectionFlags struct {
	hostnames      []string
	port           int
	useSSL         bool
	useStartTLS    bool
	trustAll       bool
	bindDN         string
	bindPassword   string
	connectTimeout time.Duration
}

func (c *connectionFlags) servers() []string {
	servers := make([]string, 0, len(c.hostnames))
	for _, host := range c.hostnames {
		servers = append(servers, fmt.Sprintf("%s:%d", host, c.port))
	}
	return servers
}

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr, os.Args[1:]))
}

func run(in io.Reader, out, errW io.Writer, args []string) int {
	var (
		conn      connectionFlags
		opts      engine.Options
		ldifFiles []string
		reject    string
	)
	opts.ToolName = toolName
	opts.ToolVersion = toolVersion

	cmd := &cobra.Command{
		Use:           toolName,
		Short:         "Apply a stream of LDIF change records to a directory server",
		Long: toolName + ` reads change records in the LDAP Data Interchange Format and
applies them to one or more directory servers as add, delete, modify, and
modify DN operations, optionally grouped in a transaction or a single
multi-update request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}

	f := cmd.Flags()
	f.StringArrayVarP(&conn.hostnames, "hostname", "H", []string{"localhost"},
		"Directory server hostname, repeatable for ordered failover")
	f.IntVarP(&conn.port, "port", "p", 389, "Directory server port")
	f.BoolVarP(&conn.useSSL, "useSSL", "Z", false, "Secure the connection with TLS from the start")
	f.BoolVar(&conn.useStartTLS, "useStartTLS", false, "Secure the connection with the StartTLS operation")
	f.BoolVar(&conn.trustAll, "trustAll", false, "Trust any server certificate")
	f.StringVarP(&conn.bindDN, "bindDN", "D", "", "DN to bind as")
	f.StringVarP(&conn.bindPassword, "bindPassword", "w", "", "Password to bind with")
	f.DurationVar(&conn.connectTimeout, "connectTimeout", 30*time.Second, "Network timeout")

	f.StringArrayVarP(&ldifFiles, "ldifFile", "f", nil,
		"LDIF file with the changes to apply, repeatable; standard input if absent")
	f.BoolVarP(&opts.DefaultAdd, "defaultAdd", "a", false,
		"Treat records without a changetype as add records")
	f.BoolVar(&opts.StripTrailingSpaces, "stripTrailingSpaces", false,
		"Strip unescaped trailing spaces from LDIF values instead of rejecting them")
	f.StringVar(&opts.CharacterSet, "characterSet", "UTF-8", "Input character set")
	f.StringVarP(&reject, "rejectFile", "R", "", "File to which rejected changes are appended")

	f.StringArrayVar(&opts.ModifyEntryWithDN, "modifyEntryWithDN", nil,
		"Apply each modify record to this DN instead of its own")
	f.StringArrayVar(&opts.ModifyEntriesWithDNsFile, "modifyEntriesWithDNsFromFile", nil,
		"Apply each modify record to every DN in the given file")
	f.StringArrayVar(&opts.ModifyEntriesMatchingFilter, "modifyEntriesMatchingFilter", nil,
		"Apply each modify record to every entry matching the filter below the record's DN")
	f.StringArrayVar(&opts.ModifyEntriesMatchingFiltersFile, "modifyEntriesMatchingFiltersFromFile", nil,
		"Apply each modify record to every entry matching each filter in the given file")
	f.IntVar(&opts.SearchPageSize, "searchPageSize", 0,
		"Use the simple paged results control with this page size for bulk-modify searches")

	f.BoolVar(&opts.UseTransaction, "useTransaction", false,
		"Apply all changes in a single server-side transaction")
	f.StringVar(&opts.MultiUpdateErrorBehavior, "multiUpdateErrorBehavior", "",
		"Send all changes in one multi-update request with this error behavior (atomic, abort-on-error, or continue-on-error)")

	f.BoolVarP(&opts.ContinueOnError, "continueOnError", "c", false,
		"Continue processing after a failed operation")
	f.BoolVar(&opts.RetryFailedOperations, "retryFailedOperations", false,
		"Retry operations that fail because the connection is no longer valid")
	f.BoolVar(&opts.FollowReferrals, "followReferrals", false, "Follow referrals returned by the server")
	f.BoolVarP(&opts.DryRun, "dryRun", "n", false,
		"Report the changes that would be applied without contacting the server")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	f.IntVar(&opts.RatePerSecond, "ratePerSecond", 0, "Upper bound on operations per second")
	f.BoolVar(&opts.UseAdministrativeSession, "useAdministrativeSession", false,
		"Process all operations in the server's administrative session thread pool")

	f.StringArrayVar(&opts.AddControls, "addControl", nil, "Control to include in add requests (oid[:criticality[:value]])")
	f.StringArrayVar(&opts.DeleteControls, "deleteControl", nil, "Control to include in delete requests")
	f.StringArrayVar(&opts.ModifyControls, "modifyControl", nil, "Control to include in modify requests")
	f.StringArrayVar(&opts.ModifyDNControls, "modifyDNControl", nil, "Control to include in modify DN requests")
	f.StringArrayVar(&opts.OperationControls, "operationControl", nil, "Control to include in all modifying requests")
	f.StringArrayVar(&opts.BindControls, "bindControl", nil, "Control to include in the bind request")

	f.BoolVar(&opts.NoOperation, "noOperation", false, "Validate each change without applying it")
	f.BoolVar(&opts.IgnoreNoUserModification, "ignoreNoUserModification", false,
		"Permit adds that include NO-USER-MODIFICATION attributes")
	f.BoolVar(&opts.NameWithEntryUUID, "nameWithEntryUUID", false,
		"Have the server name added entries with their entryUUID")
	f.BoolVar(&opts.PermissiveModify, "permissiveModify", false, "Use the permissive modify control")
	f.BoolVar(&opts.SubtreeDelete, "subtreeDelete", false, "Use the subtree delete control")
	f.BoolVar(&opts.HardDelete, "hardDelete", false, "Permanently delete entries, bypassing soft deletion")
	f.BoolVar(&opts.SoftDelete, "softDelete", false, "Hide deleted entries rather than removing them")
	f.BoolVar(&opts.AllowUndelete, "allowUndelete", false,
		"Attach the undelete control to adds that restore soft-deleted entries")
	f.BoolVar(&opts.SuppressReferentialIntegrityUpdates, "suppressReferentialIntegrityUpdates", false,
		"Suppress referential integrity processing for deletes and modify DNs")
	f.StringArrayVar(&opts.SuppressOperationalAttributeUpdates, "suppressOperationalAttributeUpdates", nil,
		"Operational attribute family whose updates to suppress (last-access-time, last-login-time, last-login-ip, lastmod)")
	f.BoolVar(&opts.UsePasswordPolicyControl, "usePasswordPolicyControl", false,
		"Use the password policy request control")
	f.BoolVar(&opts.PasswordValidationDetails, "getPasswordValidationDetails", false,
		"Request per-validator detail for proposed passwords")
	f.BoolVar(&opts.RetireCurrentPassword, "retireCurrentPassword", false,
		"Retire the current password when changing a password")
	f.BoolVar(&opts.PurgeCurrentPassword, "purgeCurrentPassword", false,
		"Purge the current password when changing a password")
	f.BoolVar(&opts.AssuredReplication, "useAssuredReplication", false,
		"Delay responses until the requested replication assurance is met")
	f.StringVar(&opts.AssuredReplicationLocalLevel, "assuredReplicationLocalLevel", "",
		"Local assurance level (none, received-any-server, processed-all-servers)")
	f.StringVar(&opts.AssuredReplicationRemoteLevel, "assuredReplicationRemoteLevel", "",
		"Remote assurance level (none, received-any-remote-location, received-all-remote-locations, processed-all-remote-servers)")
	f.DurationVar(&opts.AssuredReplicationTimeout, "assuredReplicationTimeout", 0,
		"Assured replication timeout")
	f.BoolVar(&opts.ReplicationRepair, "replicationRepair", false,
		"Apply changes to the local server only, without replicating them")
	f.StringVar(&opts.AssertionFilter, "assertionFilter", "",
		"Only apply each change if the target entry matches this filter")
	f.StringVar(&opts.OperationPurpose, "operationPurpose", "",
		"Purpose annotation recorded in the server's access log")
	f.BoolVar(&opts.ManageDsaIT, "manageDsaIT", false, "Treat referral entries as regular entries")
	f.StringArrayVar(&opts.PreReadAttributes, "preReadAttribute", nil,
		"Attributes to capture from the entry before the change (comma- or space-separated)")
	f.StringArrayVar(&opts.PostReadAttributes, "postReadAttribute", nil,
		"Attributes to capture from the entry after the change")
	f.StringVar(&opts.ProxyAs, "proxyAs", "",
		"Authorization identity to proxy as (authzID form)")
	f.StringVar(&opts.ProxyV1As, "proxyV1As", "", "DN to proxy as, using the v1 control")
	f.StringArrayVar(&opts.GetAuthorizationEntryAttributes, "getAuthorizationEntryAttribute", nil,
		"Request the authorization entry with these attributes on the bind")
	f.BoolVar(&opts.GetUserResourceLimits, "getUserResourceLimits", false,
		"Request the user's resource limits on the bind")
	f.BoolVar(&opts.AuthorizationIdentity, "authzIdentity", false,
		"Request the authorization identity on the bind")

	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errW)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(errW, "# %v\n", err)
		return resultcode.ParamError.ExitCode()
	}
	if helpRequested(args) {
		return resultcode.Success.ExitCode()
	}

	opts.HasRejectFile = reject != ""
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(errW, "# %v\n", err)
		return resultcode.ParamError.ExitCode()
	}

	logger := zap.NewNop()
	if opts.Verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		if built, err := cfg.Build(); err == nil {
			logger = built
			defer logger.Sync()
		}
	}

	reader, closeInput, err := openChangeStream(in, ldifFiles, &opts)
	if err != nil {
		fmt.Fprintf(errW, "# Unable to open the LDIF input: %v\n", err)
		return resultcode.LocalError.ExitCode()
	}
	defer closeInput()

	var rejects *ldif.RejectWriter
	if reject != "" {
		rejectFile, err := os.OpenFile(reject, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(errW, "# Unable to open the reject file %s: %v\n", reject, err)
			return resultcode.LocalError.ExitCode()
		}
		rejects = ldif.NewRejectWriter(rejectFile, errW, reject)
		defer rejects.Close()
	}

	var dir engine.Directory
	if !opts.DryRun {
		p, res := connectPool(&conn, &opts, out, errW, logger)
		if res != nil {
			// The health check has already reported a bind failure; repeat
			// the details only for other kinds of failure.
			if res.Code != resultcode.InvalidCredentials {
				for _, line := range result.Format(res) {
					fmt.Fprintln(errW, line)
				}
			}
			return res.Code.ExitCode()
		}
		defer p.Close()
		if opts.RetryFailedOperations {
			p.SetRetryFailedOperations(true)
		}
		dir = p
	}

	eng, err := engine.New(opts, dir, out, errW, rejects, logger)
	if err != nil {
		fmt.Fprintf(errW, "# %v\n", err)
		return resultcode.ParamError.ExitCode()
	}
	return eng.Run(context.Background(), reader).ExitCode()
}

// openChangeStream builds the LDIF reader over the input files, or over
// standard input when none are named.
func openChangeStream(in io.Reader, paths []string, opts *engine.Options) (*ldif.Reader, func(), error) {
	trailing := ldif.RejectTrailingSpaces
	if opts.StripTrailingSpaces {
		trailing = ldif.StripTrailingSpaces
	}
	readerOpts := ldif.ReaderOptions{
		DefaultAdd:     opts.DefaultAdd,
		TrailingSpaces: trailing,
		CharacterSet:   opts.CharacterSet,
	}

	if len(paths) == 0 {
		return ldif.NewReader(in, readerOpts), func() {}, nil
	}

	readers := make([]io.Reader, 0, len(paths))
	files := make([]*os.File, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	return ldif.NewReader(io.MultiReader(readers...), readerOpts), closeAll, nil
}

// connectPool builds the connection pool: one connection initially, at
// most two, with the bind-result health check and the unsolicited
// notification sink wired in.
func connectPool(conn *connectionFlags, opts *engine.Options, out, errW io.Writer,
	logger *zap.Logger) (*pool.Pool, *result.Result) {

	var tlsConfig *tls.Config
	if conn.useSSL || conn.useStartTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: conn.trustAll} //nolint:gosec // --trustAll is explicit
	}

	var postConnect pool.PostConnectProcessor
	if opts.UseAdministrativeSession {
		session := extop.NewStartAdministrativeSession(toolName)
		postConnect = func(c pool.Conn) *result.Result {
			return session.Send(c)
		}
	}

	var bindControls []ldap.Control
	for _, spec := range opts.BindControls {
		c, err := controls.ParseGeneric(spec)
		if err != nil {
			return nil, result.Local(resultcode.ParamError, err.Error())
		}
		bindControls = append(bindControls, c)
	}
	if opts.AuthorizationIdentity {
		bindControls = append(bindControls, controls.NewAuthorizationIdentity())
	}
	if opts.GetUserResourceLimits {
		bindControls = append(bindControls, controls.NewGetUserResourceLimits())
	}
	if len(opts.GetAuthorizationEntryAttributes) > 0 {
		bindControls = append(bindControls, controls.NewGetAuthorizationEntry(
			controls.TokenizeAttributes(opts.GetAuthorizationEntryAttributes)))
	}

	return pool.New(pool.Config{
		Servers:       conn.servers(),
		UseTLS:        conn.useSSL,
		StartTLS:      conn.useStartTLS,
		TLSConfig:     tlsConfig,
		BindDN:        conn.bindDN,
		BindPassword:  conn.bindPassword,
		BindControls:  bindControls,
		Timeout:       conn.connectTimeout,
		PostConnect:   postConnect,
		InitialSize:   1,
		MaxSize:       2,
		HealthCheck:   &bindReporter{out: out, errW: errW, verbose: opts.Verbose},
		Notifications: notify.NewSink(errW, logger),
		Logger:        logger,
	})
}

// bindReporter prints the result of every bind attempt: failures always,
// successes only in verbose mode.
type bindReporter struct {
	out     io.Writer
	errW    io.Writer
	verbose bool
}

func (r *bindReporter) ReportBindResult(server string, res *result.Result) {
	if res.IsSuccess() {
		if r.verbose {
			fmt.Fprintf(r.out, "# Successfully authenticated to %s\n", server)
		}
		return
	}
	fmt.Fprintf(r.errW, "# Unable to authenticate to %s:\n", server)
	for _, line := range result.Format(res) {
		fmt.Fprintln(r.errW, line)
	}
}

func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
