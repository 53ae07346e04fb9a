package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kimluther18/ldapmodify/internal/extop"
	"github.com/kimluther18/ldapmodify/internal/ldif"
	"github.com/kimluther18/ldapmodify/internal/pool"
	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// Directory is the connection surface the engine dispatches through.
// Implemented by *pool.Pool; faked in tests.
type Directory interface {
	Acquire() (pool.Conn, error)
	Release(conn pool.Conn)
	ReleaseDefunct(conn pool.Conn)
	ReplaceDefunct(conn pool.Conn) (pool.Conn, error)
	HostPort() string

	Add(req *ldap.AddRequest) *result.Result
	Delete(req *ldap.DelRequest) *result.Result
	Modify(req *ldap.ModifyRequest) *result.Result
	ModifyDN(req *ldap.ModifyDNRequest) *result.Result
	ProcessExtended(name string, value []byte, controls []ldap.Control) *result.Extended
}

// Engine is the change-application state machine.
type Engine struct {
	opts Options
	dir  Directory
	out  io.Writer
	errW io.Writer
	rejects *ldif.RejectWriter
	log     *zap.Logger

	sets    *controlSets
	limiter *rate.Limiter

	// Grouping state.
	txnID             []byte
	commitTransaction bool
	multiUpdate       []extop.Request

	// Final-code selection: the first fatal code wins; otherwise the first
	// continuable non-success.
	firstFatal       *resultcode.Code
	firstContinuable *resultcode.Code
}

// New builds an engine. dir may be nil for a dry run. rejects may be nil
// when no reject file is configured.
func New(opts Options, dir Directory, out, errW io.Writer,
	rejects *ldif.RejectWriter, log *zap.Logger) (*Engine, error) {

	sets, err := buildControlSets(&opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:              opts,
		dir:               dir,
		out:               out,
		errW:              errW,
		rejects:           rejects,
		log:               log,
		sets:              sets,
		commitTransaction: true,
	}
	if log == nil {
		e.log = zap.NewNop()
	}
	if opts.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return e, nil
}

// Run consumes the change-record stream and returns the final result code.
func (e *Engine) Run(ctx context.Context, reader *ldif.Reader) resultcode.Code {
	if e.dir != nil {
		e.commentToOut(fmt.Sprintf("Connection established to %s", e.dir.HostPort()))
		fmt.Fprintln(e.out)
	}

	if e.opts.UseTransaction {
		if code, ok := e.startTransaction(); !ok {
			return code
		}
	}

	isBulkModify := e.opts.BulkModify()

readLoop:
	for {
		if e.limiter != nil && !isBulkModify {
			if err := e.limiter.Wait(ctx); err != nil {
				break
			}
		}

		record, err := reader.ReadChangeRecord()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			break readLoop
		default:
			var parseErr *ldif.ParseError
			if !errors.As(err, &parseErr) {
				message := fmt.Sprintf("An I/O error occurred while attempting to read a change record: %v", err)
				e.commentToErr(message)
				e.rejects.Write(message, nil, nil)
				e.commitTransaction = false
				e.recordFatal(resultcode.LocalError)
				break readLoop
			}

			recoverable := parseErr.MayContinueReading() && !e.opts.UseTransaction
			var message strings.Builder
			if recoverable {
				fmt.Fprintf(&message, "A recoverable error occurred while attempting to read a change record at or near line %d: %s",
					parseErr.Line, parseErr.Message)
			} else {
				fmt.Fprintf(&message, "An unrecoverable error occurred while attempting to read a change record at or near line %d: %s",
					parseErr.Line, parseErr.Message)
			}
			if len(parseErr.DataLines) > 0 {
				message.WriteString("\n\nThe invalid lines were:\n")
				message.WriteString(strings.Join(parseErr.DataLines, "\n"))
			}
			e.commentToErr(message.String())
			e.rejects.Write(message.String(), nil, nil)

			if recoverable {
				e.recordContinuable(resultcode.LocalError)
				continue
			}
			e.commitTransaction = false
			e.recordFatal(resultcode.LocalError)
			break readLoop
		}

		if isBulkModify {
			e.handleBulkModify(ctx, record)
			if e.firstFatal != nil {
				break
			}
			continue
		}

		var res *result.Result
		var fatal bool
		switch rec := record.(type) {
		case *ldif.AddRecord:
			res, fatal = e.doAdd(rec)
		case *ldif.DeleteRecord:
			res, fatal = e.doDelete(rec)
		case *ldif.ModifyRecord:
			res, fatal = e.doModify(rec)
		case *ldif.ModifyDNRecord:
			res, fatal = e.doModifyDN(rec)
		default:
			e.commentToErr("The change record has an unsupported change type.")
			e.recordFatal(resultcode.ParamError)
			e.commitTransaction = false
			break readLoop
		}

		if fatal {
			e.commitTransaction = false
			e.recordFatal(res.Code)
			break readLoop
		}
		e.recordContinuable(res.Code)
	}

	switch {
	case e.opts.UseTransaction:
		e.endTransaction()
	case e.opts.MultiUpdate():
		e.sendMultiUpdate()
	}

	return e.finalCode()
}

// recordContinuable notes a non-fatal outcome for final-code selection.
func (e *Engine) recordContinuable(code resultcode.Code) {
	if code == resultcode.Success || code == resultcode.NoOperation {
		return
	}
	if e.firstContinuable == nil {
		c := code
		e.firstContinuable = &c
	}
}

// recordFatal notes a loop-breaking outcome.
func (e *Engine) recordFatal(code resultcode.Code) {
	if e.firstFatal == nil {
		c := code
		e.firstFatal = &c
	}
}

func (e *Engine) finalCode() resultcode.Code {
	if e.firstFatal != nil {
		return *e.firstFatal
	}
	if e.firstContinuable != nil {
		return *e.firstContinuable
	}
	return resultcode.Success
}

// setFinalOverride replaces the final code with the grouping operation's
// result when no earlier failure takes precedence.
func (e *Engine) setFinalOverride(code resultcode.Code) {
	if code == resultcode.Success {
		return
	}
	if e.firstFatal == nil && e.firstContinuable == nil {
		c := code
		e.firstFatal = &c
	}
}

// doAdd processes one add record: compose, group or dispatch, interpret.
func (e *Engine) doAdd(rec *ldif.AddRecord) (*result.Result, bool) {
	req := e.composeAdd(rec)

	if e.opts.MultiUpdate() {
		e.multiUpdate = append(e.multiUpdate, extop.Request{Add: req})
		e.commentToOut(fmt.Sprintf("Added the add request for entry %s to the multi-update request.", req.DN))
		return result.Success(), false
	}
	if e.opts.DryRun {
		e.commentToOut(fmt.Sprintf("dry-run: not attempting to add entry %s.", req.DN))
		return result.Success(), false
	}

	e.commentToOut(fmt.Sprintf("Adding entry %s", req.DN))
	e.verboseRecord(rec)

	res := e.dir.Add(req)
	e.displayResult(res)
	return res, e.interpret(rec, res)
}

// doDelete processes one delete record.
func (e *Engine) doDelete(rec *ldif.DeleteRecord) (*result.Result, bool) {
	req := e.composeDelete(rec)

	if e.opts.MultiUpdate() {
		e.multiUpdate = append(e.multiUpdate, extop.Request{Delete: req})
		e.commentToOut(fmt.Sprintf("Added the delete request for entry %s to the multi-update request.", req.DN))
		return result.Success(), false
	}
	if e.opts.DryRun {
		e.commentToOut(fmt.Sprintf("dry-run: not attempting to delete entry %s.", req.DN))
		return result.Success(), false
	}

	e.commentToOut(fmt.Sprintf("Deleting entry %s", req.DN))
	e.verboseRecord(rec)

	res := e.dir.Delete(req)
	e.displayResult(res)
	return res, e.interpret(rec, res)
}

// doModify processes one modify record.
func (e *Engine) doModify(rec *ldif.ModifyRecord) (*result.Result, bool) {
	req := e.composeModify(rec)

	if e.opts.MultiUpdate() {
		e.multiUpdate = append(e.multiUpdate, extop.Request{Modify: req})
		e.commentToOut(fmt.Sprintf("Added the modify request for entry %s to the multi-update request.", req.DN))
		return result.Success(), false
	}
	if e.opts.DryRun {
		e.commentToOut(fmt.Sprintf("dry-run: not attempting to modify entry %s.", req.DN))
		return result.Success(), false
	}

	e.commentToOut(fmt.Sprintf("Modifying entry %s", req.DN))
	e.verboseRecord(rec)

	res := e.dir.Modify(req)
	e.displayResult(res)
	return res, e.interpret(rec, res)
}

// doModifyDN processes one modify DN record. A malformed DN does not block
// dispatch; the server may apply its own handling.
func (e *Engine) doModifyDN(rec *ldif.ModifyDNRecord) (*result.Result, bool) {
	req := e.composeModifyDN(rec)

	if e.opts.MultiUpdate() {
		e.multiUpdate = append(e.multiUpdate, extop.Request{ModifyDN: req})
		e.commentToOut(fmt.Sprintf("Added the modify DN request for entry %s to the multi-update request.", req.DN))
		return result.Success(), false
	}

	newDN, newDNErr := rec.NewDN()
	if e.opts.DryRun {
		e.commentToOut(e.describeModifyDN(rec, newDN, newDNErr, true))
		return result.Success(), false
	}

	e.commentToOut(e.describeModifyDN(rec, newDN, newDNErr, false))
	e.verboseRecord(rec)

	res := e.dir.ModifyDN(req)
	e.displayResult(res)
	return res, e.interpret(rec, res)
}

func (e *Engine) describeModifyDN(rec *ldif.ModifyDNRecord, newDN string, newDNErr error, dryRun bool) string {
	verb := "Renaming"
	if rec.HasSuperior {
		verb = "Moving"
	}
	target := ""
	if newDNErr == nil {
		target = " to " + newDN
	}
	if dryRun {
		action := "rename"
		if rec.HasSuperior {
			action = "move"
		}
		return fmt.Sprintf("dry-run: not attempting to %s entry %s%s.", action, rec.DN(), target)
	}
	return fmt.Sprintf("%s entry %s%s", verb, rec.DN(), target)
}

// interpret applies the per-result policy: success and no-operation
// continue; an assertion failure is always fatal; any other failure is
// fatal in transactional or non-continue modes.
func (e *Engine) interpret(rec ldif.Record, res *result.Result) bool {
	switch res.Code {
	case resultcode.Success, resultcode.NoOperation:
		return false

	case resultcode.AssertionFailed:
		e.rejects.Write(fmt.Sprintf(
			"The server rejected the change to entry %s because the assertion filter %q did not match the target entry.",
			rec.DN(), e.opts.AssertionFilter), rec, res)
		return true

	default:
		e.rejects.Write("", rec, res)
		return e.opts.UseTransaction || !e.opts.ContinueOnError
	}
}

// displayResult renders the result on standard output for successes and on
// standard error otherwise.
func (e *Engine) displayResult(res *result.Result) {
	w := e.out
	if !res.IsSuccess() {
		w = e.errW
	}
	for _, line := range result.Format(res) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func (e *Engine) verboseRecord(rec ldif.Record) {
	if !e.opts.Verbose {
		return
	}
	for _, line := range rec.LDIF() {
		fmt.Fprintln(e.out, line)
	}
	fmt.Fprintln(e.out)
}

func (e *Engine) commentToOut(message string) {
	writeCommented(e.out, message)
}

func (e *Engine) commentToErr(message string) {
	writeCommented(e.errW, message)
}

func writeCommented(w io.Writer, message string) {
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintln(w, "# "+line)
	}
}
