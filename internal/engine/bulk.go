package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/controls"
	"github.com/kimluther18/ldapmodify/internal/ldif"
	"github.com/kimluther18/ldapmodify/internal/pool"
	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// noAttributes requests DNs only (RFC 4511 §4.5.1.8).
var noAttributes = []string{"1.1"}

// handleBulkModify fans the change record out across every configured
// target selector, one selector kind at a time: filters, filter files, DNs,
// then DN files, each kind in the order its values were supplied. The
// relative order of selectors of different kinds on the command line is not
// preserved. A record that is not a modify record is rejected per selector
// with a parameter error.
func (e *Engine) handleBulkModify(ctx context.Context, record ldif.Record) {
	for _, filter := range e.opts.ModifyEntriesMatchingFilter {
		code := e.modifyMatchingFilter(ctx, record, "--modifyEntriesMatchingFilter", filter)
		e.recordContinuable(code)
	}

	for _, path := range e.opts.ModifyEntriesMatchingFiltersFile {
		e.forEachFileValue(path, "filter", func(filter string) resultcode.Code {
			if _, err := ldap.CompileFilter(filter); err != nil {
				e.commentToErr(fmt.Sprintf("Unable to parse filter %q from file %s: %v", filter, path, err))
				return resultcode.FilterError
			}
			return e.modifyMatchingFilter(ctx, record, "--modifyEntriesMatchingFiltersFromFile", filter)
		})
	}

	for _, dn := range e.opts.ModifyEntryWithDN {
		code := e.modifyWithDN(ctx, record, "--modifyEntryWithDN", dn)
		e.recordContinuable(code)
	}

	for _, path := range e.opts.ModifyEntriesWithDNsFile {
		e.forEachFileValue(path, "DN", func(dn string) resultcode.Code {
			dn = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(dn, "dn:"), " "))
			if _, err := ldap.ParseDN(dn); err != nil {
				e.commentToErr(fmt.Sprintf("Unable to parse DN %q from file %s: %v", dn, path, err))
				return resultcode.ParamError
			}
			return e.modifyWithDN(ctx, record, "--modifyEntriesWithDNsFromFile", dn)
		})
	}
}

// forEachFileValue reads one value per non-comment line of the file and
// applies fn to each. Parse failures honor --continueOnError; I/O failures
// are fatal local errors.
func (e *Engine) forEachFileValue(path, kind string, fn func(value string) resultcode.Code) {
	f, err := os.Open(path)
	if err != nil {
		e.commentToErr(fmt.Sprintf("Unable to open the %s file %s: %v", kind, path, err))
		e.recordFatal(resultcode.LocalError)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		value := strings.TrimSpace(scanner.Text())
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		code := fn(value)
		if code == resultcode.Success {
			continue
		}
		if code == resultcode.FilterError || code == resultcode.ParamError {
			if !e.opts.ContinueOnError {
				e.recordFatal(code)
				return
			}
		}
		e.recordContinuable(code)
	}
	if err := scanner.Err(); err != nil {
		e.commentToErr(fmt.Sprintf("An I/O error occurred while reading the %s file %s: %v", kind, path, err))
		e.recordFatal(resultcode.LocalError)
	}
}

// modifyWithDN applies the record's modifications to the supplied DN in
// place of the record's own DN.
func (e *Engine) modifyWithDN(ctx context.Context, record ldif.Record, argName, dn string) resultcode.Code {
	modifyRecord, ok := record.(*ldif.ModifyRecord)
	if !ok {
		e.rejects.Write(fmt.Sprintf(
			"Only modify change records may be used with the %s argument.", argName), record, nil)
		return resultcode.ParamError
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return resultcode.UserCanceled
		}
	}

	res, _ := e.doModify(modifyRecord.WithDN(dn))
	return res.Code
}

// pagedState tracks one (record, filter) pair across pages and retries.
type pagedState struct {
	cookie           []byte
	entriesProcessed uint64
	processedDNs     map[string]struct{}
}

// modifyMatchingFilter discovers target DNs with a subtree search under
// the record's DN and applies the record's modifications to each. With a
// page size configured, the search walks the simple-paged-results
// sub-protocol; the processed-DN set keeps retried pages idempotent.
func (e *Engine) modifyMatchingFilter(ctx context.Context, record ldif.Record,
	argName, filter string) resultcode.Code {

	modifyRecord, ok := record.(*ldif.ModifyRecord)
	if !ok {
		e.rejects.Write(fmt.Sprintf(
			"Only modify change records may be used with the %s argument.", argName), record, nil)
		return resultcode.ParamError
	}

	state := &pagedState{processedDNs: make(map[string]struct{})}
	code := resultcode.Success

	for {
		onEntry := func(dn string) {
			key := normalizeDN(dn)
			if _, done := state.processedDNs[key]; done {
				return
			}
			state.processedDNs[key] = struct{}{}
			state.entriesProcessed++

			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return
				}
			}
			res, _ := e.doModify(modifyRecord.WithDN(dn))
			if code == resultcode.Success && !res.IsSuccess() {
				code = res.Code
			}
		}

		searchReq := ldap.NewSearchRequest(modifyRecord.DN(), ldap.ScopeWholeSubtree,
			ldap.NeverDerefAliases, 0, 0, false, filter, noAttributes, nil)
		searchReq.Controls = append(searchReq.Controls, e.sets.search...)
		if e.opts.SearchPageSize > 0 {
			paging := ldap.NewControlPaging(uint32(e.opts.SearchPageSize))
			paging.SetCookie(state.cookie)
			searchReq.Controls = append(searchReq.Controls, paging)
		}

		// The pool's automatic retry cannot help a search that has already
		// streamed entries, so the search runs on a borrowed connection
		// and the driver does its own single replace-and-retry.
		conn, err := e.dir.Acquire()
		if err != nil {
			res := result.FromError(err)
			e.rejects.Write(fmt.Sprintf(
				"Unable to obtain a connection to search for entries matching filter %q below %s.",
				filter, modifyRecord.DN()), modifyRecord, res)
			return res.Code
		}

		searchRes := conn.SearchDNs(searchReq, onEntry)
		connectionValid := false
		switch {
		case searchRes.Code == resultcode.Success:
			connectionValid = true

		case searchRes.Code.IsConnectionUsable():
			connectionValid = true
			e.rejects.Write(fmt.Sprintf(
				"The search for entries matching filter %q below %s failed.",
				filter, modifyRecord.DN()), modifyRecord, searchRes)
			e.dir.Release(conn)
			return searchRes.Code

		case e.opts.RetryFailedOperations:
			replacement, replaceErr := e.dir.ReplaceDefunct(conn)
			if replaceErr != nil {
				e.rejects.Write(fmt.Sprintf(
					"The search for entries matching filter %q below %s failed, and a replacement connection could not be established.",
					filter, modifyRecord.DN()), modifyRecord, searchRes)
				return searchRes.Code
			}
			conn = replacement
			searchRes = conn.SearchDNs(searchReq, onEntry)
			if searchRes.Code == resultcode.Success {
				connectionValid = true
			} else {
				connectionValid = searchRes.Code.IsConnectionUsable()
				e.rejects.Write(fmt.Sprintf(
					"The search for entries matching filter %q below %s failed.",
					filter, modifyRecord.DN()), modifyRecord, searchRes)
				e.releaseSearchConn(conn, connectionValid)
				return searchRes.Code
			}

		default:
			e.rejects.Write(fmt.Sprintf(
				"The search for entries matching filter %q below %s failed.",
				filter, modifyRecord.DN()), modifyRecord, searchRes)
			e.dir.ReleaseDefunct(conn)
			return searchRes.Code
		}
		e.releaseSearchConn(conn, connectionValid)

		if e.opts.SearchPageSize <= 0 {
			e.searchCompleted(state, modifyRecord.DN(), filter)
			return code
		}

		cookie, decodeRes := pagedCookie(searchRes)
		if decodeRes != nil {
			e.rejects.Write(fmt.Sprintf(
				"The search result for filter %q below %s did not include a valid simple paged results response control.",
				filter, modifyRecord.DN()), modifyRecord, decodeRes)
			return decodeRes.Code
		}
		state.cookie = cookie
		if len(cookie) == 0 {
			e.searchCompleted(state, modifyRecord.DN(), filter)
			return code
		}
		if e.opts.Verbose {
			e.commentToOut(fmt.Sprintf(
				"Retrieved the next page of the search for filter %q below %s; %d entries processed so far.",
				filter, modifyRecord.DN(), state.entriesProcessed))
		}
	}
}

func (e *Engine) releaseSearchConn(conn pool.Conn, valid bool) {
	if valid {
		e.dir.Release(conn)
	} else {
		e.dir.ReleaseDefunct(conn)
	}
}

func (e *Engine) searchCompleted(state *pagedState, baseDN, filter string) {
	e.commentToOut(fmt.Sprintf("Processed %d entries matching filter %q below %s.",
		state.entriesProcessed, filter, baseDN))
	fmt.Fprintln(e.out)
}

// pagedCookie extracts the continuation cookie from the search result's
// simple-paged-results response control. A missing control is a
// CONTROL_NOT_FOUND failure; a malformed one is a decoding failure.
func pagedCookie(searchRes *result.Result) ([]byte, *result.Result) {
	control := searchRes.ResponseControl(controls.OIDPagedResults)
	if control == nil {
		return nil, result.Local(resultcode.ControlNotFound,
			"the search result did not include the expected simple paged results response control")
	}
	if !control.HasValue {
		return nil, result.Local(resultcode.DecodingError,
			"the simple paged results response control has no value")
	}
	packet, err := ber.DecodePacketErr(control.Value)
	if err != nil || len(packet.Children) < 2 {
		return nil, result.Local(resultcode.DecodingError,
			"the simple paged results response control value is malformed")
	}
	return packet.Children[1].Data.Bytes(), nil
}

// normalizeDN canonicalizes a DN for the processed-DN set. A DN that does
// not parse participates with simple case folding.
func normalizeDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(dn))
	}
	return strings.ToLower(parsed.String())
}
