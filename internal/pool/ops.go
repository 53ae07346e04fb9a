package pool

import (
	"go.uber.org/zap"

	"github.com/go-ldap/ldap/v3"

	"github.com/kimluther18/ldapmodify/internal/result"
)

// Add dispatches an add request on a pooled connection.
func (p *Pool) Add(req *ldap.AddRequest) *result.Result {
	return p.dispatch("add", func(c Conn) *result.Result { return c.Add(req) })
}

// Delete dispatches a delete request on a pooled connection.
func (p *Pool) Delete(req *ldap.DelRequest) *result.Result {
	return p.dispatch("delete", func(c Conn) *result.Result { return c.Delete(req) })
}

// Modify dispatches a modify request on a pooled connection.
func (p *Pool) Modify(req *ldap.ModifyRequest) *result.Result {
	return p.dispatch("modify", func(c Conn) *result.Result { return c.Modify(req) })
}

// ModifyDN dispatches a modify DN request on a pooled connection.
func (p *Pool) ModifyDN(req *ldap.ModifyDNRequest) *result.Result {
	return p.dispatch("modify DN", func(c Conn) *result.Result { return c.ModifyDN(req) })
}

// ProcessExtended dispatches an extended request, with optional request
// controls, on a pooled connection.
func (p *Pool) ProcessExtended(name string, value []byte, controls []ldap.Control) *result.Extended {
	var resp *result.Extended
	res := p.dispatch("extended "+name, func(c Conn) *result.Result {
		resp = c.Extended(name, value, controls)
		return &resp.Result
	})
	if resp == nil {
		// The dispatch failed before any connection could run the request.
		return result.LocalExtended(res)
	}
	return resp
}

// dispatch runs op on a connection checked out of the pool, classifying
// the outcome and transparently retrying once on a replacement connection
// when retry is enabled and the failure indicates a broken connection.
func (p *Pool) dispatch(kind string, op func(Conn) *result.Result) *result.Result {
	conn, err := p.Acquire()
	if err != nil {
		return result.FromError(err)
	}

	res := op(conn)
	if res.Code.IsConnectionUsable() {
		p.Release(conn)
		return res
	}

	if !p.retry {
		p.ReleaseDefunct(conn)
		return res
	}

	p.log.Debug("retrying on a replacement connection",
		zap.String("operation", kind), zap.Stringer("code", res.Code))
	replacement, replaceErr := p.ReplaceDefunct(conn)
	if replaceErr != nil {
		return res
	}

	res = op(replacement)
	if res.Code.IsConnectionUsable() {
		p.Release(replacement)
	} else {
		p.ReleaseDefunct(replacement)
	}
	return res
}
