// Package pool provides the small, failover-capable connection pool the
// change-application engine dispatches through.
package pool

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/kimluther18/ldapmodify/internal/ldapconn"
	"github.com/kimluther18/ldapmodify/internal/result"
	"github.com/kimluther18/ldapmodify/internal/resultcode"
)

// NoticeOfDisconnectionOID identifies the unsolicited notification a server
// sends before closing a connection.
const NoticeOfDisconnectionOID = "1.3.6.1.4.1.1466.20036"

// Conn is the connection surface the pool manages. Implemented by
// *ldapconn.Conn.
type Conn interface {
	Bind(dn, password string, controls []ldap.Control) *result.Result
	Add(req *ldap.AddRequest) *result.Result
	Delete(req *ldap.DelRequest) *result.Result
	Modify(req *ldap.ModifyRequest) *result.Result
	ModifyDN(req *ldap.ModifyDNRequest) *result.Result
	SearchDNs(req *ldap.SearchRequest, onEntry func(dn string)) *result.Result
	Extended(name string, value []byte, controls []ldap.Control) *result.Extended
	Close() error
}

// PostConnectProcessor runs against each newly-established connection
// before the bind, for work such as starting an administrative session.
type PostConnectProcessor func(Conn) *result.Result

// NotificationHandler receives unsolicited notifications and intermediate
// responses observed on pool connections.
type NotificationHandler interface {
	HandleUnsolicited(hostPort, oid string, res *result.Extended)
	HandleIntermediate(hostPort, oid string, value []byte)
}

// BindResultReporter is told about every bind attempt the pool makes, so
// authentication failures are reported exactly once.
type BindResultReporter interface {
	ReportBindResult(server string, res *result.Result)
}

// Config describes the pool.
type Config struct {
	// Servers is the ordered failover list of "host:port" addresses.
	Servers []string
	// UseTLS dials LDAPS directly; StartTLS upgrades after connecting.
	UseTLS    bool
	StartTLS  bool
	TLSConfig *tls.Config
	// BindDN and BindPassword authenticate each connection; BindControls
	// attach to each bind request.
	BindDN       string
	BindPassword string
	BindControls []ldap.Control
	// Timeout bounds each network operation.
	Timeout time.Duration
	// PostConnect, when set, runs before the bind on every new connection.
	PostConnect PostConnectProcessor
	// InitialSize and MaxSize bound the pool. The tool runs with 1 and 2.
	InitialSize int
	MaxSize     int
	// HealthCheck receives the bind result of every connection attempt.
	HealthCheck BindResultReporter
	// Notifications receives unsolicited notifications.
	Notifications NotificationHandler
	// Dial overrides the connection factory, for tests.
	Dial func(server string, cfg *Config) (Conn, error)

	Logger *zap.Logger
}

// Pool is a pool of 1..MaxSize authenticated connections over an ordered
// server list. The tool drives it from a single goroutine; the idle-channel
// bookkeeping keeps it safe regardless.
type Pool struct {
	cfg   Config
	conns chan Conn
	mu    sync.Mutex
	// retry enables one transparent retry on a replacement connection for
	// data-modifying calls that fail with a connection-classified code.
	retry  bool
	closed bool
	// hostPort remembers the server of the most recent connection, for
	// progress reporting.
	hostPort string
	log      *zap.Logger
}

// New establishes the initial connections and returns the pool. When no
// server can be reached and authenticated the bind failure has already
// been reported through the health check, and the failure result is
// returned.
func New(cfg Config) (*Pool, *result.Result) {
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = 1
	}
	if cfg.MaxSize < cfg.InitialSize {
		cfg.MaxSize = cfg.InitialSize
	}
	if cfg.Dial == nil {
		cfg.Dial = dialServer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		cfg:   cfg,
		conns: make(chan Conn, cfg.MaxSize),
		log:   cfg.Logger,
	}
	for i := 0; i < cfg.InitialSize; i++ {
		conn, res := p.connect()
		if res != nil {
			p.Close()
			return nil, res
		}
		p.conns <- conn
	}
	return p, nil
}

// SetRetryFailedOperations enables transparent retry of data-modifying
// calls on a replacement connection when the failure indicates the
// connection itself is broken.
func (p *Pool) SetRetryFailedOperations(retry bool) { p.retry = retry }

// HostPort returns the address of the most recently established
// connection.
func (p *Pool) HostPort() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostPort
}

// connect walks the server list in order and returns the first connection
// that can be established and authenticated. Every bind attempt is
// reported to the health check; the last failure is returned when all
// servers fail.
func (p *Pool) connect() (Conn, *result.Result) {
	var lastFailure *result.Result
	for _, server := range p.cfg.Servers {
		conn, err := p.cfg.Dial(server, &p.cfg)
		if err != nil {
			lastFailure = result.FromError(err)
			p.log.Debug("connection attempt failed",
				zap.String("server", server), zap.Error(err))
			continue
		}

		if p.cfg.PostConnect != nil {
			if res := p.cfg.PostConnect(conn); !res.IsSuccess() {
				conn.Close()
				lastFailure = res
				continue
			}
		}

		bindRes := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword, p.cfg.BindControls)
		if p.cfg.HealthCheck != nil {
			p.cfg.HealthCheck.ReportBindResult(server, bindRes)
		}
		if !bindRes.IsSuccess() {
			conn.Close()
			lastFailure = bindRes
			continue
		}

		p.mu.Lock()
		p.hostPort = server
		p.mu.Unlock()
		return conn, nil
	}
	if lastFailure == nil {
		lastFailure = result.Local(resultcode.ConnectError, "no servers configured")
	}
	return nil, lastFailure
}

// Acquire checks a connection out of the pool, establishing one if none is
// idle.
func (p *Pool) Acquire() (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.Unlock()

	select {
	case conn := <-p.conns:
		return conn, nil
	default:
	}

	conn, res := p.connect()
	if res != nil {
		return nil, fmt.Errorf("unable to establish a connection: %s", result.FormatTrailer(res))
	}
	return conn, nil
}

// Release returns a healthy connection to the pool.
func (p *Pool) Release(conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		conn.Close()
		return
	}
	select {
	case p.conns <- conn:
	default:
		conn.Close()
	}
}

// ReleaseDefunct discards a connection that can no longer be trusted.
func (p *Pool) ReleaseDefunct(conn Conn) {
	if conn != nil {
		conn.Close()
	}
}

// ReplaceDefunct discards the connection and establishes a new one in its
// place.
func (p *Pool) ReplaceDefunct(conn Conn) (Conn, error) {
	p.ReleaseDefunct(conn)
	newConn, res := p.connect()
	if res != nil {
		return nil, fmt.Errorf("unable to replace the defunct connection: %s",
			result.FormatTrailer(res))
	}
	return newConn, nil
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.conns:
			conn.Close()
		default:
			return
		}
	}
}

// dialServer establishes a transport connection to one server and wires
// the pool's notification handler to it.
func dialServer(server string, cfg *Config) (Conn, error) {
	conn, err := ldapconn.Dial(server, ldapconn.Config{
		UseTLS:    cfg.UseTLS,
		StartTLS:  cfg.StartTLS,
		TLSConfig: cfg.TLSConfig,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Notifications != nil {
		notifications := cfg.Notifications
		conn.SetUnsolicitedHandler(func(oid string, res *result.Extended) {
			notifications.HandleUnsolicited(server, oid, res)
		})
		conn.SetIntermediateHandler(func(oid string, value []byte) {
			notifications.HandleIntermediate(server, oid, value)
		})
	}
	return conn, nil
}
