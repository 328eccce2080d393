package ncp

import "time"

// DefaultHandshakeTimeout bounds the handshake when no deadline is supplied
// via context; spec.md §5 says the handshake "must complete within a
// caller-supplied deadline (infinite by default)", so this is used only as
// the fallback for the convenience Dial/Serve wrappers, not forced on
// callers who manage their own context.
const DefaultHandshakeTimeout = 30 * time.Second

// ConnOptions holds the settable connection options of spec.md §6:
// auto_auth, auto_erro, auto_warn, auto_ackn, and remote_hostname. Both
// ClientOption and ServerOption embed one, mirroring the teacher's fluent
// *ClientOption builder (client_option.go) generalized to cover either role.
type ConnOptions struct {
	autoAuth bool
	autoErro bool
	autoWarn bool
	autoAckn bool

	remoteHostname string
	warnSink       func(*CommandWarning)
}

// DefaultConnOptions returns the spec's defaults: every auto_* flag on.
func DefaultConnOptions() *ConnOptions {
	return &ConnOptions{
		autoAuth: true,
		autoErro: true,
		autoWarn: true,
		autoAckn: true,
	}
}

// SetAutoAuth toggles whether the handshake runs automatically after
// dial/accept. When off, the initial handshake fields are delivered to the
// application via Recv instead.
func (o *ConnOptions) SetAutoAuth(on bool) *ConnOptions { o.autoAuth = on; return o }

// SetAutoErro toggles converting ERRO+ERRC fields into CommandError at the
// targeted consumer.
func (o *ConnOptions) SetAutoErro(on bool) *ConnOptions { o.autoErro = on; return o }

// SetAutoWarn toggles converting WARN fields into CommandWarning delivered
// to the warning sink.
func (o *ConnOptions) SetAutoWarn(on bool) *ConnOptions { o.autoWarn = on; return o }

// SetAutoAckn toggles silently dropping fields that carry an ACKN
// parameter. Per spec.md §9's Open Question, "any ACKN parameter present"
// is the filter predicate, not "field consists solely of ACKN".
func (o *ConnOptions) SetAutoAckn(on bool) *ConnOptions { o.autoAckn = on; return o }

// SetRemoteHostname sets the identification string this side presents
// during the handshake. Defaults to the local transport address.
func (o *ConnOptions) SetRemoteHostname(hostname string) *ConnOptions {
	o.remoteHostname = hostname
	return o
}

// SetWarnSink installs the pluggable sink CommandWarning values are routed
// through (spec.md §9). If unset, warnings are logged at Warn level.
func (o *ConnOptions) SetWarnSink(sink func(*CommandWarning)) *ConnOptions {
	o.warnSink = sink
	return o
}
