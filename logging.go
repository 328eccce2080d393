package ncp

import "github.com/sirupsen/logrus"

// _lg is the package-wide logger. Callers replace it with SetLogger before
// dialing or serving; until then it logs nowhere interesting but never nil.
var _lg = logrus.New()

// SetLogger replaces the package-wide logger used for connection lifecycle
// events (handshake steps, keep-alives, framing failures, auto-filtered
// control parameters).
func SetLogger(lg *logrus.Logger) {
	if lg != nil {
		_lg = lg
	}
}
