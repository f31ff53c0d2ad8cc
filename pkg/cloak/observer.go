package cloak

import "time"

// Observer receives per-request measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveUpstream(method string, status int, elapsed time.Duration, err error)
	ObserveDocument(kind string)
}

const (
	DocumentHTML        = "html"
	DocumentPassthrough = "passthrough"
)

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, int, time.Duration, error) {}
func (nopObserver) ObserveDocument(string)                            {}
