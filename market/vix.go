package market

import (
	"sync/atomic"

	"github.com/tradewarden/tradewarden/core"
)

// StaticVIX is a settable volatility index source. The reading starts
// unavailable and stays whatever it was last set to; an external feed or
// the API can update it at runtime. It implements core.VIXSource.
type StaticVIX struct {
	value atomic.Pointer[core.Float]
}

// NewStaticVIX creates a source with no reading
func NewStaticVIX() *StaticVIX {
	s := &StaticVIX{}
	unset := core.Unavailable
	s.value.Store(&unset)
	return s
}

// VIX returns the current reading
func (s *StaticVIX) VIX() core.Float {
	return *s.value.Load()
}

// Set updates the reading
func (s *StaticVIX) Set(value float64) {
	v := core.F(value)
	s.value.Store(&v)
}

// Clear marks the reading unavailable
func (s *StaticVIX) Clear() {
	unset := core.Unavailable
	s.value.Store(&unset)
}

var _ core.VIXSource = (*StaticVIX)(nil)
