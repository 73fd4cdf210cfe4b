package motion

import (
	"sync/atomic"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// positionBuffer is written by the worker and read by anyone. Each Store
// swaps in a fresh value, so readers never see a half-written Position.
type positionBuffer struct {
	p atomic.Pointer[core.Position]
}

func (b *positionBuffer) Store(p core.Position) {
	b.p.Store(&p)
}

// Load returns the zero Position until the first successful read.
func (b *positionBuffer) Load() core.Position {
	if p := b.p.Load(); p != nil {
		return *p
	}
	return core.Position{}
}
