package registry

import "sync"

var (
	defaultOnce sync.Once
	defaultReg  *InMemory
)

// Default returns a process-wide lazily-initialized registry. It exists as a
// convenience for callers that want one shared instance; prefer constructing
// an InMemory explicitly and passing it around.
func Default() *InMemory {
	defaultOnce.Do(func() {
		defaultReg = NewInMemory()
	})
	return defaultReg
}
