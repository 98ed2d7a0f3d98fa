package checker

import (
	"sort"
	"sync"
)

// Factory builds a checker from its descriptor.
type Factory func(desc Descriptor) (Checker, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a checker kind available to Load. Registering a kind twice
// replaces the earlier factory.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

func lookup(kind string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	return f, ok
}

// Kinds lists the registered checker kinds.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const (
	KindExact   = "exact"
	KindLines   = "lines"
	KindTokens  = "tokens"
	KindFloat   = "float"
	KindSpecial = "special"
	KindAccept  = "accept"
)

func init() {
	Register(KindExact, func(d Descriptor) (Checker, error) { return &exactChecker{name: d.Name}, nil })
	Register(KindLines, func(d Descriptor) (Checker, error) { return &linesChecker{name: d.Name}, nil })
	Register(KindTokens, func(d Descriptor) (Checker, error) { return &tokensChecker{name: d.Name}, nil })
	Register(KindFloat, newFloatChecker)
	Register(KindSpecial, newSpecialChecker)
	Register(KindAccept, func(d Descriptor) (Checker, error) { return &acceptChecker{name: d.Name}, nil })
}
