package inspect

import (
	lru "github.com/hashicorp/golang-lru"
)

// LoadConfig bounds how much of the target memory a single request reads.
type LoadConfig struct {
	// MaxVariableRecurse is the depth up to which children are loaded.
	MaxVariableRecurse int
	// MaxArrayValues is the maximum number of elements enumerated for an
	// array, vector or hash table.
	MaxArrayValues int
	// MaxListItems is the maximum number of list nodes visited.
	MaxListItems int
	// MaxTableSlots is the largest hash table capacity that will be scanned.
	MaxTableSlots int
}

// MaxStringLen is the longest text rendered in full, longer text is cut
// to MaxStringLen-3 bytes followed by an ellipsis.
const MaxStringLen = 64

// DefaultLoadConfig is the configuration used when none is specified.
var DefaultLoadConfig = LoadConfig{
	MaxVariableRecurse: 4,
	MaxArrayValues:     256,
	MaxListItems:       64,
	MaxTableSlots:      1 << 20,
}

func (cfg LoadConfig) withDefaults() LoadConfig {
	if cfg.MaxVariableRecurse <= 0 {
		cfg.MaxVariableRecurse = DefaultLoadConfig.MaxVariableRecurse
	}
	if cfg.MaxArrayValues <= 0 {
		cfg.MaxArrayValues = DefaultLoadConfig.MaxArrayValues
	}
	if cfg.MaxListItems <= 0 {
		cfg.MaxListItems = DefaultLoadConfig.MaxListItems
	}
	if cfg.MaxTableSlots <= 0 {
		cfg.MaxTableSlots = DefaultLoadConfig.MaxTableSlots
	}
	return cfg
}

const tagCacheSize = 128

// Context is threaded through every decoder call of one request. It is
// passed by value: Nested returns a copy one level deeper and the caller's
// context is never modified.
type Context struct {
	Depth  int
	Config LoadConfig

	tags *lru.Cache
	// summaryOnly suppresses loading of children, used for values that are
	// only shown inside another value's summary.
	summaryOnly bool
}

// NewContext returns the context for a new top level request.
func NewContext(cfg LoadConfig) Context {
	tags, _ := lru.New(tagCacheSize)
	return Context{Config: cfg.withDefaults(), tags: tags}
}

// Nested returns the context for a child of the value being decoded.
func (ctx Context) Nested() Context {
	ctx.Depth++
	return ctx
}

// SummaryOnly returns a copy of ctx that does not load children.
func (ctx Context) SummaryOnly() Context {
	ctx.summaryOnly = true
	return ctx
}

// TopLevel returns true if the value being decoded was requested directly.
func (ctx Context) TopLevel() bool {
	return ctx.Depth == 0
}

func (ctx Context) loadChildren() bool {
	return ctx.Depth < ctx.Config.MaxVariableRecurse
}

func (ctx Context) cachedTag(addr uint64) (string, bool) {
	if ctx.tags == nil {
		return "", false
	}
	v, ok := ctx.tags.Get(addr)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (ctx Context) cacheTag(addr uint64, tag string) {
	if ctx.tags != nil {
		ctx.tags.Add(addr, tag)
	}
}
