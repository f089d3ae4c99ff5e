package inspect

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"

	"github.com/framepac/frinspect/pkg/layout"
	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
)

// Decoder renders one object.
type Decoder interface {
	// Summary returns the object without its children.
	Summary(ctx Context) Value
	// Enumerate returns the children of the object, decoded one level
	// deeper than ctx.
	Enumerate(ctx Context) []Child
}

// Object describes the object a Factory is asked to decode.
type Object struct {
	Addr uint64
	// Type is the full type name, Family is Type without its template
	// arguments.
	Type   string
	Family string
	Params []Param
	// Layout is nil if no layout is known for Type.
	Layout *layout.Layout
}

// Factory returns a decoder for obj.
type Factory func(d *Dispatcher, obj Object) Decoder

// Config describes how a Dispatcher reads objects.
type Config struct {
	// Resolver defaults to a VtableResolver.
	Resolver TypeResolver
	// Layouts defaults to layout.Default().
	Layouts *layout.Table
	Load    LoadConfig
	// Aliases are added to DefaultAliases.
	Aliases map[string]string
}

// DefaultAliases maps the short type tags the runtime reports to the
// decoder that handles them.
var DefaultAliases = map[string]string{
	"ObjHashTable":        "Fr::HashTable<Fr::Object*, Fr::Object*>",
	"ObjCountHashTable":   "Fr::HashTable<Fr::Object*, unsigned long>",
	"SymHashTable":        "Fr::HashTable<Fr::Symbol*, Fr::Object*>",
	"SymCountHashTable":   "Fr::HashTable<Fr::Symbol*, unsigned long>",
	"HashTable_u32u32":    "Fr::HashTable<unsigned int, unsigned int>",
	"SparseVector_u32flt": "Fr::SparseVector<unsigned int, float>",
	"WcTermVectorSparse":  "Fr::SparseVector<unsigned int, float>",
	"TermVectorSparse":    "Fr::SparseVector<unsigned int, float>",
}

type registration struct {
	exact  Factory
	prefix Factory
}

// Dispatcher selects the decoder for an object and runs it.
type Dispatcher struct {
	mem      proc.MemoryReader
	resolver TypeResolver
	layouts  *layout.Table
	load     LoadConfig
	log      logflags.Logger

	mu       sync.RWMutex
	registry *trie.Trie
	aliases  map[string]string
}

// NewDispatcher returns a dispatcher reading from mem with all the built-in
// decoders registered.
func NewDispatcher(mem proc.MemoryReader, cfg Config) *Dispatcher {
	d := &Dispatcher{
		mem:      mem,
		resolver: cfg.Resolver,
		layouts:  cfg.Layouts,
		load:     cfg.Load.withDefaults(),
		log:      logflags.InspectLogger(),
		registry: trie.New(),
		aliases:  make(map[string]string),
	}
	if d.resolver == nil {
		d.resolver = VtableResolver{MaskBits: DefaultMaskBits}
	}
	if d.layouts == nil {
		d.layouts = layout.Default()
	}
	for k, v := range DefaultAliases {
		d.aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		d.aliases[k] = v
	}
	registerBuiltins(d)
	return d
}

// Memory returns the memory the dispatcher reads from.
func (d *Dispatcher) Memory() proc.MemoryReader {
	return d.mem
}

// Layouts returns the layout table used by decoders.
func (d *Dispatcher) Layouts() *layout.Table {
	return d.layouts
}

// LoadConfig returns the bounds used for new requests.
func (d *Dispatcher) LoadConfig() LoadConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.load
}

// SetLoadConfig changes the bounds used for new requests.
func (d *Dispatcher) SetLoadConfig(cfg LoadConfig) {
	d.mu.Lock()
	d.load = cfg.withDefaults()
	d.mu.Unlock()
}

// SetResolver changes how objects without a type hint are identified.
func (d *Dispatcher) SetResolver(r TypeResolver) {
	d.mu.Lock()
	d.resolver = r
	d.mu.Unlock()
}

func (d *Dispatcher) typeResolver() TypeResolver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resolver
}

// RegisterDecoder registers f for the types matching pattern. A pattern
// ending in '<' or '*' matches every type name it is a prefix of (the '*'
// itself is not part of the prefix), any other pattern only matches the
// type name equal to it. Registering a pattern twice replaces the previous
// factory.
func (d *Dispatcher) RegisterDecoder(pattern string, f Factory) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return fmt.Errorf("invalid decoder pattern %q", pattern)
	}
	if f == nil {
		return fmt.Errorf("nil factory for %q", pattern)
	}
	key, prefix := pattern, false
	switch {
	case strings.HasSuffix(pattern, "*"):
		key, prefix = strings.TrimSuffix(pattern, "*"), true
	case strings.HasSuffix(pattern, "<"):
		prefix = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var reg *registration
	if node, ok := d.registry.Find(key); ok {
		reg = node.Meta().(*registration)
	} else {
		reg = &registration{}
		d.registry.Add(key, reg)
	}
	if prefix {
		reg.prefix = f
	} else {
		reg.exact = f
	}
	return nil
}

// Decoders returns the registered patterns, sorted.
func (d *Dispatcher) Decoders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var r []string
	for _, key := range d.registry.Keys() {
		node, ok := d.registry.Find(key)
		if !ok {
			continue
		}
		reg := node.Meta().(*registration)
		if reg.exact != nil {
			r = append(r, key)
		}
		if reg.prefix != nil {
			if strings.HasSuffix(key, "<") {
				r = append(r, key)
			} else {
				r = append(r, key+"*")
			}
		}
	}
	sort.Strings(r)
	return r
}

// Complete returns the registered names starting with prefix.
func (d *Dispatcher) Complete(prefix string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.registry.HasKeysWithPrefix(prefix) {
		return nil
	}
	r := d.registry.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}

// SetAlias makes objects tagged tag decode as name.
func (d *Dispatcher) SetAlias(tag, name string) {
	d.mu.Lock()
	d.aliases[tag] = name
	d.mu.Unlock()
}

// lookup returns the factory registered for name: an exact registration
// wins, otherwise the longest matching prefix.
func (d *Dispatcher) lookup(name string) (Factory, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := len(name); i > 0; i-- {
		node, ok := d.registry.Find(name[:i])
		if !ok {
			continue
		}
		reg := node.Meta().(*registration)
		if i == len(name) && reg.exact != nil {
			return reg.exact, true
		}
		if reg.prefix != nil {
			return reg.prefix, true
		}
	}
	return nil, false
}

// canonical maps a type tag to the name of the type it is decoded as.
func (d *Dispatcher) canonical(tag string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := d.aliases[tag]; ok {
		return name
	}
	return tag
}

// factoryFor returns the name under which tag is decoded and its factory.
// Bare names are also looked up in the Fr namespace.
func (d *Dispatcher) factoryFor(tag string) (string, Factory, bool) {
	name := d.canonical(tag)
	if f, ok := d.lookup(name); ok {
		return name, f, true
	}
	if !strings.Contains(name, "::") {
		if f, ok := d.lookup("Fr::" + name); ok {
			return "Fr::" + name, f, true
		}
	}
	return name, nil, false
}

// DecoderFor returns the type name an object tagged tag is decoded as and
// whether a decoder is registered for it.
func (d *Dispatcher) DecoderFor(tag string) (string, bool) {
	name, _, ok := d.factoryFor(tag)
	return name, ok
}

// TypeTag resolves the runtime type tag of the object at addr.
func (d *Dispatcher) TypeTag(addr uint64) (string, error) {
	return d.typeResolver().ResolveTypeTag(d.mem, addr)
}

func (d *Dispatcher) resolveTag(ctx Context, addr uint64) (string, error) {
	if tag, ok := ctx.cachedTag(addr); ok {
		return tag, nil
	}
	tag, err := d.typeResolver().ResolveTypeTag(d.mem, addr)
	if err != nil {
		return "", err
	}
	ctx.cacheTag(addr, tag)
	return tag, nil
}

// Decode decodes the object at addr. If hint is empty the type is read
// from the object itself.
func (d *Dispatcher) Decode(addr uint64, hint string) Value {
	return d.decode(NewContext(d.LoadConfig()), addr, hint)
}

// DecodeWith is like Decode but uses cfg instead of the dispatcher's load
// configuration.
func (d *Dispatcher) DecodeWith(cfg LoadConfig, addr uint64, hint string) Value {
	return d.decode(NewContext(cfg), addr, hint)
}

// Enumerate returns the children of the object at addr, used to expand a
// value lazily.
func (d *Dispatcher) Enumerate(addr uint64, hint string) []Child {
	ctx := NewContext(d.LoadConfig())
	dec, _, v := d.decoderFor(ctx, addr, hint)
	if dec == nil {
		return nil
	}
	var children []Child
	d.protect(v.Type, addr, func() {
		children = dec.Enumerate(ctx)
	})
	return children
}

// decoderFor builds the decoder for the object at addr. If no decoder can
// be built the returned Value is the opaque placeholder to display.
func (d *Dispatcher) decoderFor(ctx Context, addr uint64, hint string) (Decoder, Object, Value) {
	tag := hint
	if isObjectBase(tag) {
		tag = ""
	}
	if tag == "" {
		var err error
		tag, err = d.resolveTag(ctx, addr)
		if err != nil {
			if logflags.Inspect() {
				d.log.WithError(err).Debugf("type of %#x unresolved", addr)
			}
			return nil, Object{}, opaqueValue("", addr)
		}
	}
	name, f, ok := d.factoryFor(tag)
	if !ok {
		return nil, Object{}, opaqueValue(tag, addr)
	}
	obj := d.object(name, addr)
	var dec Decoder
	d.protect(name, addr, func() {
		dec = f(d, obj)
	})
	if dec == nil {
		return nil, obj, opaqueValue(tag, addr)
	}
	return dec, obj, Value{Type: name, Addr: addr}
}

func isObjectBase(hint string) bool {
	switch hint {
	case "Fr::Object", "Object", "Fr::Object*", "Fr::Object *":
		return true
	}
	return false
}

func (d *Dispatcher) object(name string, addr uint64) Object {
	family, params, err := splitTemplate(name)
	if err != nil {
		if logflags.Inspect() {
			d.log.WithError(err).Debugf("bad type name")
		}
		family = name
	}
	obj := Object{Addr: addr, Type: name, Family: family, Params: params}
	if l, ok := d.layouts.Lookup(name); ok {
		obj.Layout = l
	}
	return obj
}

// decode runs the decoder for the object at addr and loads its children
// if ctx allows it.
func (d *Dispatcher) decode(ctx Context, addr uint64, hint string) Value {
	if ctx.Depth > ctx.Config.MaxVariableRecurse+maxSummaryDepth {
		return d.shallow(ctx, addr, hint)
	}
	dec, obj, placeholder := d.decoderFor(ctx, addr, hint)
	if dec == nil {
		return placeholder
	}
	v := opaqueValue(obj.Type, addr)
	d.protect(obj.Type, addr, func() {
		v = dec.Summary(ctx)
		if v.Type == "" {
			v.Type = obj.Type
		}
		if !v.Kind.Container() || v.Marker != MarkerNone || ctx.summaryOnly {
			return
		}
		if ctx.loadChildren() {
			v.Children = dec.Enumerate(ctx)
		} else {
			v.Unloaded = true
		}
	})
	return v
}

// maxSummaryDepth is how far below the last loaded level summaries may
// still decode the objects they mention.
const maxSummaryDepth = 1

// shallow names the object at addr without decoding it.
func (d *Dispatcher) shallow(ctx Context, addr uint64, hint string) Value {
	tag := hint
	if tag == "" || isObjectBase(tag) {
		tag, _ = d.resolveTag(ctx, addr)
	}
	return opaqueValue(tag, addr)
}

// protect runs fn and turns a panic into a log line, a decoder must never
// take the whole request down.
func (d *Dispatcher) protect(typ string, addr uint64, fn func()) {
	defer func() {
		if ierr := recover(); ierr != nil {
			d.log.Errorf("recovered panic decoding %s at %#x: %v\n%s", typ, addr, ierr, debug.Stack())
		}
	}()
	fn()
}

// malformed logs err and returns the suffix to add to the summary.
func (d *Dispatcher) malformed(err *MalformedError) string {
	if logflags.Inspect() {
		d.log.Debugf("%v", err)
	}
	return malformedSuffix
}
