package dpcrypto

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry maps short key-type prefixes to public key constructors,
// so key material can cross a serialization boundary
// without hardcoding a single key type.
//
// The zero value is ready to use after calls to Register.
type Registry struct {
	byPrefix map[string]func([]byte) (PubKey, error)

	// Validation decodes the same small set of miner keys on every block,
	// so decoded keys are memoized by their marshaled bytes.
	cache *lru.Cache[string, PubKey]
}

// Register associates name with the given constructor.
// The inst argument pins the concrete type being registered;
// Marshal refuses keys whose type was never registered.
func (r *Registry) Register(name string, inst PubKey, newFn func([]byte) (PubKey, error)) {
	if r.byPrefix == nil {
		r.byPrefix = make(map[string]func([]byte) (PubKey, error))

		// Size chosen to comfortably hold several full miner sets.
		c, err := lru.New[string, PubKey](256)
		if err != nil {
			// lru only errors on a non-positive size.
			panic(fmt.Errorf("impossible: %w", err))
		}
		r.cache = c
	}

	if _, ok := r.byPrefix[name]; ok {
		panic(fmt.Errorf("key type %q registered twice", name))
	}

	_ = inst
	r.byPrefix[name] = newFn
}

// Marshal prefixes the key bytes with the registered type name,
// producing input acceptable to Unmarshal on any node
// with an identically configured registry.
func (r *Registry) Marshal(k PubKey) []byte {
	for name := range r.byPrefix {
		// Round-trip check identifies which registered type k is.
		if decoded, err := r.byPrefix[name](k.PubKeyBytes()); err == nil && decoded.Equal(k) {
			out := make([]byte, 0, len(name)+1+len(k.PubKeyBytes()))
			out = append(out, name...)
			out = append(out, ':')
			out = append(out, k.PubKeyBytes()...)
			return out
		}
	}
	panic(fmt.Errorf("cannot marshal unregistered key type %T", k))
}

// Unmarshal decodes a key previously produced by Marshal.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if r.cache != nil {
		if k, ok := r.cache.Get(string(b)); ok {
			return k, nil
		}
	}

	sep := -1
	for i, c := range b {
		if c == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, fmt.Errorf("malformed key encoding: missing type prefix")
	}

	name := string(b[:sep])
	newFn, ok := r.byPrefix[name]
	if !ok {
		return nil, fmt.Errorf("unknown key type %q", name)
	}

	k, err := newFn(b[sep+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q key: %w", name, err)
	}

	if r.cache != nil {
		r.cache.Add(string(b), k)
	}
	return k, nil
}
