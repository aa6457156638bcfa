package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Context is an immutable snapshot of namespaced fact data assembled for a
// single evaluation step. Keys are dotted paths (e.g. "claim.amount",
// "ai.fraud_score"); values are scalars or structured data decoded from JSON.
//
// A Context is never mutated after construction. Merging a Delta produces a
// new Context; later merges shadow earlier keys.
type Context struct {
	values map[string]any
}

// Delta is a set of new or overwritten fact paths produced by rule actions
// or collaborator calls.
type Delta map[string]any

// New creates a Context from the given values. The input map is copied so
// the caller cannot mutate the snapshot afterwards.
func New(values map[string]any) Context {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Context{values: copied}
}

// Empty returns a Context with no facts.
func Empty() Context {
	return Context{values: map[string]any{}}
}

// With returns a new Context with the delta merged on top of this one.
// Keys in the delta shadow existing keys. The receiver is unchanged.
func (c Context) With(delta Delta) Context {
	if len(delta) == 0 {
		return c
	}
	merged := make(map[string]any, len(c.values)+len(delta))
	for k, v := range c.values {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return Context{values: merged}
}

// Lookup resolves a dotted fact path. An exact key match wins; otherwise the
// path is walked through nested maps (so "claim.vehicle.vin" resolves against
// a structured value stored under "claim.vehicle" or "claim").
func (c Context) Lookup(path string) (any, bool) {
	if v, ok := c.values[path]; ok {
		return v, true
	}

	// Walk progressively shorter prefixes looking for a structured value.
	segments := strings.Split(path, ".")
	for i := len(segments) - 1; i > 0; i-- {
		prefix := strings.Join(segments[:i], ".")
		root, ok := c.values[prefix]
		if !ok {
			continue
		}
		return walk(root, segments[i:])
	}

	return nil, false
}

// Has reports whether the path resolves to any value, including nil.
func (c Context) Has(path string) bool {
	_, ok := c.Lookup(path)
	return ok
}

// Len returns the number of top-level fact keys.
func (c Context) Len() int {
	return len(c.values)
}

// Keys returns the top-level fact keys in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the underlying fact map.
func (c Context) Values() map[string]any {
	copied := make(map[string]any, len(c.values))
	for k, v := range c.values {
		copied[k] = v
	}
	return copied
}

// Hash returns a stable content hash of the snapshot, used to tie audit
// records back to the exact facts an evaluation observed. Identical fact
// sets always produce identical hashes.
func (c Context) Hash() string {
	keys := c.Keys()

	h := sha256.New()
	for _, k := range keys {
		encoded, err := json.Marshal(c.values[k])
		if err != nil {
			// Unencodable values still need a deterministic representation.
			encoded = []byte(fmt.Sprintf("%#v", c.values[k]))
		}
		fmt.Fprintf(h, "%s=%s;", k, encoded)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalJSON encodes the snapshot as a plain JSON object.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.values)
}

// UnmarshalJSON decodes a snapshot from a plain JSON object.
func (c *Context) UnmarshalJSON(data []byte) error {
	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	c.values = values
	return nil
}

// walk descends through nested maps following the remaining path segments.
func walk(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
