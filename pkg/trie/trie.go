// Package trie implements the topic-filter trie behind the MQTT mux.
// Filters are /-separated segment paths with the usual MQTT wildcards:
// + matches exactly one level, # matches every remaining level and must be
// the final level. Values are generic, so a node can hold a handler list, a
// route name or anything else keyed by topic shape.
package trie

import (
	"errors"
	"strings"
)

// ErrInvalidPattern is returned when a filter puts # anywhere but the final
// level.
var ErrInvalidPattern = errors.New("trie: # must be the final level")

// Trie matches paths against stored filters. Exact segments win over +,
// which wins over #. The zero value is an empty trie ready for use.
type Trie[T any] struct {
	next map[string]*Trie[T]
	plus *Trie[T] // +
	hash *Trie[T] // #

	set bool
	val T
}

// New returns an empty trie.
func New[T any]() *Trie[T] {
	return &Trie[T]{}
}

// Set stores a value at filter. fn receives a pointer to the node's value
// and whether one was already set, so callers can replace or extend in
// place.
func (t *Trie[T]) Set(filter string, fn func(val *T, existed bool) error) error {
	if filter == "" {
		return t.setNode(fn)
	}
	var first, rest string
	if i := strings.IndexByte(filter, '/'); i >= 0 {
		first, rest = filter[:i], filter[i+1:]
	} else {
		first = filter
	}
	switch first {
	case "+":
		if t.plus == nil {
			t.plus = &Trie[T]{}
		}
		return t.plus.Set(rest, fn)
	case "#":
		if rest != "" {
			return ErrInvalidPattern
		}
		if t.hash == nil {
			t.hash = &Trie[T]{}
		}
		return t.hash.setNode(fn)
	default:
		if t.next == nil {
			t.next = make(map[string]*Trie[T])
		}
		ch, ok := t.next[first]
		if !ok {
			ch = &Trie[T]{}
			t.next[first] = ch
		}
		return ch.Set(rest, fn)
	}
}

func (t *Trie[T]) setNode(fn func(*T, bool) error) error {
	if err := fn(&t.val, t.set); err != nil {
		return err
	}
	t.set = true
	return nil
}

// SetValue stores value at filter, replacing any previous value.
func (t *Trie[T]) SetValue(filter string, value T) error {
	return t.Set(filter, func(val *T, _ bool) error {
		*val = value
		return nil
	})
}

// GetValue returns the value of the most specific filter matching path.
func (t *Trie[T]) GetValue(path string) (T, bool) {
	_, val, ok := t.match("", path)
	if !ok {
		var zero T
		return zero, false
	}
	return *val, true
}

// Match returns the winning filter and its value for path.
func (t *Trie[T]) Match(path string) (filter string, value T, ok bool) {
	f, val, ok := t.match("", path)
	if !ok {
		var zero T
		return "", zero, false
	}
	return f, *val, true
}

func (t *Trie[T]) match(matched, path string) (string, *T, bool) {
	if path == "" {
		return matched, &t.val, t.set
	}
	var first, rest string
	if i := strings.IndexByte(path, '/'); i >= 0 {
		first, rest = path[:i], path[i+1:]
	} else {
		first = path
	}
	if t.next != nil {
		if ch, ok := t.next[first]; ok {
			if f, v, ok := ch.match(join(matched, first), rest); ok {
				return f, v, true
			}
		}
	}
	if t.plus != nil {
		if f, v, ok := t.plus.match(join(matched, "+"), rest); ok {
			return f, v, true
		}
	}
	if t.hash != nil {
		if f, v, ok := t.hash.match(join(matched, "#"), ""); ok {
			return f, v, true
		}
	}
	return "", nil, false
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

// Walk visits every stored value with its filter. Order is unspecified.
func (t *Trie[T]) Walk(fn func(filter string, value T)) {
	t.walk("", fn)
}

func (t *Trie[T]) walk(prefix string, fn func(string, T)) {
	if t.set {
		fn(prefix, t.val)
	}
	for seg, ch := range t.next {
		ch.walk(join(prefix, seg), fn)
	}
	if t.plus != nil {
		t.plus.walk(join(prefix, "+"), fn)
	}
	if t.hash != nil {
		t.hash.walk(join(prefix, "#"), fn)
	}
}

// Len returns the number of stored values.
func (t *Trie[T]) Len() int {
	n := 0
	t.Walk(func(string, T) { n++ })
	return n
}
