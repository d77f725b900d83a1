// File: api/list.go
// Author: momentics <momentics@gmail.com>
//
// Multi-value string option container (request headers and the like).

package api

// Ownership tells whether a List owns its backing storage.
type Ownership int

const (
	// Owned lists may be mutated in place.
	Owned Ownership = iota
	// Borrowed lists share storage with the caller and copy it before the
	// first mutation.
	Borrowed
)

// List is an ordered sequence of strings with value semantics on mutation.
// Read-only methods accept a nil receiver as the empty list.
type List struct {
	items []string
	own   Ownership
}

// NewList returns an owned list holding a copy of items.
func NewList(items ...string) *List {
	return &List{items: append([]string(nil), items...), own: Owned}
}

// WrapList builds a list over items. With Borrowed the slice is shared until
// the list is first modified; with Owned the list takes the slice over.
func WrapList(items []string, own Ownership) *List {
	return &List{items: items, own: own}
}

// Append adds s and returns l for chaining.
func (l *List) Append(s string) *List {
	l.detach()
	l.items = append(l.items, s)
	return l
}

// Len returns the number of entries.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Owned reports whether the list owns its storage.
func (l *List) Owned() bool { return l != nil && l.own == Owned }

// Clone returns an owned deep copy.
func (l *List) Clone() *List {
	if l == nil {
		return NewList()
	}
	return NewList(l.items...)
}

// Values returns a copy of the entries.
func (l *List) Values() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.items...)
}

// Iter returns a forward iterator positioned before the first entry.
func (l *List) Iter() *ListIter {
	return &ListIter{l: l, pos: -1}
}

func (l *List) detach() {
	if l.own == Borrowed {
		l.items = append([]string(nil), l.items...)
		l.own = Owned
	}
}

// ListIter walks a List front to back.
//
//	for it := l.Iter(); it.Next(); {
//		use(it.Value())
//	}
type ListIter struct {
	l   *List
	pos int
}

// Next advances the iterator and reports whether an entry is available.
func (it *ListIter) Next() bool {
	if it.pos+1 >= it.l.Len() {
		it.pos = it.l.Len()
		return false
	}
	it.pos++
	return true
}

// Value returns the current entry.
func (it *ListIter) Value() string {
	if it.pos < 0 || it.pos >= it.l.Len() {
		return ""
	}
	return it.l.items[it.pos]
}
