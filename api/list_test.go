package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBorrowedListCopiesOnWrite(t *testing.T) {
	backing := []string{"A: 1", "B: 2"}
	l := WrapList(backing, Borrowed)
	assert.False(t, l.Owned())

	l.Append("C: 3")
	assert.True(t, l.Owned())
	assert.Equal(t, []string{"A: 1", "B: 2"}, backing)
	assert.Equal(t, []string{"A: 1", "B: 2", "C: 3"}, l.Values())
}

func TestOwnedListTakesSlice(t *testing.T) {
	backing := make([]string, 1, 4)
	backing[0] = "A: 1"
	l := WrapList(backing, Owned)
	l.Append("B: 2")
	assert.Equal(t, "B: 2", backing[:2][1], "owned list appends in place")
}

func TestListCloneAndValuesAreIndependent(t *testing.T) {
	l := NewList("x")
	c := l.Clone()
	c.Append("y")
	vals := l.Values()
	vals[0] = "changed"

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, []string{"x"}, l.Values())
	assert.Equal(t, []string{"x", "y"}, c.Values())
}

func TestListIter(t *testing.T) {
	var got []string
	for it := NewList("a", "b", "c").Iter(); it.Next(); {
		got = append(got, it.Value())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	it := NewList().Iter()
	assert.False(t, it.Next())
	assert.Equal(t, "", it.Value())
}

func TestNilList(t *testing.T) {
	var l *List
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Owned())
	assert.Nil(t, l.Values())
	assert.Equal(t, 0, l.Clone().Len())
	assert.False(t, l.Iter().Next())
}
