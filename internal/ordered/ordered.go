// Package ordered provides the secondary ordered-iteration index that
// backs Table's optional next_get/WithNextGet mode: a standalone
// balanced-by-sorting slice index kept alongside an engine, used only
// when a caller needs ordered neighbor queries over (prefix, length)
// that neither the trie nor the hash engine expose directly.
package ordered

import (
	"sort"

	"github.com/flowbase/lpmtable/internal/key"
)

// Entry is one (key, user_data) pair held in the index.
type Entry struct {
	Key      key.Key
	UserData uint64
}

// Index is a sorted-slice index over masked keys, ordered first by
// address bytes then by length. It exists purely as an auxiliary lookup
// structure — deleting or inserting into it never touches the engine's
// own route storage.
type Index struct {
	entries []Entry
}

func less(a, b key.Key) bool {
	for i := range a.Addr {
		if a.Addr[i] != b.Addr[i] {
			return a.Addr[i] < b.Addr[i]
		}
	}
	return a.Length < b.Length
}

func (idx *Index) search(k key.Key) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return !less(idx.entries[i].Key, k)
	})
}

// Insert adds k in sorted position. Callers are responsible for ensuring
// k is not already present (the engines check this before calling in).
func (idx *Index) Insert(k key.Key, userData uint64) {
	i := idx.search(k)
	idx.entries = append(idx.entries, Entry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = Entry{Key: k, UserData: userData}
}

// Delete removes k, a no-op if absent.
func (idx *Index) Delete(k key.Key) {
	i := idx.search(k)
	if i >= len(idx.entries) || idx.entries[i].Key != k {
		return
	}
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
}

// Update rewrites the user_data for an existing k, a no-op if absent.
func (idx *Index) Update(k key.Key, userData uint64) {
	i := idx.search(k)
	if i >= len(idx.entries) || idx.entries[i].Key != k {
		return
	}
	idx.entries[i].UserData = userData
}

// Next returns the smallest entry strictly greater than k, for next_get
// neighbor queries.
func (idx *Index) Next(k key.Key) (Entry, bool) {
	i := idx.search(k)
	if i < len(idx.entries) && idx.entries[i].Key == k {
		i++
	}
	if i >= len(idx.entries) {
		return Entry{}, false
	}
	return idx.entries[i], true
}

// Len reports the number of indexed entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Walk visits every entry in ascending order until fn returns false.
func (idx *Index) Walk(fn func(Entry) bool) {
	for _, e := range idx.entries {
		if !fn(e) {
			return
		}
	}
}
