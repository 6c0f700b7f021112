package ordered

import (
	"testing"

	"github.com/flowbase/lpmtable/internal/key"
)

func k4(addr [4]byte, length uint8) key.Key {
	var k key.Key
	k.IsV4 = true
	k.Length = length
	copy(k.Addr[:4], addr[:])
	return k.Masked()
}

func TestIndexInsertOrderedWalk(t *testing.T) {
	var idx Index
	idx.Insert(k4([4]byte{10, 1, 2, 0}, 24), 3)
	idx.Insert(k4([4]byte{10, 0, 0, 0}, 8), 1)
	idx.Insert(k4([4]byte{10, 1, 0, 0}, 16), 2)

	if idx.Len() != 3 {
		t.Fatalf("Len = %d, want 3", idx.Len())
	}

	var got []uint64
	idx.Walk(func(e Entry) bool {
		got = append(got, e.UserData)
		return true
	})
	if len(got) != 3 {
		t.Fatalf("Walk visited %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		// Addr-major ordering: 10.0.0.0/8 < 10.1.0.0/16 < 10.1.2.0/24, so
		// user_data comes back as 1, 2, 3.
		if got[i-1] >= got[i] {
			t.Fatalf("Walk order = %v, want ascending 1,2,3", got)
		}
	}
}

func TestIndexNextNeighbor(t *testing.T) {
	var idx Index
	a := k4([4]byte{10, 0, 0, 0}, 8)
	b := k4([4]byte{10, 1, 0, 0}, 16)
	idx.Insert(a, 1)
	idx.Insert(b, 2)

	next, ok := idx.Next(a)
	if !ok || next.Key != b {
		t.Fatalf("Next(a) = %v,%v want %v,true", next, ok, b)
	}
	if _, ok := idx.Next(b); ok {
		t.Fatalf("Next(b) should have no successor")
	}
}

func TestIndexDeleteAndUpdate(t *testing.T) {
	var idx Index
	a := k4([4]byte{10, 0, 0, 0}, 8)
	idx.Insert(a, 1)
	idx.Update(a, 42)

	got, ok := idx.Next(k4([4]byte{0, 0, 0, 0}, 0))
	if !ok || got.UserData != 42 {
		t.Fatalf("Update did not take effect: %v,%v", got, ok)
	}

	idx.Delete(a)
	if idx.Len() != 0 {
		t.Fatalf("Len after Delete = %d, want 0", idx.Len())
	}
}
