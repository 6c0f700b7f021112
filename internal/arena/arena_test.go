package arena

import "testing"

type record struct {
	A uint32
	B uint32
}

func TestAllocFreeStackDiscipline(t *testing.T) {
	a, err := New[record](4, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	var got []Index
	for i := 0; i < 4; i++ {
		idx, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		a.Get(idx).A = uint32(i + 1)
		got = append(got, idx)
	}

	if _, err := a.Alloc(); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	last, err := a.LastIndex()
	if err != nil || last != got[len(got)-1] {
		t.Fatalf("LastIndex = %v, %v", last, err)
	}

	if err := a.FreeLast(); err != nil {
		t.Fatalf("FreeLast: %v", err)
	}
	if a.Len() != 3 {
		t.Fatalf("Len = %d, want 3", a.Len())
	}

	idx, err := a.Alloc()
	if err != nil {
		t.Fatalf("re-Alloc: %v", err)
	}
	if idx != got[3] {
		t.Fatalf("re-Alloc reused index %d, want %d", idx, got[3])
	}
	if a.Get(idx).A != 0 {
		t.Fatalf("re-allocated slot not zeroed: %v", a.Get(idx).A)
	}
}

func TestFreeLastOnEmpty(t *testing.T) {
	a, err := New[record](2, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.LastIndex(); err != ErrEmpty {
		t.Fatalf("LastIndex on empty = %v, want ErrEmpty", err)
	}
	if err := a.FreeLast(); err != ErrEmpty {
		t.Fatalf("FreeLast on empty = %v, want ErrEmpty", err)
	}
}

func TestPreallocBacksWholeRange(t *testing.T) {
	a, err := New[record](1000, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.PhysBytes() != a.VirtBytes() {
		t.Fatalf("prealloc: PhysBytes %d != VirtBytes %d", a.PhysBytes(), a.VirtBytes())
	}
}
