package trieengine

import (
	"testing"

	"github.com/flowbase/lpmtable/internal/key"
	"github.com/flowbase/lpmtable/internal/lpmerr"
)

func v4(addr [4]byte, length uint8) key.Key {
	var k key.Key
	k.IsV4 = true
	k.Length = length
	copy(k.Addr[:4], addr[:])
	return k.Masked()
}

func v4Full(addr [4]byte) key.Key {
	var k key.Key
	k.IsV4 = true
	k.Length = 32
	copy(k.Addr[:4], addr[:])
	return k
}

func TestTrieInsertGetDeleteRoundTrip(t *testing.T) {
	tr, err := New(Config{MaxRoutes: 16, IsV4: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	k := v4([4]byte{10, 0, 0, 0}, 8)
	if err := tr.Insert(k, 42); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ud, hc, err := tr.Get(k, false); err != nil || ud != 42 || hc != 0 {
		t.Fatalf("Get = %d,%d,%v", ud, hc, err)
	}
	if err := tr.Insert(k, 1); err != lpmerr.ErrExists {
		t.Fatalf("re-Insert = %v, want ErrExists", err)
	}
	if err := tr.Set(k, 99); err != nil {
		t.Fatal(err)
	}
	if ud, _, _ := tr.Get(k, false); ud != 99 {
		t.Fatalf("after Set, Get = %d, want 99", ud)
	}
	if err := tr.Delete(k); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tr.Get(k, false); err != lpmerr.ErrNotFound {
		t.Fatalf("Get after Delete = %v, want ErrNotFound", err)
	}
	// re-adding a deleted key succeeds the same as the first add
	if err := tr.Insert(k, 7); err != nil {
		t.Fatalf("re-Insert after delete: %v", err)
	}
}

func TestTrieLPMScenario(t *testing.T) {
	// spec §8 scenario 1, against the trie engine instead of hash.
	tr, err := New(Config{MaxRoutes: 16, IsV4: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	must(t, tr.Insert(v4([4]byte{10, 0, 0, 0}, 8), 1))
	must(t, tr.Insert(v4([4]byte{10, 1, 0, 0}, 16), 2))
	must(t, tr.Insert(v4([4]byte{10, 1, 2, 0}, 24), 3))

	check := func(addr [4]byte, wantLen int, wantUD uint64, wantErr error) {
		t.Helper()
		l, ud, err := tr.LPM(v4Full(addr))
		if wantErr != nil {
			if err != wantErr {
				t.Fatalf("LPM(%v) err = %v, want %v", addr, err, wantErr)
			}
			return
		}
		if err != nil || l != wantLen || ud != wantUD {
			t.Fatalf("LPM(%v) = %d,%d,%v want %d,%d", addr, l, ud, err, wantLen, wantUD)
		}
	}
	check([4]byte{10, 1, 2, 5}, 24, 3, nil)
	check([4]byte{10, 1, 3, 5}, 16, 2, nil)
	check([4]byte{10, 2, 0, 0}, 8, 1, nil)
	check([4]byte{11, 0, 0, 0}, 0, 0, lpmerr.ErrNotFound)
}

func TestTrieDeleteCompactionScenario(t *testing.T) {
	// spec §8 scenario 2.
	tr, err := New(Config{MaxRoutes: 16, IsV4: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	must(t, tr.Insert(v4([4]byte{0, 0, 0, 0}, 0), 0))
	must(t, tr.Insert(v4([4]byte{128, 0, 0, 0}, 1), 1))
	must(t, tr.Insert(v4([4]byte{192, 0, 0, 0}, 2), 2))

	must(t, tr.Delete(v4([4]byte{128, 0, 0, 0}, 1)))

	l, ud, err := tr.LPM(v4Full([4]byte{150, 0, 0, 0}))
	if err != nil || l != 0 || ud != 0 {
		t.Fatalf("LPM(150.x) = %d,%d,%v want 0,0,nil", l, ud, err)
	}
	l, ud, err = tr.LPM(v4Full([4]byte{200, 0, 0, 0}))
	if err != nil || l != 2 || ud != 2 {
		t.Fatalf("LPM(200.x) = %d,%d,%v want 2,2,nil", l, ud, err)
	}
}

func TestTrieBoundaryLengths(t *testing.T) {
	tr, err := New(Config{MaxRoutes: 4, IsV4: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	must(t, tr.Insert(v4([4]byte{0, 0, 0, 0}, 0), 100))
	if l, ud, err := tr.LPM(v4Full([4]byte{1, 2, 3, 4})); err != nil || l != 0 || ud != 100 {
		t.Fatalf("default route must match every address: %d,%d,%v", l, ud, err)
	}

	must(t, tr.Insert(v4([4]byte{1, 2, 3, 4}, 32), 200))
	if l, ud, err := tr.LPM(v4Full([4]byte{1, 2, 3, 4})); err != nil || l != 32 || ud != 200 {
		t.Fatalf("exact /32 should win: %d,%d,%v", l, ud, err)
	}
	if l, ud, err := tr.LPM(v4Full([4]byte{1, 2, 3, 5})); err != nil || l != 0 || ud != 100 {
		t.Fatalf("neighbor address should fall back to default: %d,%d,%v", l, ud, err)
	}
}

func TestTrieWalkVisitsAllRoutes(t *testing.T) {
	tr, err := New(Config{MaxRoutes: 8, IsV4: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	keys := []key.Key{
		v4([4]byte{10, 0, 0, 0}, 8),
		v4([4]byte{10, 1, 0, 0}, 16),
		v4([4]byte{192, 168, 0, 0}, 16),
	}
	for i, k := range keys {
		must(t, tr.Insert(k, uint64(i)))
	}
	seen := map[key.Key]bool{}
	tr.Walk(func(k key.Key, ud uint64) bool {
		seen[k] = true
		return true
	})
	for _, k := range keys {
		if !seen[k] {
			t.Fatalf("Walk missed %v", k.ToPrefix())
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
