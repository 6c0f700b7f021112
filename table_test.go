package lpmtable

import (
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/flowbase/lpmtable/internal/lpmtest"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

// TestTableLPMScenarioBothEngines runs spec.md §8 scenario 1 through the
// façade for both engines, checking engine equivalence.
func TestTableLPMScenarioBothEngines(t *testing.T) {
	for _, eng := range []Engine{Trie, Hash} {
		eng := eng
		t.Run(eng.String(), func(t *testing.T) {
			tbl, err := New(eng, V4, 64)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer tbl.Close()

			must(t, tbl.Add(mustPrefix(t, "10.0.0.0/8"), 1))
			must(t, tbl.Add(mustPrefix(t, "10.1.0.0/16"), 2))
			must(t, tbl.Add(mustPrefix(t, "10.1.2.0/24"), 3))

			check := func(addr string, wantLen int, wantUD uint64, wantErr error) {
				t.Helper()
				l, ud, err := tbl.LPM(mustAddr(t, addr))
				if wantErr != nil {
					if err != wantErr {
						t.Fatalf("LPM(%s) err = %v, want %v", addr, err, wantErr)
					}
					return
				}
				if err != nil || l != wantLen || ud != wantUD {
					t.Fatalf("LPM(%s) = %d,%d,%v want %d,%d", addr, l, ud, err, wantLen, wantUD)
				}
			}
			check("10.1.2.5", 24, 3, nil)
			check("10.1.3.5", 16, 2, nil)
			check("10.2.0.0", 8, 1, nil)
			check("11.0.0.0", 0, 0, ErrNotFound)
		})
	}
}

func TestTableAddDeleteGetSetRoundTrip(t *testing.T) {
	tbl, err := New(Trie, V4, 16, WithHitCount())
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	pfx := mustPrefix(t, "192.168.0.0/16")
	must(t, tbl.Add(pfx, 7))
	if err := tbl.Add(pfx, 9); err != ErrExists {
		t.Fatalf("re-Add = %v, want ErrExists", err)
	}
	if ud, hc, err := tbl.Get(pfx, false); err != nil || ud != 7 || hc != 0 {
		t.Fatalf("Get = %d,%d,%v", ud, hc, err)
	}
	must(t, tbl.Set(pfx, 42))
	if ud, _, _ := tbl.Get(pfx, false); ud != 42 {
		t.Fatalf("after Set, Get = %d, want 42", ud)
	}

	addr := mustAddr(t, "192.168.1.1")
	if _, _, err := tbl.LPM(addr); err != nil {
		t.Fatalf("LPM: %v", err)
	}
	if _, hc, _ := tbl.Get(pfx, false); hc == 0 {
		t.Fatalf("hit_count not incremented after LPM")
	}

	must(t, tbl.Delete(pfx))
	if err := tbl.Delete(pfx); err != ErrNotFound {
		t.Fatalf("re-Delete = %v, want ErrNotFound", err)
	}
}

func TestTableRejectsWrongFamily(t *testing.T) {
	tbl, err := New(Trie, V4, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	if err := tbl.Add(mustPrefix(t, "2001:db8::/32"), 1); err != ErrArg {
		t.Fatalf("cross-family Add = %v, want ErrArg", err)
	}
}

func TestTableWalkVisitsEveryRoute(t *testing.T) {
	tbl, err := New(Hash, V4, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	want := map[string]bool{
		"10.0.0.0/8":     true,
		"10.1.0.0/16":    true,
		"192.168.0.0/16": true,
	}
	for p := range want {
		must(t, tbl.Add(mustPrefix(t, p), 0))
	}
	seen := map[string]bool{}
	tbl.Walk(func(prefix netip.Prefix, _ uint64) bool {
		seen[prefix.String()] = true
		return true
	})
	for p := range want {
		if !seen[p] {
			t.Fatalf("Walk missed %s", p)
		}
	}
}

func TestTableNextGetOrderedIteration(t *testing.T) {
	tbl, err := New(Trie, V4, 16, WithNextGet())
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	a := mustPrefix(t, "10.0.0.0/8")
	b := mustPrefix(t, "10.1.0.0/16")
	must(t, tbl.Add(a, 1))
	must(t, tbl.Add(b, 2))

	next, ud, ok := tbl.Next(a)
	if !ok || next != b || ud != 2 {
		t.Fatalf("Next(a) = %v,%d,%v want %v,2,true", next, ud, ok, b)
	}
}

func TestTableInfoReportsCounters(t *testing.T) {
	tbl, err := New(Hash, V4, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	must(t, tbl.Add(mustPrefix(t, "10.0.0.0/8"), 1))
	info := tbl.Info()
	if info.NumRoutes != 1 {
		t.Fatalf("NumRoutes = %d, want 1", info.NumRoutes)
	}
	if info.NumBlocks < 1 {
		t.Fatalf("NumBlocks = %d, want >=1", info.NumBlocks)
	}
}

func TestTableIPv6FlowCacheThroughFacade(t *testing.T) {
	tbl, err := New(Hash, V6, 16, WithIPv6Flow(), WithIPv6MaxFlows(64))
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	must(t, tbl.Add(mustPrefix(t, "2001:db8::/32"), 5))

	addr := mustAddr(t, "2001:db8::1")
	l, ud, err := tbl.LPM(addr)
	if err != nil || l != 32 || ud != 5 {
		t.Fatalf("LPM = %d,%d,%v want 32,5,nil", l, ud, err)
	}
	l, ud, err = tbl.LPM(addr)
	if err != nil || l != 32 || ud != 5 {
		t.Fatalf("cached LPM = %d,%d,%v want 32,5,nil", l, ud, err)
	}
}

func TestTableIPv4RulesConverge(t *testing.T) {
	tbl, err := New(Hash, V4, 16, WithIPv4Rules())
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	must(t, tbl.Add(mustPrefix(t, "10.0.0.0/8"), 1))

	deadline := time.Now().Add(2 * time.Second)
	for !tbl.Info().RulesReady && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !tbl.Info().RulesReady {
		t.Fatalf("rule table never converged through the façade")
	}
	l, ud, err := tbl.LPM(mustAddr(t, "10.1.2.3"))
	if err != nil || l != 8 || ud != 1 {
		t.Fatalf("LPM via façade after convergence = %d,%d,%v want 8,1,nil", l, ud, err)
	}
}

// TestTableConcurrentLPMUnderChurn is spec §8's "Concurrent LPM under
// churn" scenario: reader goroutines issue LPM lookups while writer
// goroutines concurrently Add/Delete routes from a shared prefix set, for
// both engines. The test's success criterion is the absence of a data
// race or panic, not any particular lookup result.
func TestTableConcurrentLPMUnderChurn(t *testing.T) {
	for _, eng := range []Engine{Trie, Hash} {
		eng := eng
		t.Run(eng.String(), func(t *testing.T) {
			tbl, err := New(eng, V4, 4096)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer tbl.Close()

			prng := rand.New(rand.NewPCG(7, 42))
			prefixes := lpmtest.DistinctPrefixes4(prng, 256, 8, 32)
			for _, p := range prefixes {
				must(t, tbl.Add(p, 1))
			}

			const duration = 200 * time.Millisecond
			deadline := time.Now().Add(duration)
			var wg sync.WaitGroup

			for w := 0; w < 4; w++ {
				w := w
				wg.Add(1)
				go func() {
					defer wg.Done()
					prng := rand.New(rand.NewPCG(uint64(w), 99))
					for time.Now().Before(deadline) {
						p := prefixes[prng.IntN(len(prefixes))]
						if prng.IntN(2) == 0 {
							_ = tbl.Delete(p)
						} else {
							_ = tbl.Add(p, 1)
						}
					}
				}()
			}
			for r := 0; r < 8; r++ {
				r := r
				wg.Add(1)
				go func() {
					defer wg.Done()
					prng := rand.New(rand.NewPCG(uint64(r), 123))
					for time.Now().Before(deadline) {
						_, _, _ = tbl.LPM(lpmtest.RandomAddr4(prng))
					}
				}()
			}
			wg.Wait()
		})
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
