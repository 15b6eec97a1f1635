package voice

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAudioResourceReleasesOnce(t *testing.T) {
	var hooks atomic.Int32
	res := newTestResource(func() { hooks.Add(1) })

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res.Release() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || hooks.Load() != 1 {
		t.Fatalf("releases = %d, hooks = %d, want 1 and 1", wins.Load(), hooks.Load())
	}
	if !res.Released() || res.Bytes() != nil {
		t.Fatalf("released resource still holds data")
	}
	var nilRes *AudioResource
	if nilRes.Release() {
		t.Fatalf("nil Release() = true")
	}
}
