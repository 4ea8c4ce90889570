package optimumfilter

import (
	"runtime"
	"sync"
)

// minDelaysPerWorker keeps goroutine overhead small relative to the work
// handed to each worker.
const minDelaysPerWorker = 64

// bankScratch holds per-worker buffers for the per-delay solves.
type bankScratch struct {
	proj []float64 // projections p(t)
	amps []float64 // amplitudes at the current delay
}

func newBankScratch(nComp int) *bankScratch {
	return &bankScratch{
		proj: make([]float64, nComp),
		amps: make([]float64, nComp),
	}
}

// forEachDelay calls fn for every delay in [0, count). With EnableParallel
// the range is split into contiguous chunks, one goroutine per chunk, each
// with its own scratch. fn must only write state owned by its delay.
func (b *FilterBank) forEachDelay(count int, fn func(t int, s *bankScratch)) {
	nComp := b.nSig + b.nBkg

	workers := 1
	if b.cfg.EnableParallel {
		workers = min(runtime.GOMAXPROCS(0), count/minDelaysPerWorker)
	}
	if workers <= 1 {
		s := newBankScratch(nComp)
		for t := range count {
			fn(t, s)
		}
		return
	}

	chunk := (count + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < count; start += chunk {
		end := min(start+chunk, count)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			s := newBankScratch(nComp)
			for t := lo; t < hi; t++ {
				fn(t, s)
			}
		}(start, end)
	}
	wg.Wait()
}
