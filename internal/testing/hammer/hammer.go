// Package hammer runs a test body from many goroutines at once, to shake out races in shared engine state such as
// the compilation cache, shared memories and atomic wait queues.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer invokes a test concurrently in P goroutines N times per goroutine.
//
// Typical use scales down in short mode and returns early on failure:
//
//	P, N := 8, 1000
//	if testing.Short() {
//		P, N = 4, 100
//	}
//	hammer.NewHammer(t, P, N).Run(func(p, n int) {
//		_, err := add.Call(ctx, api.I32(8), api.I32(1))
//		require.NoError(t, err)
//	}, nil)
//	if t.Failed() {
//		return
//	}
type Hammer interface {
	// Run calls test from P goroutines, each looping N times. p is the goroutine index and n the iteration.
	//
	// onRunning, when non-nil, is called once every goroutine has started, before any calls test.
	Run(test func(p, n int), onRunning func())
}

// NewHammer returns a Hammer of P goroutines doing N iterations each. Size it so Run completes in about a tenth of
// a second on a laptop.
func NewHammer(t testing.TB, P, N int) Hammer {
	return &hammer{t: t, P: P, N: N}
}

type hammer struct {
	t    testing.TB
	P, N int
}

// Run implements Hammer.Run
func (h *hammer) Run(test func(p, n int), onRunning func()) {
	// Fewer procs than goroutines forces switching mid-operation.
	procs := h.P / 2
	if procs < 1 {
		procs = 1
	}
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(procs))

	var started, finished sync.WaitGroup
	start := make(chan struct{})
	started.Add(h.P)
	finished.Add(h.P)
	for p := 0; p < h.P; p++ {
		go func(p int) {
			// Runs on runtime.Goexit too, which is how require.XX stops a goroutine.
			defer finished.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					h.t.Error(recovered)
				}
			}()
			started.Done()
			<-start
			for n := 0; n < h.N; n++ {
				test(p, n)
			}
		}(p)
	}

	started.Wait()
	if onRunning != nil {
		onRunning()
	}
	close(start)
	finished.Wait()
}
