// Package concurrency provides the two coordination primitives the rest of
// the module is built on.
//
// # BoundedBuffer
//
// A fixed-capacity FIFO of ints for one producer and one consumer. Put waits
// on a "not full" condition, Take on a "not empty" condition; each side
// broadcasts the other's condition only on the transition that can unblock it.
//
//	buf := concurrency.NewBoundedBuffer(4) // 3 usable slots
//	go func() {
//	    for i := 1; i <= 10; i++ {
//	        _ = buf.Put(ctx, i)
//	    }
//	}()
//	v, err := buf.Take(ctx)
//
// # WorkerPool
//
// A fixed number of workers (1..10) draining an unbounded FIFO queue.
// Execute never blocks. Shutdown only clears the workers' running flags;
// cancel the context passed to NewWorkerPool to release idle workers.
//
//	pool := concurrency.NewWorkerPool(ctx, 3)
//	pool.Execute(concurrency.JobFunc(func() { ... }))
//	pool.Shutdown()
//	cancel()
//	_ = pool.Wait(waitCtx)
package concurrency
