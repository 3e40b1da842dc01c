// parallel.go implements the optional chunk-partitioned parallel filter
// evaluation allowed (not required) by spec.md §5: split a chunk into
// row-partitions, evaluate each independently, and reassemble in original
// order before the dedup stage.
package filterpipe

import (
	"golang.org/x/sync/errgroup"

	"csvengine/internal/csvio"
)

// ApplyParallel partitions chunk into workers roughly equal slices,
// evaluates each slice's predicates concurrently, and reassembles the
// kept rows in original order. Drop counters from every partition are
// summed. A workers value <= 1 falls back to the sequential Apply.
func ApplyParallel(chunk *csvio.Chunk, workers int) Result {
	if workers <= 1 || chunk.Len() < workers {
		return Apply(chunk)
	}

	n := chunk.Len()
	partSize := (n + workers - 1) / workers
	partials := make([]Result, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		start := w * partSize
		end := start + partSize
		if start >= n {
			continue
		}
		if end > n {
			end = n
		}
		g.Go(func() error {
			sub := &csvio.Chunk{Rows: chunk.Rows[start:end], Columns: chunk.Columns}
			partials[w] = Apply(sub)
			return nil
		})
	}
	_ = g.Wait() // Apply never returns an error; Wait only synchronizes.

	merged := csvio.NewChunk(chunk.Columns, n)
	droppedTotal := make(map[string]int64, 6)
	for _, p := range partials {
		if p.Kept == nil {
			continue
		}
		merged.Rows = append(merged.Rows, p.Kept.Rows...)
		for reason, count := range p.Dropped {
			droppedTotal[reason] += count
		}
	}
	return Result{Kept: merged, Dropped: droppedTotal}
}
