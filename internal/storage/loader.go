package storage

// This file implements a generic, batched loader that drains rows from a
// channel and invokes a provided bulk-insert function (CopyFn) per batch.
// Backends implement CopyFn with their most efficient primitive: Postgres
// COPY, or a multi-row INSERT elsewhere.
//
// On every successful flush a progress line is logged through the logger
// carried by ctx (zerolog.Ctx) with running totals and rows/sec since the
// previous flush.

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"datasets/internal/dataset"
	"datasets/internal/metrics"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// the provided rows (aligned to columns) and return the number of rows
// inserted. It must cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches drains rows from in, groups them into batches of batchSize,
// and calls copyFn for each non-empty batch. It returns the total reported by
// copyFn and the first error encountered.
func LoadBatches(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	var (
		log         = zerolog.Ctx(ctx)
		total       int64
		batches     int64
		batch       = make([][]any, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n
		batch = batch[:0]

		if err != nil {
			log.Error().Err(err).Int64("inserted", n).Int64("total", total).Msg("loader: copy failed")
			return err
		}

		batches++
		metrics.RecordBatches(1)
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		log.Debug().
			Int64("batch", batches).
			Float64("rps", rps).
			Int64("inserted", n).
			Int64("total_inserted", total).
			Dur("elapsed", now.Sub(start).Truncate(time.Millisecond)).
			Dur("since_last", sinceLast.Truncate(time.Millisecond)).
			Msg("loader: batch flushed")
		lastFlushTS = now
		lastTotal = total
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				log.Debug().Int64("total_inserted", total).Int64("batches", batches).Msg("loader: input closed")
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}

// CopyRows encodes rows as (seq, doc) pairs on a producer goroutine and
// feeds them through LoadBatches. seq starts at 0 and follows slice order.
func CopyRows(ctx context.Context, rows []dataset.Row, batchSize int, copyFn CopyFn) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan []any, batchSize)

	g.Go(func() error {
		defer close(ch)
		for i, r := range rows {
			doc, err := r.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode row %d: %w", i, err)
			}
			select {
			case ch <- []any{int64(i), string(doc)}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var total int64
	g.Go(func() error {
		n, err := LoadBatches(gctx, DocColumns, ch, batchSize, copyFn)
		total = n
		return err
	})

	if err := g.Wait(); err != nil {
		return total, err
	}
	if total != int64(len(rows)) {
		return total, fmt.Errorf("copied %d of %d rows", total, len(rows))
	}
	return total, nil
}
