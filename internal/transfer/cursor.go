package transfer

import (
	"context"

	"shovel/internal/broker"
	"shovel/internal/types"
)

// Cursor is the pagination state for a batched peek scan: the next sequence
// number to read from, the per-call page size, and the running total of
// records examined. Cursors advance monotonically and are never persisted;
// every scan starts fresh and simply re-observes current broker state, which
// is what makes re-invocation safe and convergent.
type Cursor struct {
	FromSequence int64
	BatchSize    int
	Examined     int
}

// NewCursor returns a cursor positioned at the start of the sequence space.
func NewCursor(batchSize int) Cursor {
	return Cursor{FromSequence: 0, BatchSize: batchSize}
}

// Page is the result of one cursor advance.
type Page struct {
	Records []types.QueueRecord
	Next    Cursor

	// Exhausted is set when the scan is complete: the broker returned fewer
	// records than requested (end of queue) or the maxTotal ceiling was
	// reached.
	Exhausted bool
}

// PeekPage performs a single non-destructive read of up to cur.BatchSize
// records and returns the advanced cursor. maxTotal caps the whole scan;
// the final page is truncated to never examine more than maxTotal records.
//
// Forward progress is guaranteed: Next.FromSequence is one past the highest
// sequence number observed in the page.
func PeekPage(ctx context.Context, q broker.Queue, cur Cursor, maxTotal int) (Page, error) {
	remaining := maxTotal - cur.Examined
	if remaining <= 0 {
		return Page{Next: cur, Exhausted: true}, nil
	}

	want := cur.BatchSize
	if remaining < want {
		want = remaining
	}

	records, err := q.Peek(ctx, cur.FromSequence, want)
	if err != nil {
		return Page{Next: cur}, err
	}

	next := cur
	next.Examined += len(records)
	for _, rec := range records {
		if rec.SequenceNumber >= next.FromSequence {
			next.FromSequence = rec.SequenceNumber + 1
		}
	}

	return Page{
		Records:   records,
		Next:      next,
		Exhausted: len(records) < want || next.Examined >= maxTotal,
	}, nil
}
