package concurrency

import (
	"context"
	"sync"

	tsdb_errors "github.com/prometheus/prometheus/tsdb/errors"
)

// ForEachNode calls nodeFunc once per node id, contacting at most concurrency
// nodes at a time; zero or less contacts them all at once. A node whose call
// fails does not stop the others: every failure is collected and returned as
// a single multi-error. Once ctx is done no further node is contacted and
// ctx.Err() is returned.
func ForEachNode(ctx context.Context, nodeIDs []string, concurrency int, nodeFunc func(ctx context.Context, nodeID string) error) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	if concurrency <= 0 || concurrency > len(nodeIDs) {
		concurrency = len(nodeIDs)
	}

	var (
		wg      sync.WaitGroup
		pending = make(chan string)

		failuresMtx sync.Mutex
		failures    = tsdb_errors.NewMulti()
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for nodeID := range pending {
				if ctx.Err() != nil {
					return
				}
				if err := nodeFunc(ctx, nodeID); err != nil {
					failuresMtx.Lock()
					failures.Add(err)
					failuresMtx.Unlock()
				}
			}
		}()
	}

dispatch:
	for _, nodeID := range nodeIDs {
		select {
		case pending <- nodeID:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(pending)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	failuresMtx.Lock()
	defer failuresMtx.Unlock()
	return failures.Err()
}
