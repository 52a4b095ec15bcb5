// Package bulk streams row mutations into a search engine's bulk API.
//
// A BulkRequest accepts commands from a single producer and hands them to a
// pool of workers through a bounded queue. Each worker turns a run of
// commands into one bulk call, encoding them on demand while the HTTP
// client reads the request body, so memory stays bounded no matter how many
// rows are indexed.
//
// # Lifecycle
//
//  1. New starts with no workers. The first command spawns one; further
//     workers are added, up to Config.Concurrency, while the queue backlog
//     stays above an even share of its capacity.
//
//  2. Insert, Update, DeleteByXmin and DeleteByXmax block while the queue is
//     full and fail fast once any worker reported an error.
//
//  3. Finish closes the queue, waits for every worker, reports the first
//     error and applies the refresh policy.
//
// Terminate (or cancelling the context passed to New) stops all work
// without waiting: in-flight bulk calls are aborted and blocked producers
// are released with ErrInterrupted.
//
// # Usage
//
//	req, err := bulk.New(ctx, bulk.Config{Indexer: client})
//	if err != nil {
//	    return err
//	}
//	for _, row := range rows {
//	    if err := req.Insert(row.ID, row.Cmin, row.Cmax, row.Xmin, row.Xmax, row.Doc); err != nil {
//	        break
//	    }
//	}
//	indexed, err := req.Finish()
package bulk
