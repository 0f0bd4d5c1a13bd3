// Package retry runs an operation with exponential backoff until it
// succeeds or the attempt budget is spent.
//
// It exists for startup races: the daemon usually boots alongside the
// broker and the database, so the first dial and the first ping get a
// short window of patience instead of failing the whole process. The
// Quick preset is sized to fit inside a connect timeout.
//
// Bounded re-delivery of failed ingestion batches is NOT handled here;
// that is the dead-letter controller's requeue path, which tracks
// per-entry retry counts rather than re-running a closure.
//
// Wrap an error with NonRetryable to abort the loop at once:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    if err := db.PingContext(ctx); isBadPassword(err) {
//	        return retry.NonRetryable(err)
//	    } else if err != nil {
//	        return err
//	    }
//	    return nil
//	})
//
// Do respects ctx both between attempts and during backoff sleeps.
package retry
