package collect

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/resilience"
)

// Lister fills a WorkingSet with identifiers. It returns nil when listing
// stopped normally (target reached, pages exhausted, source ran dry) and an
// error only when the run cannot continue: the context was cancelled or
// the source is unreachable.
type Lister interface {
	List(ctx context.Context, ws *WorkingSet) error
}

// PageFunc fetches one numbered page of identifiers.
type PageFunc func(ctx context.Context, page int) ([]string, error)

// QueryPageFunc fetches one page of identifiers for a search query.
type QueryPageFunc func(ctx context.Context, query string, page int) ([]string, error)

// defaultMaxStale stops paging after this many consecutive pages add nothing new.
const defaultMaxStale = 3

// RankedPages walks a single ranked listing from StartPage upward.
//
// An empty or failed page is retried once after EmptyRetryWait; a second
// miss ends listing. StopOnEmpty ends listing at the first miss instead.
// Listing also ends at MaxPages (0 means unbounded) and after MaxStale
// consecutive pages that contribute no new identifiers.
type RankedPages struct {
	Source         string
	Fetch          PageFunc
	StartPage      int
	MaxPages       int
	PageDelay      time.Duration
	EmptyRetryWait time.Duration
	StopOnEmpty    bool
	MaxStale       int
}

// List implements Lister.
func (r RankedPages) List(ctx context.Context, ws *WorkingSet) error {
	log := zap.L().With(zap.String("source", r.Source), zap.String("strategy", "ranked_pages"))

	page := r.StartPage
	if page <= 0 {
		page = 1
	}
	maxStale := r.MaxStale
	if maxStale <= 0 {
		maxStale = defaultMaxStale
	}

	stale := 0
	for fetched := 0; !ws.Full() && (r.MaxPages <= 0 || fetched < r.MaxPages); fetched++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := r.Fetch(ctx, page)
		if stop(err) {
			return err
		}
		if (err != nil || len(ids) == 0) && r.StopOnEmpty {
			log.Info("listing exhausted", zap.Int("page", page), zap.Int("collected", ws.Len()), zap.Error(err))
			return nil
		}
		if err != nil || len(ids) == 0 {
			log.Info("empty page, retrying once", zap.Int("page", page), zap.Error(err))
			if serr := resilience.Sleep(ctx, r.EmptyRetryWait); serr != nil {
				return serr
			}
			ids, err = r.Fetch(ctx, page)
			if stop(err) {
				return err
			}
			if err != nil || len(ids) == 0 {
				log.Info("listing exhausted", zap.Int("page", page), zap.Int("collected", ws.Len()), zap.Error(err))
				return nil
			}
		}

		added := ws.AddAll(ids)
		log.Debug("page listed", zap.Int("page", page), zap.Int("added", added), zap.Int("collected", ws.Len()))

		if added == 0 {
			stale++
			if stale >= maxStale {
				log.Info("listing stalled on duplicate pages", zap.Int("page", page))
				return nil
			}
		} else {
			stale = 0
		}

		page++
		if ws.Full() {
			break
		}
		if err := resilience.Sleep(ctx, r.PageDelay); err != nil {
			return err
		}
	}
	return nil
}

// QueryRotation walks a list of search queries in order, paging each up to
// MaxPagesPerQuery. A query is abandoned on an empty page, a short page
// (fewer than PageSize results) or an error, and the next query is tried.
type QueryRotation struct {
	Source           string
	Queries          []string
	Fetch            QueryPageFunc
	MaxPagesPerQuery int
	PageSize         int
	PageDelay        time.Duration
}

// List implements Lister.
func (q QueryRotation) List(ctx context.Context, ws *WorkingSet) error {
	log := zap.L().With(zap.String("source", q.Source), zap.String("strategy", "query_rotation"))

	maxPages := q.MaxPagesPerQuery
	if maxPages <= 0 {
		maxPages = 1
	}

	for _, query := range q.Queries {
		if ws.Full() {
			break
		}
		log.Info("searching", zap.String("query", query))

		for page := 1; page <= maxPages && !ws.Full(); page++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			ids, err := q.Fetch(ctx, query, page)
			if stop(err) {
				return err
			}
			if err != nil {
				log.Warn("query failed, moving on", zap.String("query", query), zap.Int("page", page), zap.Error(err))
				break
			}
			if len(ids) == 0 {
				break
			}

			added := ws.AddAll(ids)
			log.Debug("page listed",
				zap.String("query", query),
				zap.Int("page", page),
				zap.Int("added", added),
				zap.Int("collected", ws.Len()),
			)

			if q.PageSize > 0 && len(ids) < q.PageSize {
				break
			}
			if err := resilience.Sleep(ctx, q.PageDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// stop reports whether a listing error ends the run instead of the page.
func stop(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}
