// Package leetcode collects LeetCode profiles from the global contest ranking.
package leetcode

import (
	"context"
	"time"

	"github.com/sells-group/profile-collector/internal/collect"
	"github.com/sells-group/profile-collector/internal/governor"
	"github.com/sells-group/profile-collector/internal/model"
	lc "github.com/sells-group/profile-collector/pkg/leetcode"
)

// minBuckets is the number of acSubmissionNum entries (All, Easy, Medium,
// Hard) a profile needs to be complete.
const minBuckets = 4

// Options tunes the collector.
type Options struct {
	// MaxRank rejects users ranked worse than this. 0 disables the filter.
	MaxRank       int
	MaxPages      int
	PageDelay     time.Duration
	EmptyPageWait time.Duration
}

// Collector implements collect.Source for LeetCode.
type Collector struct {
	client lc.Client
	gov    *governor.Governor
	opts   Options
}

// New creates a LeetCode collector. Every call goes through gov.
func New(client lc.Client, gov *governor.Governor, opts Options) *Collector {
	return &Collector{client: client, gov: gov, opts: opts}
}

// Name implements collect.Source.
func (c *Collector) Name() string { return model.SourceLeetCode }

// List walks the global ranking page by page.
func (c *Collector) List(ctx context.Context, ws *collect.WorkingSet) error {
	return collect.RankedPages{
		Source:         c.Name(),
		Fetch:          c.rankingPage,
		MaxPages:       c.opts.MaxPages,
		PageDelay:      c.opts.PageDelay,
		EmptyRetryWait: c.opts.EmptyPageWait,
	}.List(ctx, ws)
}

func (c *Collector) rankingPage(ctx context.Context, page int) ([]string, error) {
	nodes, err := governor.Do(ctx, c.gov, "ranking", func(ctx context.Context) ([]lc.RankingNode, error) {
		return c.client.GlobalRanking(ctx, page)
	})
	if err != nil {
		return nil, err
	}
	return lc.Usernames(nodes), nil
}

// Detail fetches and normalizes one profile.
func (c *Collector) Detail(ctx context.Context, username string) (model.LeetCodeProfile, error) {
	user, err := governor.Do(ctx, c.gov, "profile", func(ctx context.Context) (*lc.MatchedUser, error) {
		return c.client.MatchedUser(ctx, username)
	})
	if err != nil {
		return model.LeetCodeProfile{}, err
	}
	return Normalize(username, user, c.opts.MaxRank)
}

// Normalize applies the acceptance rules and maps the response to a record.
// A profile without a ranking is rejected.
func Normalize(username string, user *lc.MatchedUser, maxRank int) (model.LeetCodeProfile, error) {
	if user == nil {
		return model.LeetCodeProfile{}, collect.Reject("leetcode: %s: no such user", username)
	}
	if user.Profile == nil || user.Profile.Ranking == nil {
		return model.LeetCodeProfile{}, collect.Reject("leetcode: %s: no ranking", username)
	}

	ranking := *user.Profile.Ranking
	reputation := user.Profile.Reputation
	if maxRank > 0 && ranking > maxRank {
		return model.LeetCodeProfile{}, collect.Reject("leetcode: %s: ranking %d above %d", username, ranking, maxRank)
	}

	var buckets []lc.SubmissionCount
	if user.SubmitStats != nil {
		buckets = user.SubmitStats.AcSubmissionNum
	}
	if len(buckets) < minBuckets {
		return model.LeetCodeProfile{}, collect.Reject("leetcode: %s: %d submission buckets", username, len(buckets))
	}
	all, easy, medium, hard := solvedCounts(buckets)

	name := user.Username
	if name == "" {
		name = username
	}
	return model.LeetCodeProfile{
		Username:     name,
		Ranking:      ranking,
		Reputation:   reputation,
		AllSolved:    all,
		EasySolved:   easy,
		MediumSolved: medium,
		HardSolved:   hard,
	}, nil
}

// solvedCounts reads buckets by difficulty name, falling back to the
// positional All, Easy, Medium, Hard order when a name is missing.
func solvedCounts(buckets []lc.SubmissionCount) (all, easy, medium, hard int) {
	byName := make(map[string]int, len(buckets))
	for _, b := range buckets {
		byName[b.Difficulty] = b.Count
	}
	pick := func(name string, pos int) int {
		if n, ok := byName[name]; ok {
			return n
		}
		return buckets[pos].Count
	}
	return pick("All", 0), pick("Easy", 1), pick("Medium", 2), pick("Hard", 3)
}
