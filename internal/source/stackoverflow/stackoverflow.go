// Package stackoverflow collects top Stack Overflow users by reputation and
// enriches them with their recent question and answer activity.
package stackoverflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/collect"
	"github.com/sells-group/profile-collector/internal/governor"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
	se "github.com/sells-group/profile-collector/pkg/stackexchange"
)

// lowQuota is the remaining daily quota below which each response is logged at warn.
const lowQuota = 100

// Options tunes the collector.
type Options struct {
	MinReputation  int
	MaxPages       int
	PageSize       int
	DetailPageSize int
	PageDelay      time.Duration
}

// Collector implements collect.Source for Stack Overflow. Listing keeps
// each user's summary so detail only fetches activity.
type Collector struct {
	client se.Client
	gov    *governor.Governor
	opts   Options

	mu      sync.RWMutex
	users   map[string]se.User
	hasMore bool
}

// New creates a Stack Overflow collector. Every call goes through gov.
func New(client se.Client, gov *governor.Governor, opts Options) *Collector {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.DetailPageSize <= 0 {
		opts.DetailPageSize = 5
	}
	return &Collector{
		client:  client,
		gov:     gov,
		opts:    opts,
		users:   make(map[string]se.User),
		hasMore: true,
	}
}

// RetryPolicy adapts base to StackExchange throttling: the advertised wait,
// or defaultWait when none was given, plus ten seconds per earlier retry.
func RetryPolicy(base resilience.RetryPolicy, defaultWait time.Duration) resilience.RetryPolicy {
	base.Backoff = func(attempt int, hint time.Duration) time.Duration {
		if hint <= 0 {
			hint = defaultWait
		}
		return hint + time.Duration(attempt-1)*10*time.Second
	}
	return base
}

// Name implements collect.Source.
func (c *Collector) Name() string { return model.SourceStackOverflow }

// List pages through users sorted by reputation until has_more is false.
func (c *Collector) List(ctx context.Context, ws *collect.WorkingSet) error {
	c.mu.Lock()
	c.users = make(map[string]se.User)
	c.hasMore = true
	c.mu.Unlock()

	return collect.RankedPages{
		Source:      c.Name(),
		Fetch:       c.usersPage,
		MaxPages:    c.opts.MaxPages,
		PageDelay:   c.opts.PageDelay,
		StopOnEmpty: true,
	}.List(ctx, ws)
}

func (c *Collector) usersPage(ctx context.Context, page int) ([]string, error) {
	if !c.hasMore {
		return nil, nil
	}
	p, err := governor.Do(ctx, c.gov, "users", func(ctx context.Context) (*se.Page[se.User], error) {
		return c.client.Users(ctx, se.UsersQuery{
			Page:          page,
			PageSize:      c.opts.PageSize,
			MinReputation: c.opts.MinReputation,
		})
	})
	if err != nil {
		return nil, err
	}
	observe(c.gov, p.QuotaRemaining, p.BackoffDuration())
	c.hasMore = p.HasMore

	ids := make([]string, 0, len(p.Items))
	c.mu.Lock()
	for _, u := range p.Items {
		if u.Reputation < c.opts.MinReputation {
			continue
		}
		id := strconv.FormatInt(u.UserID, 10)
		if _, ok := c.users[id]; !ok {
			c.users[id] = u
		}
		ids = append(ids, id)
	}
	c.mu.Unlock()
	return ids, nil
}

// Detail fetches the user's newest questions and answers. Either call
// failing counts as no activity of that kind.
func (c *Collector) Detail(ctx context.Context, id string) (model.StackOverflowProfile, error) {
	c.mu.RLock()
	user, ok := c.users[id]
	c.mu.RUnlock()
	if !ok {
		return model.StackOverflowProfile{}, collect.Reject("stackoverflow: %s: not listed", id)
	}

	var questions []se.Question
	qs, err := governor.Do(ctx, c.gov, "questions", func(ctx context.Context) (*se.Page[se.Question], error) {
		return c.client.UserQuestions(ctx, user.UserID, c.opts.DetailPageSize)
	})
	if err = collect.Secondary(ctx, c.Name(), "questions", id, err); err != nil {
		return model.StackOverflowProfile{}, err
	}
	if qs != nil {
		observe(c.gov, qs.QuotaRemaining, qs.BackoffDuration())
		questions = qs.Items
	}

	var answers []se.Answer
	as, err := governor.Do(ctx, c.gov, "answers", func(ctx context.Context) (*se.Page[se.Answer], error) {
		return c.client.UserAnswers(ctx, user.UserID, c.opts.DetailPageSize)
	})
	if err = collect.Secondary(ctx, c.Name(), "answers", id, err); err != nil {
		return model.StackOverflowProfile{}, err
	}
	if as != nil {
		observe(c.gov, as.QuotaRemaining, as.BackoffDuration())
		answers = as.Items
	}

	return Normalize(user, questions, answers), nil
}

// Normalize maps a listed user and their activity to a record.
func Normalize(u se.User, questions []se.Question, answers []se.Answer) model.StackOverflowProfile {
	rec := model.StackOverflowProfile{
		UserID:         u.UserID,
		DisplayName:    model.CleanText(u.DisplayName),
		AccountID:      u.AccountID,
		Reputation:     u.Reputation,
		Location:       model.CleanOptional(u.Location),
		WebsiteURL:     model.CleanOptional(u.WebsiteURL),
		Link:           model.CleanOptional(u.Link),
		QuestionsCount: len(questions),
		AnswersCount:   len(answers),
	}
	if u.BadgeCounts != nil {
		rec.GoldBadges = u.BadgeCounts.Gold
		rec.SilverBadges = u.BadgeCounts.Silver
		rec.BronzeBadges = u.BadgeCounts.Bronze
	}
	for _, q := range questions {
		rec.TotalQuestionViews += q.ViewCount
	}
	return rec
}

// observe applies the payload backoff hint and reports quota.
func observe(gov *governor.Governor, quotaRemaining int, backoff time.Duration) {
	gov.Pause(backoff)
	if quotaRemaining > 0 && quotaRemaining < lowQuota {
		zap.L().Warn("stackexchange quota running low", zap.Int("quota_remaining", quotaRemaining))
	} else {
		zap.L().Debug("stackexchange quota", zap.Int("quota_remaining", quotaRemaining))
	}
}
