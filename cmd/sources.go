package main

import (
	"context"
	"time"

	"github.com/sells-group/profile-collector/internal/config"
	"github.com/sells-group/profile-collector/internal/governor"
	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
	ghsrc "github.com/sells-group/profile-collector/internal/source/github"
	lcsrc "github.com/sells-group/profile-collector/internal/source/leetcode"
	sosrc "github.com/sells-group/profile-collector/internal/source/stackoverflow"
	lc "github.com/sells-group/profile-collector/pkg/leetcode"
	se "github.com/sells-group/profile-collector/pkg/stackexchange"
)

// newGovernor builds the rate governor for one source from config.
func newGovernor(source string, sc config.SourceConfig, m *metrics.Metrics) *governor.Governor {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
	if source == model.SourceStackOverflow {
		retry = sosrc.RetryPolicy(retry, time.Duration(cfg.StackOverflow.RateLimitWaitSecs)*time.Second)
	}
	return governor.New(governor.Options{
		Source:      source,
		Concurrency: sc.Concurrency,
		CallDelay:   sc.CallDelay(),
		Retry:       retry,
		Breaker:     resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		Metrics:     m,
	})
}

func newLeetCode(m *metrics.Metrics) *lcsrc.Collector {
	c := cfg.LeetCode
	return lcsrc.New(
		lc.NewClient(lc.WithBaseURL(c.BaseURL)),
		newGovernor(model.SourceLeetCode, c.SourceConfig, m),
		lcsrc.Options{
			MaxRank:       c.MaxRank,
			MaxPages:      c.MaxPages,
			PageDelay:     c.PageDelay(),
			EmptyPageWait: time.Duration(c.EmptyPageWaitMs) * time.Millisecond,
		},
	)
}

func newGitHub(ctx context.Context, m *metrics.Metrics) (*ghsrc.Collector, error) {
	c := cfg.GitHub
	client, err := ghsrc.NewClient(ctx, c.Token, c.BaseURL)
	if err != nil {
		return nil, err
	}
	return ghsrc.New(client, newGovernor(model.SourceGitHub, c.SourceConfig, m), ghsrc.Options{
		Queries:          ghsrc.SeedQueries(c.MinFollowers),
		MaxPagesPerQuery: c.MaxPagesPerQuery,
		PerPage:          c.PerPage,
		RepoLimit:        c.RepoLimit,
		PageDelay:        c.PageDelay(),
		Shuffle:          c.Shuffle,
	}), nil
}

func newStackOverflow(m *metrics.Metrics) *sosrc.Collector {
	c := cfg.StackOverflow
	opts := []se.Option{se.WithBaseURL(c.BaseURL), se.WithSite(c.Site)}
	if c.Key != "" {
		opts = append(opts, se.WithKey(c.Key))
	}
	return sosrc.New(
		se.NewClient(opts...),
		newGovernor(model.SourceStackOverflow, c.SourceConfig, m),
		sosrc.Options{
			MinReputation:  c.MinReputation,
			MaxPages:       c.MaxPages,
			PageSize:       c.PageSize,
			DetailPageSize: c.DetailPageSize,
			PageDelay:      c.PageDelay(),
		},
	)
}
