// Package github collects GitHub user profiles found through user search,
// enriched with aggregates over each user's recently pushed repositories.
package github

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v53/github"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sells-group/profile-collector/internal/collect"
	"github.com/sells-group/profile-collector/internal/governor"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

const (
	topLanguages = 5
	maxTopics    = 10
)

// Options tunes the collector.
type Options struct {
	Queries          []string
	MaxPagesPerQuery int
	PerPage          int
	RepoLimit        int
	PageDelay        time.Duration
	// Shuffle randomizes query order. Rand seeds it; nil uses the global source.
	Shuffle bool
	Rand    *rand.Rand
}

// Collector implements collect.Source for GitHub.
type Collector struct {
	client *gh.Client
	gov    *governor.Governor
	opts   Options
	now    func() time.Time
}

// NewClient builds a go-github client. A token authenticates through
// oauth2; without one the unauthenticated quota applies. baseURL may be
// empty for the public API.
func NewClient(ctx context.Context, token, baseURL string) (*gh.Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		zap.L().Warn("github: no token configured, unauthenticated rate limits apply")
	}

	client := gh.NewClient(hc)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, eris.Wrapf(err, "github: parse base url %s", baseURL)
		}
		client.BaseURL = u
	}
	return client, nil
}

// SeedQueries returns the default search rotation for a follower floor:
// recent joiners, six languages and four locations.
func SeedQueries(minFollowers int) []string {
	n := minFollowers
	qs := []string{fmt.Sprintf("followers:>%d sort:joined-desc", n)}
	for _, lang := range []string{"javascript", "python", "java", "rust", "go", "cpp"} {
		qs = append(qs, fmt.Sprintf("followers:%d..10000 language:%s", n, lang))
	}
	for _, loc := range []string{"Remote", "USA", "India", "Europe"} {
		qs = append(qs, fmt.Sprintf("followers:>%d location:%s", n, loc))
	}
	return qs
}

// New creates a GitHub collector. Every call goes through gov.
func New(client *gh.Client, gov *governor.Governor, opts Options) *Collector {
	if opts.MaxPagesPerQuery <= 0 {
		opts.MaxPagesPerQuery = 10
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.RepoLimit <= 0 {
		opts.RepoLimit = 100
	}
	return &Collector{client: client, gov: gov, opts: opts, now: time.Now}
}

// Name implements collect.Source.
func (c *Collector) Name() string { return model.SourceGitHub }

// List rotates through the search queries.
func (c *Collector) List(ctx context.Context, ws *collect.WorkingSet) error {
	queries := append([]string(nil), c.opts.Queries...)
	if c.opts.Shuffle {
		shuffle := rand.Shuffle
		if c.opts.Rand != nil {
			shuffle = c.opts.Rand.Shuffle
		}
		shuffle(len(queries), func(i, j int) { queries[i], queries[j] = queries[j], queries[i] })
	}

	return collect.QueryRotation{
		Source:           c.Name(),
		Queries:          queries,
		Fetch:            c.searchPage,
		MaxPagesPerQuery: c.opts.MaxPagesPerQuery,
		PageSize:         c.opts.PerPage,
		PageDelay:        c.opts.PageDelay,
	}.List(ctx, ws)
}

func (c *Collector) searchPage(ctx context.Context, query string, page int) ([]string, error) {
	res, err := governor.Do(ctx, c.gov, "search", func(ctx context.Context) (*gh.UsersSearchResult, error) {
		r, _, err := c.client.Search.Users(ctx, query, &gh.SearchOptions{
			ListOptions: gh.ListOptions{Page: page, PerPage: c.opts.PerPage},
		})
		return r, c.classify(err)
	})
	if err != nil {
		return nil, err
	}
	logins := make([]string, 0, len(res.Users))
	for _, u := range res.Users {
		if l := u.GetLogin(); l != "" {
			logins = append(logins, l)
		}
	}
	return logins, nil
}

// Detail fetches the profile and the most recently pushed repositories.
// A failed repos call leaves the repository aggregates at zero.
func (c *Collector) Detail(ctx context.Context, login string) (model.GitHubProfile, error) {
	user, err := governor.Do(ctx, c.gov, "user", func(ctx context.Context) (*gh.User, error) {
		u, _, err := c.client.Users.Get(ctx, login)
		return u, c.classify(err)
	})
	if err != nil {
		if resilience.StatusCode(err) == http.StatusNotFound {
			return model.GitHubProfile{}, collect.Reject("github: %s: no such user", login)
		}
		return model.GitHubProfile{}, err
	}
	if user == nil {
		return model.GitHubProfile{}, collect.Reject("github: %s: empty profile", login)
	}

	repos, err := governor.Do(ctx, c.gov, "repos", func(ctx context.Context) ([]*gh.Repository, error) {
		r, _, err := c.client.Repositories.List(ctx, login, &gh.RepositoryListOptions{
			Sort:        "pushed",
			ListOptions: gh.ListOptions{PerPage: c.opts.RepoLimit},
		})
		return r, c.classify(err)
	})
	if err = collect.Secondary(ctx, c.Name(), "repos", login, err); err != nil {
		return model.GitHubProfile{}, err
	}

	return Normalize(login, user, repos), nil
}

// Normalize maps a user and their repositories to a record.
func Normalize(login string, user *gh.User, repos []*gh.Repository) model.GitHubProfile {
	agg := Aggregate(repos)
	username := user.GetLogin()
	if username == "" {
		username = login
	}
	return model.GitHubProfile{
		Username:     username,
		Name:         model.CleanOptional(user.Name),
		Email:        model.CleanOptional(user.Email),
		Location:     model.CleanOptional(user.Location),
		PublicRepos:  user.GetPublicRepos(),
		Followers:    user.GetFollowers(),
		Following:    user.GetFollowing(),
		TotalStars:   agg.Stars,
		TotalForks:   agg.Forks,
		TopLanguages: agg.Languages,
		CommonTopics: agg.Topics,
	}
}

// classify maps go-github errors onto the retry taxonomy.
func (c *Collector) classify(err error) error {
	if err == nil {
		return nil
	}

	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		status := http.StatusForbidden
		if rle.Response != nil {
			status = rle.Response.StatusCode
		}
		hint := rle.Rate.Reset.Time.Sub(c.now())
		return resilience.NewTransientError(err, status).WithRetryAfter(max(hint, 0))
	}

	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		te := resilience.NewTransientError(err, http.StatusForbidden)
		if abuse.RetryAfter != nil {
			te = te.WithRetryAfter(*abuse.RetryAfter)
		}
		return te
	}

	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		if resilience.IsTransientHTTPStatus(code) {
			hint := resilience.ParseRetryAfter(er.Response.Header.Get("Retry-After"), c.now())
			return resilience.NewTransientError(err, code).WithRetryAfter(hint)
		}
		return &resilience.StatusError{StatusCode: code, Body: er.Message}
	}

	return err
}
