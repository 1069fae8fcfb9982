// Package stackexchange provides a client for the StackExchange 2.3 API.
package stackexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/fetcher"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.stackexchange.com/2.3"

// DefaultSite is the site parameter sent with every request.
const DefaultSite = "stackoverflow"

// Error ids the API reports in its error wrapper.
const (
	ErrorIDInternal          = 500
	ErrorIDThrottleViolation = 502
)

// Client defines the StackExchange operations used by the collector.
type Client interface {
	// Users lists users sorted by reputation, highest first.
	Users(ctx context.Context, q UsersQuery) (*Page[User], error)
	// UserQuestions returns a user's newest questions.
	UserQuestions(ctx context.Context, userID int64, pageSize int) (*Page[Question], error)
	// UserAnswers returns a user's newest answers.
	UserAnswers(ctx context.Context, userID int64, pageSize int) (*Page[Answer], error)
}

// Page is the common response wrapper.
type Page[T any] struct {
	Items          []T  `json:"items"`
	HasMore        bool `json:"has_more"`
	QuotaMax       int  `json:"quota_max"`
	QuotaRemaining int  `json:"quota_remaining"`
	// Backoff, when set, is the number of seconds to wait before hitting the
	// same method again.
	Backoff int `json:"backoff"`
}

// BackoffDuration returns the backoff hint as a duration.
func (p *Page[T]) BackoffDuration() time.Duration {
	if p == nil || p.Backoff <= 0 {
		return 0
	}
	return time.Duration(p.Backoff) * time.Second
}

// BadgeCounts holds badge totals.
type BadgeCounts struct {
	Gold   int `json:"gold"`
	Silver int `json:"silver"`
	Bronze int `json:"bronze"`
}

// User is a site user.
type User struct {
	UserID      int64        `json:"user_id"`
	AccountID   *int64       `json:"account_id"`
	DisplayName string       `json:"display_name"`
	Reputation  int          `json:"reputation"`
	BadgeCounts *BadgeCounts `json:"badge_counts"`
	Location    *string      `json:"location"`
	WebsiteURL  *string      `json:"website_url"`
	Link        *string      `json:"link"`
	UserType    string       `json:"user_type"`
}

// Question is a question summary.
type Question struct {
	QuestionID   int64  `json:"question_id"`
	Title        string `json:"title"`
	ViewCount    int    `json:"view_count"`
	Score        int    `json:"score"`
	CreationDate int64  `json:"creation_date"`
}

// Answer is an answer summary.
type Answer struct {
	AnswerID     int64 `json:"answer_id"`
	QuestionID   int64 `json:"question_id"`
	Score        int   `json:"score"`
	IsAccepted   bool  `json:"is_accepted"`
	CreationDate int64 `json:"creation_date"`
}

// UsersQuery selects a page of the reputation listing.
type UsersQuery struct {
	Page          int
	PageSize      int
	MinReputation int
}

// APIError is the error wrapper returned with non-2xx responses.
type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorID      int    `json:"error_id"`
	ErrorName    string `json:"error_name"`
	ErrorMessage string `json:"error_message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stackexchange: %s (%d): %s", e.ErrorName, e.ErrorID, e.ErrorMessage)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API root (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithKey sets the application key, which raises the daily quota.
func WithKey(key string) Option {
	return func(c *httpClient) {
		c.key = key
	}
}

// WithSite overrides the site parameter.
func WithSite(site string) Option {
	return func(c *httpClient) {
		c.site = site
	}
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(c *httpClient) {
		c.fetch = f
	}
}

type httpClient struct {
	baseURL string
	site    string
	key     string
	fetch   fetcher.Fetcher
}

// NewClient creates a StackExchange client.
func NewClient(opts ...Option) Client {
	c := &httpClient{baseURL: DefaultBaseURL, site: DefaultSite}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetch == nil {
		c.fetch = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	return c
}

func (c *httpClient) Users(ctx context.Context, q UsersQuery) (*Page[User], error) {
	params := url.Values{
		"order": {"desc"},
		"sort":  {"reputation"},
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pagesize", strconv.Itoa(q.PageSize))
	}
	if q.MinReputation > 0 {
		params.Set("min", strconv.Itoa(q.MinReputation))
	}
	var page Page[User]
	if err := c.get(ctx, "/users", params, &page); err != nil {
		return nil, eris.Wrapf(err, "stackexchange: users page %d", q.Page)
	}
	return &page, nil
}

func (c *httpClient) UserQuestions(ctx context.Context, userID int64, pageSize int) (*Page[Question], error) {
	var page Page[Question]
	path := fmt.Sprintf("/users/%d/questions", userID)
	if err := c.get(ctx, path, newestFirst(pageSize), &page); err != nil {
		return nil, eris.Wrapf(err, "stackexchange: questions of %d", userID)
	}
	return &page, nil
}

func (c *httpClient) UserAnswers(ctx context.Context, userID int64, pageSize int) (*Page[Answer], error) {
	var page Page[Answer]
	path := fmt.Sprintf("/users/%d/answers", userID)
	if err := c.get(ctx, path, newestFirst(pageSize), &page); err != nil {
		return nil, eris.Wrapf(err, "stackexchange: answers of %d", userID)
	}
	return &page, nil
}

func newestFirst(pageSize int) url.Values {
	v := url.Values{
		"order": {"desc"},
		"sort":  {"creation"},
	}
	if pageSize > 0 {
		v.Set("pagesize", strconv.Itoa(pageSize))
	}
	return v
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("site", c.site)
	if c.key != "" {
		params.Set("key", c.key)
	}
	err := c.fetch.GetJSON(ctx, c.baseURL+path, params, out)
	if err == nil {
		return nil
	}
	return classify(err)
}

var throttleWait = regexp.MustCompile(`available in (\d+) seconds?`)

// classify decodes the API error wrapper. Throttle violations are reported
// as HTTP 400 and are retryable; the wait is embedded in the message.
func classify(err error) error {
	var se *resilience.StatusError
	if !errors.As(err, &se) {
		return err
	}
	apiErr := &APIError{StatusCode: se.StatusCode}
	if jerr := json.Unmarshal([]byte(se.Body), apiErr); jerr != nil || apiErr.ErrorID == 0 {
		return err
	}

	switch apiErr.ErrorID {
	case ErrorIDThrottleViolation, ErrorIDInternal:
		var hint time.Duration
		if m := throttleWait.FindStringSubmatch(apiErr.ErrorMessage); m != nil {
			if secs, perr := strconv.Atoi(m[1]); perr == nil {
				hint = time.Duration(secs) * time.Second
			}
		}
		status := se.StatusCode
		if apiErr.ErrorID == ErrorIDThrottleViolation {
			status = http.StatusTooManyRequests
		}
		return resilience.NewTransientError(apiErr, status).WithRetryAfter(hint)
	default:
		return apiErr
	}
}
