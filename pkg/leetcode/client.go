// Package leetcode provides a client for the LeetCode GraphQL API.
package leetcode

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/fetcher"
)

// DefaultBaseURL is the public GraphQL endpoint.
const DefaultBaseURL = "https://leetcode.com/graphql"

const rankingQuery = `query globalRanking($page: Int) {
  globalRanking(page: $page) {
    rankingNodes {
      currentRating
      currentGlobalRanking
      dataRegion
      user {
        username
        profile {
          userSlug
        }
      }
    }
  }
}`

const userProfileQuery = `query getUserProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile {
      ranking
      reputation
      userAvatar
    }
    submitStats {
      acSubmissionNum {
        difficulty
        count
      }
    }
  }
}`

// Client defines the LeetCode operations used by the collector.
type Client interface {
	// GlobalRanking returns one page of the global contest ranking.
	GlobalRanking(ctx context.Context, page int) ([]RankingNode, error)
	// MatchedUser returns a user's profile, or nil when the user does not exist.
	MatchedUser(ctx context.Context, username string) (*MatchedUser, error)
}

// Rating is a contest rating. LeetCode serializes it as a string on some
// regions and a number on others.
type Rating float64

// UnmarshalJSON accepts a JSON number or a numeric string.
func (r *Rating) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*r = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "leetcode: parse rating %q", s)
	}
	*r = Rating(f)
	return nil
}

// RankingNode is one entry of the global ranking.
type RankingNode struct {
	CurrentRating        *Rating      `json:"currentRating"`
	CurrentGlobalRanking *int         `json:"currentGlobalRanking"`
	DataRegion           *string      `json:"dataRegion"`
	User                 *RankingUser `json:"user"`
}

// RankingUser identifies the ranked user.
type RankingUser struct {
	Username string `json:"username"`
	Profile  *struct {
		UserSlug string `json:"userSlug"`
	} `json:"profile"`
}

// MatchedUser is the profile returned by matchedUser.
type MatchedUser struct {
	Username    string       `json:"username"`
	Profile     *UserProfile `json:"profile"`
	SubmitStats *SubmitStats `json:"submitStats"`
}

// UserProfile holds public profile fields.
type UserProfile struct {
	Ranking    *int    `json:"ranking"`
	Reputation *int    `json:"reputation"`
	UserAvatar *string `json:"userAvatar"`
}

// SubmitStats holds accepted-submission counts.
type SubmitStats struct {
	AcSubmissionNum []SubmissionCount `json:"acSubmissionNum"`
}

// SubmissionCount is the accepted count for one difficulty bucket. The
// API orders buckets All, Easy, Medium, Hard.
type SubmissionCount struct {
	Difficulty string `json:"difficulty"`
	Count      int    `json:"count"`
}

// GraphQLError is an error entry of a GraphQL response.
type GraphQLError struct {
	Message string `json:"message"`
}

// ResponseError is returned when the response carries errors and no data.
type ResponseError struct {
	Errors []GraphQLError
}

func (e *ResponseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return "leetcode: graphql: " + strings.Join(msgs, "; ")
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type response[T any] struct {
	Data   *T             `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

type rankingData struct {
	GlobalRanking *struct {
		RankingNodes []RankingNode `json:"rankingNodes"`
	} `json:"globalRanking"`
}

type matchedUserData struct {
	MatchedUser *MatchedUser `json:"matchedUser"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
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
	fetch   fetcher.Fetcher
}

// NewClient creates a LeetCode client. Requests carry a browser user agent
// and the site Referer, without which the endpoint rejects anonymous calls.
func NewClient(opts ...Option) Client {
	c := &httpClient{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetch == nil {
		c.fetch = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Headers:   map[string]string{"Referer": "https://leetcode.com/"},
		})
	}
	return c
}

func (c *httpClient) GlobalRanking(ctx context.Context, page int) ([]RankingNode, error) {
	var resp response[rankingData]
	req := request{Query: rankingQuery, Variables: map[string]any{"page": page}}
	if err := c.fetch.PostJSON(ctx, c.baseURL, req, &resp); err != nil {
		return nil, eris.Wrapf(err, "leetcode: ranking page %d", page)
	}
	if resp.Data == nil || resp.Data.GlobalRanking == nil {
		if len(resp.Errors) > 0 {
			return nil, &ResponseError{Errors: resp.Errors}
		}
		return nil, nil
	}
	return resp.Data.GlobalRanking.RankingNodes, nil
}

func (c *httpClient) MatchedUser(ctx context.Context, username string) (*MatchedUser, error) {
	var resp response[matchedUserData]
	req := request{Query: userProfileQuery, Variables: map[string]any{"username": username}}
	if err := c.fetch.PostJSON(ctx, c.baseURL, req, &resp); err != nil {
		return nil, eris.Wrapf(err, "leetcode: profile %s", username)
	}
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, &ResponseError{Errors: resp.Errors}
		}
		return nil, nil
	}
	// A missing user comes back as matchedUser: null alongside an error entry.
	return resp.Data.MatchedUser, nil
}

// Usernames extracts the usernames of nodes that carry a user.
func Usernames(nodes []RankingNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.User != nil && n.User.Username != "" {
			out = append(out, n.User.Username)
		}
	}
	return out
}

var _ json.Unmarshaler = (*Rating)(nil)
