package leetcode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-collector/internal/collect"
	"github.com/sells-group/profile-collector/internal/governor"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
	lc "github.com/sells-group/profile-collector/pkg/leetcode"
)

func buckets(counts ...int) *lc.SubmitStats {
	names := []string{"All", "Easy", "Medium", "Hard"}
	s := &lc.SubmitStats{}
	for i, c := range counts {
		s.AcSubmissionNum = append(s.AcSubmissionNum, lc.SubmissionCount{Difficulty: names[i%4], Count: c})
	}
	return s
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		user     *lc.MatchedUser
		maxRank  int
		rejected bool
	}{
		{"missing user", nil, 0, true},
		{"incomplete buckets", &lc.MatchedUser{Username: "u", SubmitStats: buckets(10, 5, 5)}, 0, true},
		{"no stats", &lc.MatchedUser{Username: "u"}, 0, true},
		{"rank above ceiling", &lc.MatchedUser{
			Username: "u", Profile: &lc.UserProfile{Ranking: model.Ptr(5001)}, SubmitStats: buckets(4, 1, 2, 1),
		}, 5000, true},
		{"rank at ceiling", &lc.MatchedUser{
			Username: "u", Profile: &lc.UserProfile{Ranking: model.Ptr(5000)}, SubmitStats: buckets(4, 1, 2, 1),
		}, 5000, false},
		{"missing profile", &lc.MatchedUser{Username: "u", SubmitStats: buckets(4, 1, 2, 1)}, 10, true},
		{"null ranking", &lc.MatchedUser{
			Username: "u", Profile: &lc.UserProfile{Reputation: model.Ptr(3)}, SubmitStats: buckets(4, 1, 2, 1),
		}, 10, true},
		{"null ranking without ceiling", &lc.MatchedUser{
			Username: "u", Profile: &lc.UserProfile{}, SubmitStats: buckets(4, 1, 2, 1),
		}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize("u", tt.user, tt.maxRank)
			if tt.rejected {
				assert.ErrorIs(t, err, collect.ErrRejected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize_MapsFields(t *testing.T) {
	user := &lc.MatchedUser{
		Username:    "lee215",
		Profile:     &lc.UserProfile{Ranking: model.Ptr(12), Reputation: model.Ptr(900)},
		SubmitStats: buckets(2900, 800, 1500, 600),
	}

	rec, err := Normalize("lee215", user, 0)

	require.NoError(t, err)
	assert.Equal(t, model.LeetCodeProfile{
		Username: "lee215", Ranking: 12, Reputation: model.Ptr(900),
		AllSolved: 2900, EasySolved: 800, MediumSolved: 1500, HardSolved: 600,
	}, rec)
}

func TestNormalize_BucketsByName(t *testing.T) {
	user := &lc.MatchedUser{
		Username: "x",
		Profile:  &lc.UserProfile{Ranking: model.Ptr(40)},
		SubmitStats: &lc.SubmitStats{AcSubmissionNum: []lc.SubmissionCount{
			{Difficulty: "Hard", Count: 1}, {Difficulty: "Medium", Count: 2},
			{Difficulty: "Easy", Count: 3}, {Difficulty: "All", Count: 6},
		}},
	}
	rec, err := Normalize("x", user, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.AllSolved)
	assert.Equal(t, 3, rec.EasySolved)
	assert.Equal(t, 1, rec.HardSolved)
}

// fakeLeetCode serves two ranking pages of three users; "c" is incomplete,
// "e" is ranked too low, "f" does not exist and the first profile call for
// "a" is rate limited.
func fakeLeetCode(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var limited atomic.Bool
	var calls atomic.Int64
	pages := map[int][]string{1: {"a", "b", "c"}, 2: {"d", "e", "f"}}
	ranks := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 999999}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if strings.Contains(req.Query, "globalRanking") {
			page := int(req.Variables["page"].(float64))
			var nodes []string
			for _, u := range pages[page] {
				nodes = append(nodes, fmt.Sprintf(`{"currentGlobalRanking":%d,"user":{"username":%q}}`, ranks[u], u))
			}
			fmt.Fprintf(w, `{"data":{"globalRanking":{"rankingNodes":[%s]}}}`, strings.Join(nodes, ","))
			return
		}

		username := req.Variables["username"].(string)
		switch username {
		case "a":
			if limited.CompareAndSwap(false, true) {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
		case "f":
			fmt.Fprint(w, `{"errors":[{"message":"That user does not exist."}],"data":{"matchedUser":null}}`)
			return
		}
		stats := `[{"difficulty":"All","count":10},{"difficulty":"Easy","count":5},{"difficulty":"Medium","count":3},{"difficulty":"Hard","count":2}]`
		if username == "c" {
			stats = `[{"difficulty":"All","count":10}]`
		}
		fmt.Fprintf(w, `{"data":{"matchedUser":{"username":%q,"profile":{"ranking":%d,"reputation":7},"submitStats":{"acSubmissionNum":%s}}}}`,
			username, ranks[username], stats)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newCollector(srv *httptest.Server, maxRank int) *Collector {
	gov := governor.New(governor.Options{
		Source:      model.SourceLeetCode,
		Concurrency: 2,
		Retry: resilience.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
		},
	})
	return New(lc.NewClient(lc.WithBaseURL(srv.URL)), gov, Options{MaxRank: maxRank})
}

func TestCollector_EndToEnd(t *testing.T) {
	srv, _ := fakeLeetCode(t)
	c := newCollector(srv, 1000)

	res := collect.Run[model.LeetCodeProfile](context.Background(), c, collect.Options{TargetCount: 6, Concurrency: 2})

	require.NoError(t, res.Err)
	var names []string
	for _, r := range res.Records {
		names = append(names, r.Username)
	}
	assert.Equal(t, []string{"a", "b", "d"}, names)
	assert.Equal(t, 6, res.Stats.Listed)
	assert.Equal(t, 3, res.Stats.Rejected)
	assert.Zero(t, res.Stats.Failed)
	assert.LessOrEqual(t, c.gov.Peak(), 2)
	assert.Equal(t, 7, *res.Records[0].Reputation)
}

func TestCollector_ListingStopsAtTarget(t *testing.T) {
	srv, calls := fakeLeetCode(t)
	c := newCollector(srv, 0)

	ws := collect.NewWorkingSet(2)
	require.NoError(t, c.List(context.Background(), ws))

	assert.Equal(t, []string{"a", "b"}, ws.IDs())
	assert.Equal(t, int64(1), calls.Load())
}
