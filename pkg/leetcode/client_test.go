package leetcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-collector/internal/resilience"
)

func newServer(t *testing.T, handler func(req request) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "https://leetcode.com/", r.Header.Get("Referer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGlobalRanking_Success(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(req request) (int, string) {
		assert.Contains(t, req.Query, "globalRanking")
		assert.EqualValues(t, 2, req.Variables["page"])
		return 200, `{"data":{"globalRanking":{"rankingNodes":[
			{"currentRating":"3703.51","currentGlobalRanking":1,"dataRegion":"US","user":{"username":"neal_wu","profile":{"userSlug":"neal_wu"}}},
			{"currentRating":3600,"currentGlobalRanking":2,"dataRegion":"CN","user":null},
			{"currentRating":null,"currentGlobalRanking":3,"dataRegion":null,"user":{"username":"lee215","profile":null}}
		]}}}`
	})

	client := NewClient(WithBaseURL(srv.URL))
	nodes, err := client.GlobalRanking(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, nodes, 3)
	require.NotNil(t, nodes[0].CurrentRating)
	assert.InDelta(t, 3703.51, float64(*nodes[0].CurrentRating), 0.001)
	assert.InDelta(t, 3600, float64(*nodes[1].CurrentRating), 0.001)
	assert.Nil(t, nodes[2].DataRegion)
	assert.Equal(t, []string{"neal_wu", "lee215"}, Usernames(nodes))
}

func TestGlobalRanking_EmptyPage(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(request) (int, string) {
		return 200, `{"data":{"globalRanking":{"rankingNodes":[]}}}`
	})

	nodes, err := NewClient(WithBaseURL(srv.URL)).GlobalRanking(context.Background(), 99999)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestGlobalRanking_RateLimited(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(request) (int, string) {
		return http.StatusTooManyRequests, `{"error":"slow down"}`
	})

	_, err := NewClient(WithBaseURL(srv.URL)).GlobalRanking(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 429, resilience.StatusCode(err))
}

func TestMatchedUser_Success(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(req request) (int, string) {
		assert.Equal(t, "lee215", req.Variables["username"])
		return 200, `{"data":{"matchedUser":{"username":"lee215",
			"profile":{"ranking":12,"reputation":null,"userAvatar":"https://a/x.png"},
			"submitStats":{"acSubmissionNum":[
				{"difficulty":"All","count":2900},{"difficulty":"Easy","count":800},
				{"difficulty":"Medium","count":1500},{"difficulty":"Hard","count":600}]}}}}`
	})

	user, err := NewClient(WithBaseURL(srv.URL)).MatchedUser(context.Background(), "lee215")

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "lee215", user.Username)
	require.NotNil(t, user.Profile.Ranking)
	assert.Equal(t, 12, *user.Profile.Ranking)
	assert.Nil(t, user.Profile.Reputation)
	require.Len(t, user.SubmitStats.AcSubmissionNum, 4)
	assert.Equal(t, 600, user.SubmitStats.AcSubmissionNum[3].Count)
}

func TestMatchedUser_NotFound(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(request) (int, string) {
		return 200, `{"errors":[{"message":"That user does not exist."}],"data":{"matchedUser":null}}`
	})

	user, err := NewClient(WithBaseURL(srv.URL)).MatchedUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestMatchedUser_ErrorsWithoutData(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(request) (int, string) {
		return 200, `{"errors":[{"message":"query too complex"}]}`
	})

	_, err := NewClient(WithBaseURL(srv.URL)).MatchedUser(context.Background(), "x")

	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "query too complex")
	assert.False(t, resilience.IsTransient(err))
}

func TestRating_UnmarshalInvalid(t *testing.T) {
	var r Rating
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &r))
	require.NoError(t, json.Unmarshal([]byte(`""`), &r))
	assert.Zero(t, r)
}
