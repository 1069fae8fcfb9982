package stackexchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-collector/internal/resilience"
)

func TestUsers_SendsQueryAndDecodes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "stackoverflow", q.Get("site"))
		assert.Equal(t, "reputation", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("order"))
		assert.Equal(t, "3", q.Get("page"))
		assert.Equal(t, "100", q.Get("pagesize"))
		assert.Equal(t, "5000", q.Get("min"))
		assert.Equal(t, "secret", q.Get("key"))

		_, _ = w.Write([]byte(`{"items":[
			{"user_id":22656,"account_id":11683,"display_name":"Jon Skeet","reputation":1500000,
			 "badge_counts":{"gold":900,"silver":9000,"bronze":9500},
			 "location":"Reading, United Kingdom","website_url":"https://codeblog.jonskeet.uk",
			 "link":"https://stackoverflow.com/users/22656/jon-skeet"},
			{"user_id":1,"display_name":"x","reputation":6000}
		],"has_more":true,"quota_max":10000,"quota_remaining":9990,"backoff":10}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithKey("secret"))
	page, err := client.Users(context.Background(), UsersQuery{Page: 3, PageSize: 100, MinReputation: 5000})

	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 9990, page.QuotaRemaining)
	assert.Equal(t, 10*time.Second, page.BackoffDuration())

	skeet := page.Items[0]
	assert.Equal(t, int64(22656), skeet.UserID)
	require.NotNil(t, skeet.AccountID)
	assert.Equal(t, int64(11683), *skeet.AccountID)
	assert.Equal(t, 900, skeet.BadgeCounts.Gold)
	assert.Nil(t, page.Items[1].AccountID)
	assert.Nil(t, page.Items[1].BadgeCounts)
	assert.Nil(t, page.Items[1].Location)
}

func TestUserQuestionsAndAnswers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "creation", q.Get("sort"))
		assert.Equal(t, "5", q.Get("pagesize"))
		assert.Empty(t, q.Get("key"))
		switch r.URL.Path {
		case "/users/42/questions":
			_, _ = w.Write([]byte(`{"items":[{"question_id":1,"view_count":100},{"question_id":2,"view_count":23}]}`))
		case "/users/42/answers":
			_, _ = w.Write([]byte(`{"items":[{"answer_id":9,"question_id":1,"is_accepted":true}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	qs, err := client.UserQuestions(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Len(t, qs.Items, 2)
	assert.Equal(t, 23, qs.Items[1].ViewCount)
	assert.Zero(t, qs.BackoffDuration())

	as, err := client.UserAnswers(context.Background(), 42, 5)
	require.NoError(t, err)
	require.Len(t, as.Items, 1)
	assert.True(t, as.Items[0].IsAccepted)
}

func TestThrottleViolationIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_id":502,"error_message":"too many requests from this IP, more requests available in 7 seconds","error_name":"throttle_violation"}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Users(context.Background(), UsersQuery{Page: 1})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 7*time.Second, resilience.RetryAfter(err))
	assert.Equal(t, http.StatusTooManyRequests, resilience.StatusCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "throttle_violation", apiErr.ErrorName)
}

func TestNoSuchUserIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_id":400,"error_message":"ids","error_name":"bad_parameter"}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).UserAnswers(context.Background(), 0, 5)

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.ErrorID)
}

func TestRateLimited429KeepsRetryAfter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "20")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Users(context.Background(), UsersQuery{Page: 1})

	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 20*time.Second, resilience.RetryAfter(err))
}
