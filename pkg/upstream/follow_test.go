package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perchlabs/roost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream serves the screen-name lookup and the follow endpoint with a
// configurable follow response
type fakeUpstream struct {
	*httptest.Server
	lookupStatus int
	lookupBody   string
	followStatus int
	followBody   string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		lookupStatus: http.StatusOK,
		lookupBody:   `{"data":{"user":{"result":{"rest_id":"4242"}}}}`,
		followStatus: http.StatusOK,
		followBody:   `{"data":{"following":true,"pending_follow":false}}`,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/UserByScreenName"):
			w.WriteHeader(f.lookupStatus)
			fmt.Fprint(w, f.lookupBody)
		case strings.HasSuffix(r.URL.Path, "/following"):
			w.WriteHeader(f.followStatus)
			fmt.Fprint(w, f.followBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Server.Close)
	return f
}

func TestResolveUserID(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestClient(t, f.URL)

	id, err := c.ResolveUserID(context.Background(), "somebody")
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
}

func TestResolveUserIDUnknownHandle(t *testing.T) {
	f := newFakeUpstream(t)
	f.lookupBody = `{"data":{}}`
	c := newTestClient(t, f.URL)

	_, err := c.ResolveUserID(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestFollowSuccess(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestClient(t, f.URL)

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeOK, outcome.Kind)
	assert.True(t, outcome.OK())
}

func TestFollowOutcomeClassification(t *testing.T) {
	tests := []struct {
		name       string
		followBody string
		want       types.OutcomeKind
	}{
		{
			name:       "rate limited code",
			followBody: `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`,
			want:       types.OutcomeRateLimited,
		},
		{
			name:       "target not found",
			followBody: `{"errors":[{"code":50,"message":"User not found"}]}`,
			want:       types.OutcomeNotFound,
		},
		{
			name:       "target suspended",
			followBody: `{"errors":[{"code":63,"message":"User has been suspended"}]}`,
			want:       types.OutcomeSuspended,
		},
		{
			name:       "bad credentials code",
			followBody: `{"errors":[{"code":215,"message":"Bad authentication data"}]}`,
			want:       types.OutcomeUnauthorized,
		},
		{
			name:       "unrecognized structured error",
			followBody: `{"errors":[{"code":131,"message":"Internal error"}]}`,
			want:       types.OutcomeAPIError,
		},
		{
			name:       "no errors but not following",
			followBody: `{"data":{"following":false}}`,
			want:       types.OutcomeAPIError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeUpstream(t)
			f.followBody = tt.followBody
			c := newTestClient(t, f.URL)

			outcome := c.Follow(context.Background(), "somebody")
			assert.Equal(t, tt.want, outcome.Kind)
			assert.False(t, outcome.OK())
		})
	}
}

func TestFollowAuthFailure(t *testing.T) {
	f := newFakeUpstream(t)
	f.followStatus = http.StatusForbidden
	c := newTestClient(t, f.URL)

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeUnauthorized, outcome.Kind)
}

func TestFollowRateLimitedTransport(t *testing.T) {
	f := newFakeUpstream(t)
	f.followStatus = http.StatusTooManyRequests
	f.followBody = ``
	c := newTestClient(t, f.URL)

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeRateLimited, outcome.Kind)
}

func TestFollowLookupFailureIsTransport(t *testing.T) {
	f := newFakeUpstream(t)
	f.lookupBody = `not json`
	c := newTestClient(t, f.URL)

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeTransportError, outcome.Kind)
}

func TestFollowLookupStructuredError(t *testing.T) {
	f := newFakeUpstream(t)
	f.lookupBody = `{"errors":[{"code":63,"message":"User has been suspended"}]}`
	c := newTestClient(t, f.URL)

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeSuspended, outcome.Kind)
}

func TestFollowRejectsTokenWithoutUserID(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestClient(t, f.URL)
	c.creds.AccessToken = "tokenwithoutdash"

	outcome := c.Follow(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeUnauthorized, outcome.Kind)
}

func TestFollowDuration(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestClient(t, f.URL)

	outcome, elapsed := c.FollowDuration(context.Background(), "somebody")
	assert.Equal(t, types.OutcomeOK, outcome.Kind)
	assert.Greater(t, elapsed.Nanoseconds(), int64(0))
}

func TestDigAndFirstError(t *testing.T) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{"rest_id": "7"},
		},
	}
	assert.Equal(t, "7", dig(payload, "data", "user", "rest_id"))
	assert.Nil(t, dig(payload, "data", "missing", "rest_id"))

	_, _, ok := firstError(payload)
	assert.False(t, ok)

	code, msg, ok := firstError(map[string]interface{}{
		"errors": []interface{}{
			map[string]interface{}{"code": float64(88), "message": "slow down"},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, 88, code)
	assert.Equal(t, "slow down", msg)
}
