package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/perchlabs/roost/pkg/sign"
	"github.com/perchlabs/roost/pkg/types"
)

// GraphQL query id for the screen-name lookup endpoint
const userByScreenNameQuery = "sLVLhk0bGj3MVFEKTdax1w"

// Upstream structured error codes
const (
	codeRateLimited  = 88
	codeNotFound     = 50
	codeSuspended    = 63
	codeBadCredsAuth = 215
)

// ResolveUserID looks up the numeric user id for a handle via the
// cookie-authenticated GraphQL endpoint
func (c *Client) ResolveUserID(ctx context.Context, handle string) (string, error) {
	variables := fmt.Sprintf(`{"screen_name":%q}`, handle)
	path := fmt.Sprintf("/i/api/graphql/%s/UserByScreenName?variables=%s",
		userByScreenNameQuery, url.QueryEscape(variables))

	resp, err := c.Do(ctx, "GET", path, sign.CookieHeaders(c.creds), nil)
	if err != nil {
		return "", err
	}
	if resp.JSON == nil {
		return "", fmt.Errorf("user lookup returned no payload (HTTP %d)", resp.Status)
	}
	if code, msg, ok := firstError(resp.JSON); ok {
		return "", &apiError{Code: code, Message: msg}
	}

	id := dig(resp.JSON, "data", "user", "result", "rest_id")
	restID, _ := id.(string)
	if restID == "" {
		return "", fmt.Errorf("user %s not resolvable", handle)
	}
	return restID, nil
}

// Follow performs one follow action against targetHandle and returns a typed
// outcome; it never returns an error, every failure mode maps to a kind
func (c *Client) Follow(ctx context.Context, targetHandle string) types.FollowOutcome {
	targetID, err := c.ResolveUserID(ctx, targetHandle)
	if err != nil {
		return classifyErr(err)
	}

	selfID := c.creds.SelfID()
	if selfID == "" {
		return types.FollowOutcome{Kind: types.OutcomeUnauthorized, Message: "access token carries no user id"}
	}

	path := fmt.Sprintf("/2/users/%s/following", selfID)
	auth, err := sign.Authorization(c.creds, sign.Request{
		Method: "POST",
		URL:    c.baseURL + path,
		Family: sign.FamilyV2,
	})
	if err != nil {
		return types.FollowOutcome{Kind: types.OutcomeUnauthorized, Message: err.Error()}
	}

	body := []byte(fmt.Sprintf(`{"target_user_id":%q}`, targetID))
	resp, err := c.Do(ctx, "POST", path, map[string]string{"authorization": auth}, body)
	if err != nil {
		return classifyErr(err)
	}

	return classifyFollowResponse(resp)
}

// FollowDuration wraps Follow and reports elapsed wall time for the meta blob
func (c *Client) FollowDuration(ctx context.Context, targetHandle string) (types.FollowOutcome, time.Duration) {
	start := time.Now()
	outcome := c.Follow(ctx, targetHandle)
	return outcome, time.Since(start)
}

type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

func classifyErr(err error) types.FollowOutcome {
	switch {
	case IsAuthError(err):
		return types.FollowOutcome{Kind: types.OutcomeUnauthorized, Message: err.Error()}
	case IsRateLimitError(err):
		return types.FollowOutcome{Kind: types.OutcomeRateLimited, Message: err.Error()}
	}
	if ae, ok := err.(*apiError); ok {
		return classifyCode(ae.Code, ae.Message)
	}
	return types.FollowOutcome{Kind: types.OutcomeTransportError, Message: err.Error()}
}

func classifyFollowResponse(resp *Response) types.FollowOutcome {
	if resp.JSON != nil {
		if following, ok := dig(resp.JSON, "data", "following").(bool); ok && following {
			return types.FollowOutcome{Kind: types.OutcomeOK}
		}
		if code, msg, ok := firstError(resp.JSON); ok {
			return classifyCode(code, msg)
		}
	}
	return types.FollowOutcome{
		Kind:    types.OutcomeAPIError,
		Message: fmt.Sprintf("unexpected response (HTTP %d)", resp.Status),
	}
}

func classifyCode(code int, msg string) types.FollowOutcome {
	switch code {
	case codeRateLimited:
		return types.FollowOutcome{Kind: types.OutcomeRateLimited, Message: msg}
	case codeNotFound:
		return types.FollowOutcome{Kind: types.OutcomeNotFound, Message: msg}
	case codeSuspended:
		return types.FollowOutcome{Kind: types.OutcomeSuspended, Message: msg}
	case codeBadCredsAuth:
		return types.FollowOutcome{Kind: types.OutcomeUnauthorized, Message: msg}
	default:
		return types.FollowOutcome{Kind: types.OutcomeAPIError, Message: msg}
	}
}

// firstError extracts the first structured error from an upstream payload
func firstError(payload map[string]interface{}) (int, string, bool) {
	errs, ok := payload["errors"].([]interface{})
	if !ok || len(errs) == 0 {
		return 0, "", false
	}
	entry, ok := errs[0].(map[string]interface{})
	if !ok {
		return 0, "", false
	}
	code := 0
	if f, ok := entry["code"].(float64); ok {
		code = int(f)
	}
	msg, _ := entry["message"].(string)
	return code, msg, true
}

// dig walks nested JSON objects by key
func dig(payload map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = payload
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}
