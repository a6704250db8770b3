package sign

import (
	"net/url"
	"strings"
	"testing"

	"github.com/perchlabs/roost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() *types.Credentials {
	return &types.Credentials{
		AuthToken:      "session-auth",
		CSRFToken:      "csrf-token",
		Bearer:         "public-bearer",
		ConsumerKey:    "ck-test",
		ConsumerSecret: "cs-test",
		AccessToken:    "1001-tok",
		AccessSecret:   "as-test",
	}
}

// Known-input signatures, computed independently of this implementation
func TestAuthorizationKnownVectors(t *testing.T) {
	creds := testCreds()

	tests := []struct {
		name    string
		req     Request
		wantSig string
	}{
		{
			name: "v2 follow, oauth params only",
			req: Request{
				Method:    "POST",
				URL:       "https://api.example.com/2/users/1001/following",
				Family:    FamilyV2,
				Nonce:     "abcdefghijklmnopqrstuvwxyzABCDEF",
				Timestamp: 1700000000,
			},
			wantSig: "JBOLs1EXuLI5HMbTmybZsoP%2B%2FsA%3D",
		},
		{
			name: "v1.1 with query and flattened body",
			req: Request{
				Method: "POST",
				URL:    "https://api.example.com/1.1/account/update_profile.json",
				Query:  url.Values{"include_entities": {"true"}},
				Body: map[string]interface{}{
					"name":     "Roost Bird",
					"count":    5,
					"location": map[string]interface{}{"city": "Berlin"},
				},
				Family:    FamilyV11,
				Nonce:     "abcdefghijklmnopqrstuvwxyzABCDEF",
				Timestamp: 1700000000,
			},
			wantSig: "boHYmbWfw7SA44FYpL%2BX9JAY1Bc%3D",
		},
		{
			name: "media upload signs like v2, body ignored",
			req: Request{
				Method:    "POST",
				URL:       "https://api.example.com/2/users/1001/following",
				Body:      map[string]interface{}{"ignored": "yes"},
				Family:    FamilyMedia,
				Nonce:     "abcdefghijklmnopqrstuvwxyzABCDEF",
				Timestamp: 1700000000,
			},
			wantSig: "JBOLs1EXuLI5HMbTmybZsoP%2B%2FsA%3D",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := Authorization(creds, tt.req)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(header, "OAuth "))
			assert.Contains(t, header, `oauth_signature="`+tt.wantSig+`"`)
			assert.Contains(t, header, `oauth_signature_method="HMAC-SHA1"`)
			assert.Contains(t, header, `oauth_version="1.0"`)
		})
	}
}

func TestAuthorizationHeaderIsSortedByKey(t *testing.T) {
	header, err := Authorization(testCreds(), Request{
		Method:    "POST",
		URL:       "https://api.example.com/2/users/1001/following",
		Family:    FamilyV2,
		Nonce:     "abcdefghijklmnopqrstuvwxyzABCDEF",
		Timestamp: 1700000000,
	})
	require.NoError(t, err)

	want := `OAuth oauth_consumer_key="ck-test", ` +
		`oauth_nonce="abcdefghijklmnopqrstuvwxyzABCDEF", ` +
		`oauth_signature="JBOLs1EXuLI5HMbTmybZsoP%2B%2FsA%3D", ` +
		`oauth_signature_method="HMAC-SHA1", ` +
		`oauth_timestamp="1700000000", ` +
		`oauth_token="1001-tok", ` +
		`oauth_version="1.0"`
	assert.Equal(t, want, header)
}

func TestAuthorizationGeneratesNonceAndTimestamp(t *testing.T) {
	first, err := Authorization(testCreds(), Request{
		Method: "POST",
		URL:    "https://api.example.com/2/users/1001/following",
		Family: FamilyV2,
	})
	require.NoError(t, err)

	second, err := Authorization(testCreds(), Request{
		Method: "POST",
		URL:    "https://api.example.com/2/users/1001/following",
		Family: FamilyV2,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "fresh nonce per request")
}

func TestAuthorizationRejectsIncompleteCredentials(t *testing.T) {
	creds := testCreds()
	creds.AccessSecret = ""

	_, err := Authorization(creds, Request{
		Method: "POST",
		URL:    "https://api.example.com/2/users/1001/following",
		Family: FamilyV2,
	})
	assert.Error(t, err)
}

func TestNonceFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		n, err := Nonce()
		require.NoError(t, err)
		assert.Len(t, n, 32)
		for _, c := range n {
			assert.Contains(t, nonceAlphabet, string(c))
		}
		assert.False(t, seen[n], "nonce repeated")
		seen[n] = true
	}
}

func TestCookieHeaders(t *testing.T) {
	headers := CookieHeaders(testCreds())

	assert.Equal(t, "Bearer public-bearer", headers["authorization"])
	assert.Equal(t, "csrf-token", headers["x-csrf-token"])
	assert.Equal(t, "auth_token=session-auth; ct0=csrf-token", headers["cookie"])
}

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain-text_0.9~", "plain-text_0.9~"},
		{"a b", "a%20b"},
		{"key=value&x", "key%3Dvalue%26x"},
		{"100%", "100%25"},
		{"ünïcode", "%C3%BCn%C3%AFcode"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percentEncode(tt.in), tt.in)
	}
}
