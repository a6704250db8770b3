package sign

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/perchlabs/roost/pkg/types"
)

// Family selects the per-endpoint signing convention
type Family int

const (
	// FamilyV2 signs only the OAuth parameters (the /2/ endpoints)
	FamilyV2 Family = iota
	// FamilyV11 folds query parameters and JSON body fields into the
	// signature base string (the /1.1/ endpoints)
	FamilyV11
	// FamilyMedia signs like FamilyV2 (chunked media upload)
	FamilyMedia
)

const (
	signatureMethod = "HMAC-SHA1"
	oauthVersion    = "1.0"
	nonceLength     = 32
	nonceAlphabet   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Request describes one upstream call to be signed. Nonce and Timestamp are
// filled in when zero; tests pin them for reproducible signatures.
type Request struct {
	Method    string
	URL       string // Endpoint URL without query string
	Query     url.Values
	Body      map[string]interface{}
	Family    Family
	Nonce     string
	Timestamp int64
}

// Authorization builds the OAuth authorization header for req
func Authorization(creds *types.Credentials, req Request) (string, error) {
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" ||
		creds.AccessToken == "" || creds.AccessSecret == "" {
		return "", fmt.Errorf("incomplete oauth credentials")
	}

	nonce := req.Nonce
	if nonce == "" {
		var err error
		nonce, err = Nonce()
		if err != nil {
			return "", err
		}
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	oauth := map[string]string{
		"oauth_consumer_key":     creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        fmt.Sprintf("%d", ts),
		"oauth_token":            creds.AccessToken,
		"oauth_version":          oauthVersion,
	}

	// Parameters participating in the signature
	signed := make(map[string]string, len(oauth))
	for k, v := range oauth {
		signed[k] = v
	}
	if req.Family == FamilyV11 {
		for k, vs := range req.Query {
			if len(vs) > 0 {
				signed[k] = vs[0]
			}
		}
		for k, v := range flatten(req.Body) {
			signed[k] = v
		}
	}

	base := baseString(req.Method, req.URL, signed)
	key := percentEncode(creds.ConsumerSecret) + "&" + percentEncode(creds.AccessSecret)
	oauth["oauth_signature"] = signHMACSHA1(base, key)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(percentEncode(k))
		b.WriteString(`="`)
		b.WriteString(percentEncode(oauth[k]))
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// CookieHeaders returns the header set for site-origin endpoints that
// authenticate with the session cookie pair instead of a per-request signature
func CookieHeaders(creds *types.Credentials) map[string]string {
	return map[string]string{
		"authorization": "Bearer " + creds.Bearer,
		"x-csrf-token":  creds.CSRFToken,
		"cookie":        fmt.Sprintf("auth_token=%s; ct0=%s", creds.AuthToken, creds.CSRFToken),
	}
}

// Nonce returns a fresh 32-character alphanumeric nonce
func Nonce() (string, error) {
	buf := make([]byte, nonceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(buf), nil
}

// baseString assembles METHOD&enc(url)&enc(sorted-param-string)
func baseString(method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(rawURL) + "&" +
		percentEncode(strings.Join(pairs, "&"))
}

func signHMACSHA1(base, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// flatten stringifies body fields, descending one level into nested objects
// with dotted keys
func flatten(body map[string]interface{}) map[string]string {
	out := make(map[string]string, len(body))
	for k, v := range body {
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range nested {
				out[k+"."+nk] = stringify(nv)
			}
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// percentEncode implements the RFC 3986 unreserved-set encoding OAuth requires
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}
