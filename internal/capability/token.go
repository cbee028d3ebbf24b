// Package capability builds and verifies the HMAC tokens carried by
// capability URLs. A token proves the right to act on one request without a
// session: it binds the request id and the recipient e-mail to a key that
// only the legitimate holder knows (the request's input key, or the one-time
// unlock key delivered to the app).
package capability

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrBadEncoding is returned by Decode for values that are not base64.
var ErrBadEncoding = errors.New("capability: malformed token encoding")

// Mint returns HMAC-SHA1(key, "{id} {email}").
func Mint(requestID uint, email string, key []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(canonical(requestID, email)))
	return mac.Sum(nil)
}

// Verify recomputes the token and compares it in constant time.
// An empty key never verifies.
func Verify(requestID uint, email string, key, supplied []byte) bool {
	if len(key) == 0 || len(supplied) == 0 {
		return false
	}
	return hmac.Equal(Mint(requestID, email, key), supplied)
}

func canonical(requestID uint, email string) string {
	return strconv.FormatUint(uint64(requestID), 10) + " " + email
}

// Encode renders raw token or key bytes for a URL (base64url, no padding).
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode parses a value produced by Encode. Standard base64, padded or not,
// is accepted too so that older links and hand-built clients keep working.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrBadEncoding
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrBadEncoding
}

// InputURL builds {base}/request/{id}/input?m=<token keyed by inputKey>.
func InputURL(base string, requestID uint, email string, inputKey []byte) string {
	q := url.Values{}
	q.Set("m", Encode(Mint(requestID, email, inputKey)))
	return strings.TrimRight(base, "/") + "/request/" + strconv.FormatUint(uint64(requestID), 10) + "/input?" + q.Encode()
}

// UnlockURL builds {base}/unlock/{id}/unlock?k=<unlockKey>&m=<token keyed by unlockKey>.
func UnlockURL(base string, requestID uint, email string, unlockKey []byte) string {
	// k precedes m in published links; url.Values would sort them.
	return strings.TrimRight(base, "/") + "/unlock/" + strconv.FormatUint(uint64(requestID), 10) + "/unlock?" +
		"k=" + url.QueryEscape(Encode(unlockKey)) + "&" +
		"m=" + url.QueryEscape(Encode(Mint(requestID, email, unlockKey)))
}
