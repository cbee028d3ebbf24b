package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
)

// SubjectSubmission is the subject of the ping sent once a secret has been
// submitted for one of the app's requests.
const SubjectSubmission = "submission"

// SubmissionPayload is the JSON body (form field p) of a submission ping.
// UnlockKey is the only copy of the key that can decrypt the secret.
type SubmissionPayload struct {
	ReqID     uint    `json:"reqid"`
	UnlockKey string  `json:"unlock_key"`
	AppData   *string `json:"app_data"`
	UnlockURL string  `json:"unlock_url"`
}

// Sign returns HMAC-SHA1(vaultSecret, subject + " " + payload).
func Sign(vaultSecret, subject, payload string) []byte {
	m := hmac.New(sha1.New, []byte(vaultSecret))
	m.Write([]byte(subject + " " + payload))
	return m.Sum(nil)
}

// EncodeMAC renders a signature as sent in form field m.
func EncodeMAC(mac []byte) string {
	return base64.StdEncoding.EncodeToString(mac)
}

// Verify checks a received ping. It is the receiving app's half of the
// protocol: mac is the value of form field m.
func Verify(vaultSecret, subject, payload, mac string) bool {
	got, err := base64.StdEncoding.DecodeString(mac)
	if err != nil || len(got) == 0 || vaultSecret == "" {
		return false
	}
	return hmac.Equal(Sign(vaultSecret, subject, payload), got)
}

// DecodeSubmission parses form field p of a submission ping.
func DecodeSubmission(payload string) (*SubmissionPayload, error) {
	var p SubmissionPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
