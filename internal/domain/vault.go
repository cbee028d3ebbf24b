// Package domain defines the persistence models for apps, secret requests,
// secrets and webhook deliveries. These types are mapped with GORM and form
// the core data layer of the vault.
package domain

import (
	"time"
)

// App is a registered client application allowed to request secrets.
//
// Fields:
//   - PublicKey: the API key the app authenticates with (unique).
//   - HashedSecret: bcrypt hash of the app's API secret.
//   - VaultSecret: shared secret used only to sign webhooks sent to the app.
//   - PingURL: optional webhook endpoint; nil disables notifications.
//
// Apps are immutable once registered.
type App struct {
	ID           uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	PublicKey    string    `json:"public_key" gorm:"column:app_key;type:varchar(32);not null;uniqueIndex"`
	HashedSecret string    `json:"-"          gorm:"type:text;not null"`
	VaultSecret  string    `json:"-"          gorm:"type:text;not null"`
	Name         string    `json:"name"       gorm:"type:varchar(100);not null"`
	PingURL      *string   `json:"ping_url,omitempty" gorm:"type:varchar(200)"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for App.
func (App) TableName() string { return "apps" }

// HasPingURL reports whether webhook notifications are configured.
func (a *App) HasPingURL() bool {
	return a != nil && a.PingURL != nil && *a.PingURL != ""
}

// Request is one app's request for a secret from a single recipient.
//
// InputKey authorizes the submission capability URL. It is set at creation
// and cleared in the same transaction that stores the Secret; State mirrors
// that lifecycle explicitly.
type Request struct {
	ID           uint         `json:"reqid"        gorm:"primaryKey;autoIncrement"`
	AppID        uint         `json:"app_id"       gorm:"not null;index"`
	Email        string       `json:"email"        gorm:"type:varchar(100);not null"`
	AppData      *string      `json:"app_data,omitempty"     gorm:"type:text"`
	Instructions *string      `json:"instructions,omitempty" gorm:"type:text"`
	InputKey     []byte       `json:"-"            gorm:"type:blob"`
	State        RequestState `json:"state"        gorm:"type:varchar(16);not null;index"`
	CreatedAt    time.Time    `json:"created_at"   gorm:"not null;index"`

	App App `json:"-" gorm:"foreignKey:AppID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// AwaitingInput reports whether the request can still accept a secret.
func (r *Request) AwaitingInput() bool {
	return r.State == StateAwaitingInput && len(r.InputKey) > 0
}

// Secret holds the encrypted answer to a Request (one per request).
//
// Ciphertext is IV || AES-CBC(plaintext) and MAC is HMAC-SHA1 over the
// ciphertext keyed by the unlock key. Both are erased on unlock; a Secret
// with nil Ciphertext is spent.
type Secret struct {
	RequestID  uint       `json:"reqid"      gorm:"primaryKey;autoIncrement:false"`
	Ciphertext []byte     `json:"-"          gorm:"type:blob"`
	MAC        []byte     `json:"-"          gorm:"type:blob"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null;index"`
	PingedAt   *time.Time `json:"pinged_at,omitempty"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`

	Request Request `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Secret.
func (Secret) TableName() string { return "secrets" }

// Spent reports whether the ciphertext has already been consumed.
func (s *Secret) Spent() bool { return len(s.Ciphertext) == 0 }

// Delivery is the audit trail of one webhook attempt.
type Delivery struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	AppID      uint      `json:"app_id"      gorm:"not null;index"`
	RequestID  uint      `json:"reqid"       gorm:"not null;index"`
	Subject    string    `json:"subject"     gorm:"type:varchar(32);not null"`
	URL        string    `json:"url"         gorm:"type:varchar(200);not null"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index"`
}

// TableName returns the database table name for Delivery.
func (Delivery) TableName() string { return "deliveries" }

// AuditEntry is one persisted audit log line.
type AuditEntry struct {
	ID        uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
	Level     string    `json:"level"      gorm:"type:varchar(8);not null"`
	Message   string    `json:"message"    gorm:"type:text;not null"`
	AppID     *uint     `json:"app_id,omitempty" gorm:"index"`
}

// TableName returns the database table name for AuditEntry.
func (AuditEntry) TableName() string { return "audit_log" }
