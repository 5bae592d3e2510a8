package identity

import "time"

// Provider names accepted by the consolidation engine. Every login door
// normalizes its payload into one of these before it reaches the core.
const (
	ProviderGoogle   = "google"
	ProviderQaaqID   = "qaaqid"
	ProviderWhatsApp = "whatsapp"
	ProviderLegacy   = "legacy"
)

// User is the durable profile record. The goal is exactly one row per
// human; duplicate rows are a transient state produced by races or
// missing matching signals, reconciled later by the merge executor.
type User struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	Classification  string    `json:"classification,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Attributes are the profile facts a provider asserts about the person
// logging in. Facts only, no decisions; empty string means the provider
// did not supply the attribute.
type Attributes struct {
	Email           string
	Phone           string
	DisplayName     string
	ProfileImageURL string
	Classification  string
	Verified        bool
}

// Login is the normalized tuple every provider adapter hands to the
// consolidation engine: who the provider says this is, plus whatever
// profile facts came with the payload.
type Login struct {
	Provider   string
	ProviderID string
	Attributes Attributes
	Metadata   map[string]any // captured raw provider payload
}

// Identity is a (provider, provider_user_id) link row owned by exactly
// one user. The pair is globally unique; that database constraint is
// the only concurrency primitive consolidation relies on.
type Identity struct {
	ID         string
	UserID     string
	Provider   string
	ProviderID string
	IsPrimary  bool
	IsVerified bool
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DuplicateGroup is a set of users sharing one matching signal value
// (the same email or the same phone number), as reported by a
// duplicate scan. Users are ordered by created_at, then id.
type DuplicateGroup struct {
	Key   string `json:"key"`
	Users []User `json:"users"`
}
