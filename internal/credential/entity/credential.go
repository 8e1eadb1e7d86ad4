package entity

import "time"

// Credential is the stored account state the bridge is booted from:
// the cloud account email, the last known bearer token, the cached
// primary user info and the profile ids selected for fetching. The
// api_password_hash column protects the bridge's own HTTP surface.
type Credential struct {
	ID                  int64
	Email               string
	Token               *string
	UserInfoRaw         []byte // JSONB
	SelectedProfilesRaw []byte // JSONB array of profile ids
	APIPasswordHash     *string
	UpdatedAt           time.Time
}
