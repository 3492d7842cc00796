package domain

import "time"

// Account is a tracked Instagram business/creator account.
type Account struct {
	ID            string
	ExternalID    string // Instagram user id
	Username      string
	DisplayName   string
	Active        bool
	CredentialRef string // Graph API access token reference, opaque to the pipeline
	TokenValid    bool
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
}

// AccountSnapshot is an append-only reading of the account's profile counters.
type AccountSnapshot struct {
	ID             string
	AccountID      string
	FollowersCount int64
	FollowingCount int64
	MediaCount     int64
	RecordedAt     time.Time
}

// RawProfile is the profile payload returned by the source.
type RawProfile struct {
	ID             string
	Username       string
	Name           string
	FollowersCount int64
	FollowsCount   int64
	MediaCount     int64
}

// AccountInsight holds the account level insights of one UTC day. It is
// unique on (AccountID, Day); a later collection of the same day replaces it.
type AccountInsight struct {
	AccountID     string
	Day           time.Time
	Reach         int64
	FollowerCount int64
	RecordedAt    time.Time
}
