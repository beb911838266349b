package model

type SessionType string

const (
	SessionTypeBot    SessionType = "bot"
	SessionTypeWebApp SessionType = "webapp"
	SessionTypeHybrid SessionType = "hybrid"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeBot, SessionTypeWebApp, SessionTypeHybrid:
		return true
	}
	return false
}

// AuthMethod records which channel a user last authenticated through.
type AuthMethod string

const (
	AuthMethodBot    AuthMethod = "bot"
	AuthMethodWebApp AuthMethod = "webapp"
)

type SubscriptionType string

const (
	SubscriptionFree SubscriptionType = "free"
	SubscriptionPro  SubscriptionType = "pro"
)
