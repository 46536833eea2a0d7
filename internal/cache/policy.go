package cache

import "time"

// Entity classes with distinct staleness tolerances. Class names are the
// conventional key prefixes used by callers.
const (
	ClassSearch      = "search"
	ClassSession     = "session"
	ClassUserProfile = "user_profile"
	ClassAssignments = "assignments"
	ClassSchool      = "school"
)

// TTLPolicy holds the per-tier TTL for one entity class.
type TTLPolicy struct {
	Memory  time.Duration
	Session time.Duration
	Local   time.Duration
	Indexed time.Duration
}

// policies maps entity class to TTL policy. Short-lived data stays fresh;
// school records change rarely and tolerate a day of staleness in durable tiers.
var policies = map[string]TTLPolicy{
	ClassSearch:      {Memory: 5 * time.Minute, Session: 5 * time.Minute, Local: 5 * time.Minute, Indexed: 5 * time.Minute},
	ClassSession:     {Memory: 5 * time.Minute, Session: 5 * time.Minute, Local: 5 * time.Minute, Indexed: 5 * time.Minute},
	ClassUserProfile: {Memory: 30 * time.Minute, Session: 30 * time.Minute, Local: 30 * time.Minute, Indexed: 30 * time.Minute},
	ClassAssignments: {Memory: 30 * time.Minute, Session: 30 * time.Minute, Local: 30 * time.Minute, Indexed: 30 * time.Minute},
	ClassSchool:      {Memory: 2 * time.Hour, Session: 2 * time.Hour, Local: 24 * time.Hour, Indexed: 24 * time.Hour},
}

// defaultPolicy applies when a class is unknown.
var defaultPolicy = TTLPolicy{
	Memory:  5 * time.Minute,
	Session: 5 * time.Minute,
	Local:   30 * time.Minute,
	Indexed: 30 * time.Minute,
}

// PolicyFor returns the TTL policy for an entity class.
func PolicyFor(class string) TTLPolicy {
	if p, ok := policies[class]; ok {
		return p
	}
	return defaultPolicy
}

// TTL returns the TTL for a given tier.
func (p TTLPolicy) TTL(tier Tier) time.Duration {
	switch tier {
	case TierMemory:
		return p.Memory
	case TierSession:
		return p.Session
	case TierLocal:
		return p.Local
	case TierIndexed:
		return p.Indexed
	default:
		return p.Memory
	}
}
