package domain

import "time"

// Guild is the read-side view of a tracked guild. The guild table itself is
// owned by the guild update collaborator; the scheduler only reads it to
// decide what to enqueue.
type Guild struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Realm        string       `json:"realm"`
	ActivityTier ActivityTier `json:"activity_tier"`
	WorldRank    *int         `json:"world_rank,omitempty"`
	CrestURL     *string      `json:"crest_url,omitempty"`
	LastRaidAt   *time.Time   `json:"last_raid_at,omitempty"`
}
