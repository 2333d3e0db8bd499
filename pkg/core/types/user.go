package types

import "time"

// Gender is the self-reported gender tag of a user.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// UserContext is the snapshot of a user fetched once at session start.
// Memory is the only field rewritten afterwards, and only by memory
// consolidation.
type UserContext struct {
	Subject     string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	Gender      Gender    `json:"gender,omitempty" msgpack:"gender"`
	Preferences string    `json:"preferences,omitempty" msgpack:"preferences"`
	Memory      string    `json:"context,omitempty" msgpack:"context"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}

// Claims is the verified payload of a credential. It is never persisted.
type Claims struct {
	Subject   string
	Audience  []string
	ExpiresAt time.Time
}
