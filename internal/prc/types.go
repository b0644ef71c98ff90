package prc

import (
	"strings"
	"time"
)

// ServerStatus is the upstream server snapshot.
type ServerStatus struct {
	Name           string  `json:"Name"`
	OwnerID        int64   `json:"OwnerId"`
	CoOwnerIDs     []int64 `json:"CoOwnerIds"`
	CurrentPlayers int     `json:"CurrentPlayers"`
	MaxPlayers     int     `json:"MaxPlayers"`
	JoinKey        string  `json:"JoinKey"`
	AccVerifiedReq string  `json:"AccVerifiedReq"`
	TeamBalance    bool    `json:"TeamBalance"`
}

// Player is an entry of the online roster.
type Player struct {
	Player     string `json:"Player"`
	Permission string `json:"Permission"`
	Callsign   string `json:"Callsign,omitempty"`
	Team       string `json:"Team"`
}

// Identity splits the "Name:Id" player string.
func (p Player) Identity() Identity {
	return ParseIdentity(p.Player)
}

// JoinLog is a join or leave event.
type JoinLog struct {
	Join      bool   `json:"Join"`
	Timestamp int64  `json:"Timestamp"`
	Player    string `json:"Player"`
}

// KillLog is a kill event.
type KillLog struct {
	Killed    string `json:"Killed"`
	Timestamp int64  `json:"Timestamp"`
	Killer    string `json:"Killer"`
}

// CommandLog is an in-game command invocation.
type CommandLog struct {
	Player    string `json:"Player"`
	Timestamp int64  `json:"Timestamp"`
	Command   string `json:"Command"`
}

// Time converts an upstream unix-seconds timestamp.
func Time(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// Identity is a parsed player reference.
type Identity struct {
	Name string
	ID   string
}

// ParseIdentity splits "Name:Id". A string without a colon is a bare name.
// The id is taken after the last colon so names containing colons survive.
func ParseIdentity(s string) Identity {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Identity{Name: s}
	}
	return Identity{Name: s[:i], ID: s[i+1:]}
}
