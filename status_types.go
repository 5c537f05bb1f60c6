package main

// ApprovalState mirrors the state column of the statements table.
type ApprovalState int

const (
	// StateAny matches statements in every approval state.
	StateAny         ApprovalState = -1
	StateUnapproved  ApprovalState = 0
	StateApproved    ApprovalState = 1
	StateWrong       ApprovalState = 2
	StateDuplicate   ApprovalState = 3
	StateBlacklisted ApprovalState = 4
)

func (s ApprovalState) String() string {
	switch s {
	case StateAny:
		return "any"
	case StateUnapproved:
		return "unapproved"
	case StateApproved:
		return "approved"
	case StateWrong:
		return "wrong"
	case StateDuplicate:
		return "duplicate"
	case StateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// Endpoint identifies an API operation whose requests are counted.
type Endpoint int

const (
	EndpointGetEntity Endpoint = iota
	EndpointGetRandom
	EndpointGetStatement
	EndpointUpdateStatement
	EndpointGetStatus
)

// topUsersLimit bounds the leaderboard carried in every snapshot.
const topUsersLimit = 10

type SystemStatus struct {
	Startup         string `json:"startup"`
	Version         string `json:"version"`
	CacheHits       uint64 `json:"cache_hits"`
	CacheMisses     uint64 `json:"cache_misses"`
	SharedMemory    uint64 `json:"shared_memory"`
	PrivateMemory   uint64 `json:"private_memory"`
	ResidentSetSize uint64 `json:"resident_set_size"`
}

type RequestCounters struct {
	GetEntity       uint64 `json:"get_entity"`
	GetRandom       uint64 `json:"get_random"`
	GetStatement    uint64 `json:"get_statement"`
	UpdateStatement uint64 `json:"update_statement"`
	GetStatus       uint64 `json:"get_status"`
}

type StatementCounts struct {
	Total       int64 `json:"statements"`
	Approved    int64 `json:"approved"`
	Unapproved  int64 `json:"unapproved"`
	Duplicate   int64 `json:"duplicate"`
	Blacklisted int64 `json:"blacklisted"`
	Wrong       int64 `json:"wrong"`
}

// UserStatus is one leaderboard entry.
type UserStatus struct {
	Name       string `json:"name"`
	Activities int64  `json:"activities"`
}

// MemoryUsage is reported in bytes.
type MemoryUsage struct {
	Shared   uint64
	Private  uint64
	Resident uint64
}

// StatusSnapshot is the aggregate view handed out by StatusCache.GetStatus.
// Every returned value is a private copy; callers may keep or mutate it.
type StatusSnapshot struct {
	System     SystemStatus    `json:"system"`
	Requests   RequestCounters `json:"requests"`
	Statements StatementCounts `json:"statements"`
	TotalUsers int64           `json:"total_users"`
	TopUsers   []UserStatus    `json:"top_users"`
	Dataset    string          `json:"dataset,omitempty"`
	Dirty      bool            `json:"dirty"`
}

func (s StatusSnapshot) clone() StatusSnapshot {
	out := s
	if s.TopUsers != nil {
		out.TopUsers = append([]UserStatus(nil), s.TopUsers...)
	}
	return out
}

// statusAggregates is the expensive part of a snapshot, computed by one
// refresh attempt and published as a unit.
type statusAggregates struct {
	Statements StatementCounts
	TotalUsers int64
	TopUsers   []UserStatus
}
