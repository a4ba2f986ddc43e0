package domain

// Promise lifecycle statuses. A promise starts active and resolves exactly
// once to completed or failed.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// DeleteRequest statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

type Promise struct {
	ID                    string `json:"id"`
	Address               string `json:"address"`
	Message               string `json:"message"`
	Category              string `json:"category"`
	Difficulty            string `json:"difficulty" enum:"easy,medium,hard"`
	Deadline              string `json:"deadline" format:"date-time"`
	Status                string `json:"status" enum:"active,completed,failed"`
	Proof                 string `json:"proof,omitempty"`
	AdminAdjustedProgress *int   `json:"admin_adjusted_progress,omitempty"`
	CreatedAt             string `json:"created_at" format:"date-time"`
	UpdatedAt             string `json:"updated_at" format:"date-time"`
}

type User struct {
	Address           string `json:"address"`
	Reputation        int    `json:"reputation"`
	CompletedPromises int    `json:"completed_promises"`
	FailedPromises    int    `json:"failed_promises"`
	TotalPromises     int    `json:"total_promises"`
	Streak            int    `json:"streak"`
	Level             int    `json:"level"`
	JoinedAt          string `json:"joined_at" format:"date-time"`
	LastActive        string `json:"last_active" format:"date-time"`
}

type DeleteRequest struct {
	ID               string  `json:"id"`
	PromiseID        string  `json:"promise_id"`
	RequesterAddress string  `json:"requester_address"`
	Status           string  `json:"status" enum:"pending,approved,rejected"`
	RequestedAt      string  `json:"requested_at" format:"date-time"`
	ProcessedBy      *string `json:"processed_by,omitempty"`
	ProcessedAt      *string `json:"processed_at,omitempty" format:"date-time"`
}

type Session struct {
	SessionID  string `json:"session_id"`
	IP         string `json:"ip"`
	FirstVisit string `json:"first_visit" format:"date-time"`
	LastActive string `json:"last_active" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload_json"`
}

// GlobalStats aggregates registry-wide counters for the stats surface.
type GlobalStats struct {
	TotalUsers        int     `json:"total_users"`
	TotalPromises     int     `json:"total_promises"`
	ActivePromises    int     `json:"active_promises"`
	CompletedPromises int     `json:"completed_promises"`
	FailedPromises    int     `json:"failed_promises"`
	CompletionRate    float64 `json:"completion_rate"`
	AverageReputation float64 `json:"average_reputation"`
	TopPerformer      string  `json:"top_performer,omitempty"`
	HighestStreak     int     `json:"highest_streak"`
}
