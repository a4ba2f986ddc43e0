package server

import (
	"pledgeline/internal/domain"
)

type CreatePromiseRequest struct {
	Message    string `json:"message" maxLength:"200"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty" enum:"easy,medium,hard"`
	Deadline   string `json:"deadline" format:"date-time"`
}

type UpdatePromiseRequest struct {
	Message    *string `json:"message,omitempty" maxLength:"200"`
	Category   *string `json:"category,omitempty"`
	Difficulty *string `json:"difficulty,omitempty" enum:"easy,medium,hard"`
	Deadline   *string `json:"deadline,omitempty" format:"date-time"`
	Proof      *string `json:"proof,omitempty"`
}

type ResolvePromiseRequest struct {
	Status string `json:"status" enum:"completed,failed"`
	Proof  string `json:"proof,omitempty"`
}

type SetProgressRequest struct {
	Progress int `json:"progress" minimum:"0" maximum:"100"`
}

type RecordSessionRequest struct {
	SessionID string `json:"session_id"`
}

type PromiseResponse struct {
	ID                    string `json:"id"`
	Address               string `json:"address"`
	Message               string `json:"message"`
	Category              string `json:"category"`
	Difficulty            string `json:"difficulty"`
	Deadline              string `json:"deadline"`
	Status                string `json:"status"`
	Proof                 string `json:"proof,omitempty"`
	AdminAdjustedProgress *int   `json:"admin_adjusted_progress,omitempty"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at"`
}

type UserResponse struct {
	Address           string `json:"address"`
	Reputation        int    `json:"reputation"`
	CompletedPromises int    `json:"completed_promises"`
	FailedPromises    int    `json:"failed_promises"`
	TotalPromises     int    `json:"total_promises"`
	Streak            int    `json:"streak"`
	Level             int    `json:"level"`
	JoinedAt          string `json:"joined_at"`
	LastActive        string `json:"last_active"`
}

type DeleteRequestResponse struct {
	ID               string  `json:"id"`
	PromiseID        string  `json:"promise_id"`
	RequesterAddress string  `json:"requester_address"`
	Status           string  `json:"status"`
	RequestedAt      string  `json:"requested_at"`
	ProcessedBy      *string `json:"processed_by,omitempty"`
	ProcessedAt      *string `json:"processed_at,omitempty"`
}

type SessionResponse struct {
	SessionID  string `json:"session_id"`
	IP         string `json:"ip"`
	FirstVisit string `json:"first_visit"`
	LastActive string `json:"last_active"`
}

type GlobalStatsResponse struct {
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

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload_json"`
}

type paginatedPromises struct {
	Items      []PromiseResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func promiseResponse(p domain.Promise) PromiseResponse {
	return PromiseResponse{
		ID:                    p.ID,
		Address:               p.Address,
		Message:               p.Message,
		Category:              p.Category,
		Difficulty:            p.Difficulty,
		Deadline:              p.Deadline,
		Status:                p.Status,
		Proof:                 p.Proof,
		AdminAdjustedProgress: p.AdminAdjustedProgress,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func mapPromises(items []domain.Promise) []PromiseResponse {
	res := make([]PromiseResponse, 0, len(items))
	for _, p := range items {
		res = append(res, promiseResponse(p))
	}
	return res
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		Address:           u.Address,
		Reputation:        u.Reputation,
		CompletedPromises: u.CompletedPromises,
		FailedPromises:    u.FailedPromises,
		TotalPromises:     u.TotalPromises,
		Streak:            u.Streak,
		Level:             u.Level,
		JoinedAt:          u.JoinedAt,
		LastActive:        u.LastActive,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func deleteRequestResponse(dr domain.DeleteRequest) DeleteRequestResponse {
	return DeleteRequestResponse{
		ID:               dr.ID,
		PromiseID:        dr.PromiseID,
		RequesterAddress: dr.RequesterAddress,
		Status:           dr.Status,
		RequestedAt:      dr.RequestedAt,
		ProcessedBy:      dr.ProcessedBy,
		ProcessedAt:      dr.ProcessedAt,
	}
}

func mapDeleteRequests(items []domain.DeleteRequest) []DeleteRequestResponse {
	res := make([]DeleteRequestResponse, 0, len(items))
	for _, dr := range items {
		res = append(res, deleteRequestResponse(dr))
	}
	return res
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		SessionID:  s.SessionID,
		IP:         s.IP,
		FirstVisit: s.FirstVisit,
		LastActive: s.LastActive,
	}
}

func statsResponse(gs domain.GlobalStats) GlobalStatsResponse {
	return GlobalStatsResponse{
		TotalUsers:        gs.TotalUsers,
		TotalPromises:     gs.TotalPromises,
		ActivePromises:    gs.ActivePromises,
		CompletedPromises: gs.CompletedPromises,
		FailedPromises:    gs.FailedPromises,
		CompletionRate:    gs.CompletionRate,
		AverageReputation: gs.AverageReputation,
		TopPerformer:      gs.TopPerformer,
		HighestStreak:     gs.HighestStreak,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Payload:    e.Payload,
	}
}
