package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pledgeline/internal/bus"
	"pledgeline/internal/config"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine/fault"
	"pledgeline/internal/events"
	"pledgeline/internal/repo"
	"pledgeline/internal/reputation"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *bus.Bus
	Config *config.Config
	Rules  reputation.Rules
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, b *bus.Bus) Engine {
	rules := reputation.DefaultRules()
	if cfg != nil {
		rules = reputation.Rules{
			CompletedReward: cfg.Scoring.CompletedReward,
			FailedPenalty:   cfg.Scoring.FailedPenalty,
			LevelWidth:      cfg.Scoring.LevelWidth,
		}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    b,
		Config: cfg,
		Rules:  rules,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) publish(kind bus.Kind, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(kind, payload)
	}
}

// PromiseCreateOptions are parameters for publishing a promise.
type PromiseCreateOptions struct {
	ID         string
	Address    string
	Message    string
	Category   string
	Difficulty string
	Deadline   string
}

func (e Engine) CreatePromise(ctx context.Context, opts PromiseCreateOptions) (domain.Promise, error) {
	if e.Config == nil {
		return domain.Promise{}, errors.New("config not loaded")
	}
	addr := strings.ToLower(strings.TrimSpace(opts.Address))
	if addr == "" {
		return domain.Promise{}, fault.ValidationError{Field: "address", Reason: "address is required"}
	}
	now := e.now().UTC()
	if err := e.validateDetails(opts.Message, opts.Category, opts.Difficulty, opts.Deadline, now); err != nil {
		return domain.Promise{}, err
	}
	id := opts.ID
	ts := now.Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Promise{
		ID:         id,
		Address:    addr,
		Message:    strings.TrimSpace(opts.Message),
		Category:   opts.Category,
		Difficulty: opts.Difficulty,
		Deadline:   opts.Deadline,
		Status:     domain.StatusActive,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureUser(ctx, tx, addr, ts); err != nil {
		return domain.Promise{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := e.Repo.InsertPromise(ctx, tx, p); err != nil {
		return domain.Promise{}, fmt.Errorf("insert promise: %w", err)
	}
	u, err := e.Repo.GetUserTx(ctx, tx, addr)
	if err != nil {
		return domain.Promise{}, err
	}
	u.TotalPromises++
	if err := e.Repo.UpdateUserCounters(ctx, tx, u, ts); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Events.Append(ctx, tx, "promise.created", "promise", p.ID, addr, events.EventPayload{
		"message": p.Message, "category": p.Category, "difficulty": p.Difficulty, "deadline": p.Deadline,
	}); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "commit", Err: err}
	}
	e.publish(bus.PromiseCreated, p)
	e.publish(bus.UserUpdated, u)
	e.publish(bus.StatsUpdated, nil)
	return p, nil
}

// PromiseUpdateOptions carries field-level edits. Nil means leave unchanged.
type PromiseUpdateOptions struct {
	Message    *string
	Category   *string
	Difficulty *string
	Deadline   *string
	Proof      *string
}

// UpdateDetails edits an active promise owned by actor.
func (e Engine) UpdateDetails(ctx context.Context, promiseID, actor string, opts PromiseUpdateOptions) (domain.Promise, error) {
	p, err := e.Repo.GetPromise(ctx, promiseID)
	if err != nil {
		return domain.Promise{}, err
	}
	if !strings.EqualFold(actor, p.Address) {
		return domain.Promise{}, fault.AuthorizationError{Reason: "only the promise owner may edit it"}
	}
	if p.Status != domain.StatusActive {
		return domain.Promise{}, fault.InvalidStateError{Status: p.Status, Reason: "only active promises can be edited"}
	}

	now := e.now().UTC()
	fields := map[string]any{}
	changed := events.EventPayload{}
	if opts.Message != nil {
		if err := e.validateMessage(*opts.Message); err != nil {
			return domain.Promise{}, err
		}
		p.Message = strings.TrimSpace(*opts.Message)
		fields["message"] = p.Message
		changed["message"] = p.Message
	}
	if opts.Category != nil {
		if err := e.validateCategory(*opts.Category); err != nil {
			return domain.Promise{}, err
		}
		p.Category = *opts.Category
		fields["category"] = p.Category
		changed["category"] = p.Category
	}
	if opts.Difficulty != nil {
		if err := validateDifficulty(*opts.Difficulty); err != nil {
			return domain.Promise{}, err
		}
		p.Difficulty = *opts.Difficulty
		fields["difficulty"] = p.Difficulty
		changed["difficulty"] = p.Difficulty
	}
	if opts.Deadline != nil {
		if err := validateDeadline(*opts.Deadline, now); err != nil {
			return domain.Promise{}, err
		}
		p.Deadline = *opts.Deadline
		fields["deadline"] = p.Deadline
		changed["deadline"] = p.Deadline
	}
	if opts.Proof != nil {
		p.Proof = strings.TrimSpace(*opts.Proof)
		fields["proof"] = nullable(p.Proof)
		changed["proof"] = p.Proof
	}
	if len(fields) == 0 {
		return p, nil
	}
	ts := now.Format(time.RFC3339)
	p.UpdatedAt = ts

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	claimed, err := e.Repo.UpdatePromiseDetails(ctx, tx, promiseID, fields, ts)
	if err != nil {
		return domain.Promise{}, err
	}
	if !claimed {
		// Resolved under us between the read and the write.
		cur, err := e.Repo.GetPromiseTx(ctx, tx, promiseID)
		if err != nil {
			return domain.Promise{}, err
		}
		return domain.Promise{}, fault.InvalidStateError{Status: cur.Status, Reason: "only active promises can be edited"}
	}
	if err := e.Events.Append(ctx, tx, "promise.updated", "promise", p.ID, strings.ToLower(actor), changed); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "commit", Err: err}
	}
	e.publish(bus.PromiseUpdated, p)
	return p, nil
}

// TransitionStatus resolves an active promise to completed or failed exactly
// once, and applies the reputation delta to the owner in the same transaction.
func (e Engine) TransitionStatus(ctx context.Context, promiseID, actor, newStatus, proof string) (domain.Promise, error) {
	switch newStatus {
	case domain.StatusCompleted, domain.StatusFailed:
	default:
		return domain.Promise{}, fault.ValidationError{Field: "status", Reason: "status must be completed or failed"}
	}
	p, err := e.Repo.GetPromise(ctx, promiseID)
	if err != nil {
		return domain.Promise{}, err
	}
	if !strings.EqualFold(actor, p.Address) {
		return domain.Promise{}, fault.AuthorizationError{Reason: "only the promise owner may resolve it"}
	}

	ts := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	claimed, err := e.Repo.ResolvePromise(ctx, tx, promiseID, newStatus, strings.TrimSpace(proof), ts)
	if err != nil {
		return domain.Promise{}, err
	}
	if !claimed {
		// Lost the race or promise already terminal. Re-read to tell which.
		cur, err := e.Repo.GetPromiseTx(ctx, tx, promiseID)
		if err != nil {
			return domain.Promise{}, err
		}
		return domain.Promise{}, fault.InvalidStateError{Status: cur.Status, Reason: "promise already resolved"}
	}

	u, err := e.Repo.GetUserTx(ctx, tx, p.Address)
	if err != nil {
		return domain.Promise{}, err
	}
	counters := reputation.Counters{
		Reputation: u.Reputation,
		Completed:  u.CompletedPromises,
		Failed:     u.FailedPromises,
		Streak:     u.Streak,
	}
	delta, ok := e.Rules.ComputeDelta(domain.StatusActive, newStatus, counters)
	if !ok {
		return domain.Promise{}, fault.InvalidStateError{Status: newStatus, Reason: "transition has no scoring rule"}
	}
	counters = e.Rules.Apply(counters, delta)
	u.Reputation = counters.Reputation
	u.CompletedPromises = counters.Completed
	u.FailedPromises = counters.Failed
	u.Streak = counters.Streak
	u.Level = e.Rules.Level(counters.Reputation)
	if err := e.Repo.UpdateUserCounters(ctx, tx, u, ts); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Events.Append(ctx, tx, "promise.resolved", "promise", p.ID, p.Address, events.EventPayload{
		"from": domain.StatusActive, "to": newStatus, "reputation": u.Reputation,
	}); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "commit", Err: err}
	}

	p.Status = newStatus
	if proof != "" {
		p.Proof = strings.TrimSpace(proof)
	}
	p.UpdatedAt = ts
	e.publish(bus.PromiseUpdated, p)
	e.publish(bus.UserUpdated, u)
	e.publish(bus.StatsUpdated, nil)
	return p, nil
}

// AdminSetProgress lets the admin pin a progress percentage on any promise.
func (e Engine) AdminSetProgress(ctx context.Context, promiseID, actor string, progress int) (domain.Promise, error) {
	if err := e.requireAdmin(actor); err != nil {
		return domain.Promise{}, err
	}
	if progress < 0 || progress > 100 {
		return domain.Promise{}, fault.ValidationError{Field: "progress", Reason: "progress must be between 0 and 100"}
	}
	p, err := e.Repo.GetPromise(ctx, promiseID)
	if err != nil {
		return domain.Promise{}, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := e.Repo.SetAdminProgress(ctx, tx, promiseID, progress, ts); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Events.Append(ctx, tx, "promise.progress.adjusted", "promise", p.ID, strings.ToLower(actor), events.EventPayload{
		"progress": progress,
	}); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, fault.UpstreamError{Op: "commit", Err: err}
	}
	p.AdminAdjustedProgress = &progress
	p.UpdatedAt = ts
	e.publish(bus.PromiseUpdated, p)
	return p, nil
}

// RequestDelete opens a pending moderation request for a promise.
func (e Engine) RequestDelete(ctx context.Context, promiseID, actor string) (domain.DeleteRequest, error) {
	p, err := e.Repo.GetPromise(ctx, promiseID)
	if err != nil {
		return domain.DeleteRequest{}, err
	}
	if !strings.EqualFold(actor, p.Address) {
		return domain.DeleteRequest{}, fault.AuthorizationError{Reason: "only the promise owner may request deletion"}
	}
	if _, err := e.Repo.PendingDeleteRequest(ctx, promiseID); err == nil {
		return domain.DeleteRequest{}, fault.ConflictError{Reason: "a pending delete request already exists for this promise"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.DeleteRequest{}, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	dr := domain.DeleteRequest{
		ID:               uuid.NewString(),
		PromiseID:        promiseID,
		RequesterAddress: strings.ToLower(actor),
		Status:           domain.RequestPending,
		RequestedAt:      ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDeleteRequest(ctx, tx, dr); err != nil {
		// Partial unique index backs the one-pending-per-promise invariant
		// against concurrent requests.
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.DeleteRequest{}, fault.ConflictError{Reason: "a pending delete request already exists for this promise"}
		}
		return domain.DeleteRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, "delete_request.created", "delete_request", dr.ID, dr.RequesterAddress, events.EventPayload{
		"promise_id": promiseID,
	}); err != nil {
		return domain.DeleteRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "commit", Err: err}
	}
	e.publish(bus.DeleteRequestCreated, dr)
	return dr, nil
}

// ApproveDelete resolves a pending request and removes the underlying promise.
func (e Engine) ApproveDelete(ctx context.Context, requestID, actor string) (domain.DeleteRequest, error) {
	if err := e.requireAdmin(actor); err != nil {
		return domain.DeleteRequest{}, err
	}
	dr, err := e.Repo.GetDeleteRequest(ctx, requestID)
	if err != nil {
		return domain.DeleteRequest{}, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	claimed, err := e.Repo.ResolveDeleteRequest(ctx, tx, requestID, domain.RequestApproved, actor, ts)
	if err != nil {
		return domain.DeleteRequest{}, err
	}
	if !claimed {
		cur, err := e.Repo.GetDeleteRequestTx(ctx, tx, requestID)
		if err != nil {
			return domain.DeleteRequest{}, err
		}
		return domain.DeleteRequest{}, fault.InvalidStateError{Status: cur.Status, Reason: "delete request already processed"}
	}
	// The promise status must come from inside the transaction: a resolution
	// racing the approval changes which counter the deletion has to unwind.
	p, err := e.Repo.GetPromiseTx(ctx, tx, dr.PromiseID)
	if err != nil {
		return domain.DeleteRequest{}, err
	}
	if err := e.Repo.DeletePromise(ctx, tx, dr.PromiseID); err != nil {
		return domain.DeleteRequest{}, err
	}
	u, err := e.Repo.GetUserTx(ctx, tx, p.Address)
	if err != nil {
		return domain.DeleteRequest{}, err
	}
	if u.TotalPromises > 0 {
		u.TotalPromises--
	}
	switch p.Status {
	case domain.StatusCompleted:
		if u.CompletedPromises > 0 {
			u.CompletedPromises--
		}
	case domain.StatusFailed:
		if u.FailedPromises > 0 {
			u.FailedPromises--
		}
	}
	if err := e.Repo.UpdateUserCounters(ctx, tx, u, ts); err != nil {
		return domain.DeleteRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, "promise.deleted", "promise", p.ID, strings.ToLower(actor), events.EventPayload{
		"request_id": requestID,
	}); err != nil {
		return domain.DeleteRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "commit", Err: err}
	}

	lowered := strings.ToLower(actor)
	dr.Status = domain.RequestApproved
	dr.ProcessedBy = &lowered
	dr.ProcessedAt = &ts
	e.publish(bus.PromiseDeleted, p)
	e.publish(bus.DeleteRequestResolved, dr)
	e.publish(bus.UserUpdated, u)
	e.publish(bus.StatsUpdated, nil)
	return dr, nil
}

// RejectDelete closes a pending request without touching the promise.
func (e Engine) RejectDelete(ctx context.Context, requestID, actor string) (domain.DeleteRequest, error) {
	if err := e.requireAdmin(actor); err != nil {
		return domain.DeleteRequest{}, err
	}
	dr, err := e.Repo.GetDeleteRequest(ctx, requestID)
	if err != nil {
		return domain.DeleteRequest{}, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	claimed, err := e.Repo.ResolveDeleteRequest(ctx, tx, requestID, domain.RequestRejected, actor, ts)
	if err != nil {
		return domain.DeleteRequest{}, err
	}
	if !claimed {
		cur, err := e.Repo.GetDeleteRequestTx(ctx, tx, requestID)
		if err != nil {
			return domain.DeleteRequest{}, err
		}
		return domain.DeleteRequest{}, fault.InvalidStateError{Status: cur.Status, Reason: "delete request already processed"}
	}
	if err := e.Events.Append(ctx, tx, "delete_request.rejected", "delete_request", dr.ID, strings.ToLower(actor), events.EventPayload{
		"promise_id": dr.PromiseID,
	}); err != nil {
		return domain.DeleteRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeleteRequest{}, fault.UpstreamError{Op: "commit", Err: err}
	}

	lowered := strings.ToLower(actor)
	dr.Status = domain.RequestRejected
	dr.ProcessedBy = &lowered
	dr.ProcessedAt = &ts
	e.publish(bus.DeleteRequestResolved, dr)
	return dr, nil
}

// ListPendingDeleteRequests is the admin moderation queue, oldest first.
func (e Engine) ListPendingDeleteRequests(ctx context.Context, actor string) ([]domain.DeleteRequest, error) {
	if err := e.requireAdmin(actor); err != nil {
		return nil, err
	}
	return e.Repo.ListDeleteRequests(ctx, domain.RequestPending)
}

// RecordSession upserts a visitor session.
func (e Engine) RecordSession(ctx context.Context, sessionID, ip string) error {
	ts := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertSession(ctx, sessionID, ip, ts); err != nil {
		return fault.UpstreamError{Op: "record session", Err: err}
	}
	return nil
}

// GetUserStats returns the stored profile for an address.
func (e Engine) GetUserStats(ctx context.Context, address string) (domain.User, error) {
	return e.Repo.GetUser(ctx, address)
}

// GlobalStats aggregates registry-wide figures.
func (e Engine) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	var gs domain.GlobalStats
	total, avg, top, streak, err := e.Repo.UserAggregates(ctx)
	if err != nil {
		return gs, fault.UpstreamError{Op: "aggregate users", Err: err}
	}
	counts, err := e.Repo.CountPromisesByStatus(ctx)
	if err != nil {
		return gs, fault.UpstreamError{Op: "aggregate promises", Err: err}
	}
	gs.TotalUsers = total
	gs.AverageReputation = avg
	gs.TopPerformer = top
	gs.HighestStreak = streak
	gs.ActivePromises = counts[domain.StatusActive]
	gs.CompletedPromises = counts[domain.StatusCompleted]
	gs.FailedPromises = counts[domain.StatusFailed]
	gs.TotalPromises = gs.ActivePromises + gs.CompletedPromises + gs.FailedPromises
	resolved := gs.CompletedPromises + gs.FailedPromises
	if resolved > 0 {
		gs.CompletionRate = float64(gs.CompletedPromises) / float64(resolved) * 100
	}
	return gs, nil
}

func (e Engine) requireAdmin(actor string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	if !e.Config.IsAdmin(actor) {
		return fault.AuthorizationError{Reason: "admin credential required"}
	}
	return nil
}

func (e Engine) validateDetails(message, category, difficulty, deadline string, now time.Time) error {
	if err := e.validateMessage(message); err != nil {
		return err
	}
	if err := e.validateCategory(category); err != nil {
		return err
	}
	if err := validateDifficulty(difficulty); err != nil {
		return err
	}
	return validateDeadline(deadline, now)
}

func (e Engine) validateMessage(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fault.ValidationError{Field: "message", Reason: "message is required"}
	}
	max := e.Config.Limits.MessageMaxLen
	if len([]rune(message)) > max {
		return fault.ValidationError{Field: "message", Reason: fmt.Sprintf("message exceeds %d characters", max)}
	}
	return nil
}

func (e Engine) validateCategory(category string) error {
	if !e.Config.HasCategory(category) {
		return fault.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	return nil
}

func validateDifficulty(difficulty string) error {
	switch difficulty {
	case domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
		return nil
	}
	return fault.ValidationError{Field: "difficulty", Reason: "difficulty must be easy, medium or hard"}
}

func validateDeadline(deadline string, now time.Time) error {
	t, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return fault.ValidationError{Field: "deadline", Reason: "deadline must be RFC 3339"}
	}
	if !t.After(now) {
		return fault.ValidationError{Field: "deadline", Reason: "deadline must be in the future"}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
