package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pledgeline/internal/config"
	"pledgeline/internal/db"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
	"pledgeline/internal/engine/fault"
	"pledgeline/internal/migrate"
	"pledgeline/internal/repo"
)

const (
	testAdmin = "0xAdMiNAddressF00"
	testOwner = "0xOwnerAddress01"
	testOther = "0xSomeoneElse02"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("registry-1", testAdmin)
	eng := engine.New(conn, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createPromise(t *testing.T, env testEnv, address string) domain.Promise {
	t.Helper()
	p, err := env.Engine.CreatePromise(env.Ctx, engine.PromiseCreateOptions{
		Address:    address,
		Message:    "Read one chapter a day",
		Category:   "Learning",
		Difficulty: "medium",
		Deadline:   "2024-02-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	return p
}

func TestCreatePromiseRegistersUser(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	if p.Status != domain.StatusActive {
		t.Fatalf("status = %s, want active", p.Status)
	}
	if p.Address != "0xowneraddress01" {
		t.Fatalf("address not lowercased: %s", p.Address)
	}
	u, err := env.Engine.GetUserStats(env.Ctx, testOwner)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.TotalPromises != 1 {
		t.Fatalf("total promises = %d, want 1", u.TotalPromises)
	}
	if u.Level != 1 || u.Reputation != 0 {
		t.Fatalf("fresh user level/rep = %d/%d, want 1/0", u.Level, u.Reputation)
	}
}

func TestCreatePromiseValidation(t *testing.T) {
	env := newTestEnv(t)
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	cases := []struct {
		name string
		opts engine.PromiseCreateOptions
	}{
		{"message too long", engine.PromiseCreateOptions{Address: testOwner, Message: string(long), Category: "Learning", Difficulty: "easy", Deadline: "2024-02-01T00:00:00Z"}},
		{"unknown category", engine.PromiseCreateOptions{Address: testOwner, Message: "m", Category: "Gaming", Difficulty: "easy", Deadline: "2024-02-01T00:00:00Z"}},
		{"bad difficulty", engine.PromiseCreateOptions{Address: testOwner, Message: "m", Category: "Learning", Difficulty: "extreme", Deadline: "2024-02-01T00:00:00Z"}},
		{"past deadline", engine.PromiseCreateOptions{Address: testOwner, Message: "m", Category: "Learning", Difficulty: "easy", Deadline: "2023-12-01T00:00:00Z"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreatePromise(env.Ctx, tc.opts)
			var ve fault.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestTransitionIsOneShot(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)

	resolved, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusCompleted, "did it")
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if resolved.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", resolved.Status)
	}
	u, err := env.Engine.GetUserStats(env.Ctx, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if u.Reputation != 10 || u.CompletedPromises != 1 || u.Streak != 1 {
		t.Fatalf("rep/completed/streak = %d/%d/%d, want 10/1/1", u.Reputation, u.CompletedPromises, u.Streak)
	}

	_, err = env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusFailed, "")
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second transition err = %v, want InvalidStateError", err)
	}
	u, _ = env.Engine.GetUserStats(env.Ctx, testOwner)
	if u.Reputation != 10 || u.FailedPromises != 0 {
		t.Fatalf("second transition mutated counters: rep=%d failed=%d", u.Reputation, u.FailedPromises)
	}
}

func TestFailedTransitionNeverBelowZero(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusFailed, ""); err != nil {
		t.Fatalf("fail transition: %v", err)
	}
	u, err := env.Engine.GetUserStats(env.Ctx, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if u.Reputation != 0 {
		t.Fatalf("reputation = %d, want 0 (floored)", u.Reputation)
	}
	if u.FailedPromises != 1 || u.Streak != 0 {
		t.Fatalf("failed/streak = %d/%d, want 1/0", u.FailedPromises, u.Streak)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOther, domain.StatusCompleted, "")
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}
	cur, err := env.Engine.Repo.GetPromise(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusActive {
		t.Fatalf("status mutated by unauthorized caller: %s", cur.Status)
	}
}

func TestOwnerAddressCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	// Same wallet, different casing.
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, "0XOWNERADDRESS01", domain.StatusCompleted, ""); err != nil {
		t.Fatalf("case-insensitive owner rejected: %v", err)
	}
}

func TestUpdateDetailsRules(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)

	msg := "Read two chapters a day"
	updated, err := env.Engine.UpdateDetails(env.Ctx, p.ID, testOwner, engine.PromiseUpdateOptions{Message: &msg})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Message != msg {
		t.Fatalf("message = %q", updated.Message)
	}

	_, err = env.Engine.UpdateDetails(env.Ctx, p.ID, testOther, engine.PromiseUpdateOptions{Message: &msg})
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("non-owner edit err = %v, want AuthorizationError", err)
	}

	past := "2023-01-01T00:00:00Z"
	_, err = env.Engine.UpdateDetails(env.Ctx, p.ID, testOwner, engine.PromiseUpdateOptions{Deadline: &past})
	var ve fault.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("past deadline err = %v, want ValidationError", err)
	}

	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.UpdateDetails(env.Ctx, p.ID, testOwner, engine.PromiseUpdateOptions{Message: &msg})
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("edit resolved promise err = %v, want InvalidStateError", err)
	}
}

func TestEditWriteGuardedOnStatus(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	// Issue the edit write directly, as a concurrent session that read the
	// promise while it was still active would.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	claimed, err := env.Engine.Repo.UpdatePromiseDetails(env.Ctx, tx, p.ID,
		map[string]any{"message": "history, rewritten"}, "2024-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if claimed {
		t.Fatalf("edit write landed on a resolved promise")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	cur, err := env.Engine.Repo.GetPromise(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Message != "Read one chapter a day" {
		t.Fatalf("resolved promise message rewritten: %q", cur.Message)
	}
}

func TestAdminSetProgress(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)

	_, err := env.Engine.AdminSetProgress(env.Ctx, p.ID, testOwner, 50)
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("non-admin err = %v, want AuthorizationError", err)
	}

	_, err = env.Engine.AdminSetProgress(env.Ctx, p.ID, testAdmin, 150)
	var ve fault.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("progress 150 err = %v, want ValidationError", err)
	}

	// Admin address matches case-insensitively.
	updated, err := env.Engine.AdminSetProgress(env.Ctx, p.ID, "0xadminaddressf00", 75)
	if err != nil {
		t.Fatalf("admin set progress: %v", err)
	}
	if updated.AdminAdjustedProgress == nil || *updated.AdminAdjustedProgress != 75 {
		t.Fatalf("progress = %v, want 75", updated.AdminAdjustedProgress)
	}
}

func TestDeleteRequestConflict(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)

	_, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOther)
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("non-owner request err = %v, want AuthorizationError", err)
	}

	dr, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOwner)
	if err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if dr.Status != domain.RequestPending {
		t.Fatalf("status = %s, want pending", dr.Status)
	}

	_, err = env.Engine.RequestDelete(env.Ctx, p.ID, testOwner)
	var ce fault.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("duplicate request err = %v, want ConflictError", err)
	}
}

func TestApproveDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	dr, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOwner)
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.ApproveDelete(env.Ctx, dr.ID, testOwner)
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("non-admin approve err = %v, want AuthorizationError", err)
	}

	approved, err := env.Engine.ApproveDelete(env.Ctx, dr.ID, testAdmin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.RequestApproved || approved.ProcessedBy == nil {
		t.Fatalf("request not marked approved: %+v", approved)
	}

	if _, err := env.Engine.Repo.GetPromise(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("promise still present after approval: %v", err)
	}
	u, err := env.Engine.GetUserStats(env.Ctx, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalPromises != 0 {
		t.Fatalf("total promises = %d, want 0", u.TotalPromises)
	}

	// Resolution is one-shot.
	_, err = env.Engine.ApproveDelete(env.Ctx, dr.ID, testAdmin)
	if !errors.Is(err, repo.ErrNotFound) {
		var ise fault.InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("second approve err = %v, want NotFound or InvalidStateError", err)
		}
	}
}

func TestApproveDeleteUsesCurrentStatus(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	dr, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	// The promise resolves while the request sits in the queue; the approval
	// must unwind the completed counter, not just the total.
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, testOwner, domain.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveDelete(env.Ctx, dr.ID, testAdmin); err != nil {
		t.Fatalf("approve: %v", err)
	}
	u, err := env.Engine.GetUserStats(env.Ctx, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalPromises != 0 || u.CompletedPromises != 0 {
		t.Fatalf("total/completed = %d/%d, want 0/0", u.TotalPromises, u.CompletedPromises)
	}
	if u.Reputation != 10 {
		t.Fatalf("reputation = %d, want 10 (earned points survive deletion)", u.Reputation)
	}
}

func TestRejectDeleteLeavesPromise(t *testing.T) {
	env := newTestEnv(t)
	p := createPromise(t, env, testOwner)
	dr, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOwner)
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.RejectDelete(env.Ctx, dr.ID, testAdmin)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.RequestRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if _, err := env.Engine.Repo.GetPromise(env.Ctx, p.ID); err != nil {
		t.Fatalf("promise gone after rejection: %v", err)
	}
	// Queue is clear again, so a new request is allowed.
	if _, err := env.Engine.RequestDelete(env.Ctx, p.ID, testOwner); err != nil {
		t.Fatalf("new request after rejection: %v", err)
	}
}

func TestListPendingOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	env.Engine.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	p1 := createPromise(t, env, testOwner)
	p2 := createPromise(t, env, testOther)
	if _, err := env.Engine.RequestDelete(env.Ctx, p1.ID, testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestDelete(env.Ctx, p2.ID, testOther); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.ListPendingDeleteRequests(env.Ctx, testOther)
	var ae fault.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("non-admin list err = %v, want AuthorizationError", err)
	}

	pending, err := env.Engine.ListPendingDeleteRequests(env.Ctx, testAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].PromiseID != p1.ID {
		t.Fatalf("queue not oldest first: %s", pending[0].PromiseID)
	}
}

func TestGlobalStats(t *testing.T) {
	env := newTestEnv(t)
	p1 := createPromise(t, env, testOwner)
	p2 := createPromise(t, env, testOwner)
	createPromise(t, env, testOther)
	if _, err := env.Engine.TransitionStatus(env.Ctx, p1.ID, testOwner, domain.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionStatus(env.Ctx, p2.ID, testOwner, domain.StatusFailed, ""); err != nil {
		t.Fatal(err)
	}
	gs, err := env.Engine.GlobalStats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if gs.TotalUsers != 2 || gs.TotalPromises != 3 {
		t.Fatalf("users/promises = %d/%d, want 2/3", gs.TotalUsers, gs.TotalPromises)
	}
	if gs.ActivePromises != 1 || gs.CompletedPromises != 1 || gs.FailedPromises != 1 {
		t.Fatalf("active/completed/failed = %d/%d/%d", gs.ActivePromises, gs.CompletedPromises, gs.FailedPromises)
	}
	if gs.CompletionRate != 50 {
		t.Fatalf("completion rate = %v, want 50", gs.CompletionRate)
	}
	if gs.TopPerformer != "0xowneraddress01" {
		t.Fatalf("top performer = %s", gs.TopPerformer)
	}
}

func TestRecordSession(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.RecordSession(env.Ctx, "sess-1", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RecordSession(env.Ctx, "sess-1", "10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	sessions, err := env.Engine.Repo.ListSessions(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 (upsert)", len(sessions))
	}
	if sessions[0].IP != "10.0.0.2" {
		t.Fatalf("ip = %s, want latest", sessions[0].IP)
	}
}
