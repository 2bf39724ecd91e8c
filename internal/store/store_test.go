// internal/store/store_test.go
package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmarket-sync/internal/auth"
	"jobmarket-sync/internal/common/config"
	"jobmarket-sync/internal/common/errors"
	"jobmarket-sync/internal/common/logger"
	"jobmarket-sync/internal/docstore"
	"jobmarket-sync/internal/models"
	"jobmarket-sync/internal/notify"
	"jobmarket-sync/internal/session"
)

// ==========================
// Test Fixtures
// ==========================

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		EmployerJobsLimit:          20,
		CandidateJobsLimit:         50,
		EmployerApplicationsLimit:  50,
		CandidateApplicationsLimit: 30,
	}
}

// fixture is one bound client: its own session and store over a shared
// document store and authenticator, the way two devices share a backend.
type fixture struct {
	sess     *session.Session
	store    *Store
	notifier *notify.Center
}

func newFixture(t *testing.T, docs docstore.Store, authenticator auth.Authenticator, cfg config.SyncConfig) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	notifier := notify.NewCenter(3, 0, log)
	sess := session.New(docs, authenticator, log)

	st, err := New(docs, sess, notifier, nil, cfg, log)
	require.NoError(t, err)

	t.Cleanup(func() {
		st.Close()
		sess.Close()
	})
	return &fixture{sess: sess, store: st, notifier: notifier}
}

func newTestEnv(t *testing.T, cfg config.SyncConfig) (*docstore.MemoryStore, *auth.MemoryAuthenticator, *fixture) {
	t.Helper()
	docs := docstore.NewMemoryStore()
	authenticator := auth.NewMemoryAuthenticator()
	return docs, authenticator, newFixture(t, docs, authenticator, cfg)
}

func signUpAs(t *testing.T, f *fixture, email, name string, role models.Role) {
	t.Helper()
	require.NoError(t, f.sess.SignUp(context.Background(), email, "secret", name, role))
	require.Eventually(t, func() bool {
		return f.sess.Role() == role
	}, 2*time.Second, 10*time.Millisecond, "role never resolved")
}

func signInAs(t *testing.T, f *fixture, email string, role models.Role) {
	t.Helper()
	require.NoError(t, f.sess.SignIn(context.Background(), email, "secret"))
	require.Eventually(t, func() bool {
		return f.sess.Role() == role
	}, 2*time.Second, 10*time.Millisecond, "role never resolved")
}

func waitJobs(t *testing.T, st *Store, n int) []models.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(st.Jobs()) == n
	}, 2*time.Second, 10*time.Millisecond, "expected %d jobs, have %d", n, len(st.Jobs()))
	return st.Jobs()
}

func waitApplications(t *testing.T, st *Store, n int) []models.Application {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(st.Applications()) == n
	}, 2*time.Second, 10*time.Millisecond, "expected %d applications, have %d", n, len(st.Applications()))
	return st.Applications()
}

func testJobInput(title string) JobInput {
	return JobInput{
		Title:       title,
		Company:     "Acme",
		Location:    "Berlin",
		Type:        "full-time",
		Description: "Build things",
	}
}

// ==========================
// Job Mutation Tests
// ==========================

func TestStore_CreateJobAppearsInOwnerSnapshot(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	id, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	jobs := waitJobs(t, emp.store, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, "Backend Engineer", jobs[0].Title)
	assert.Equal(t, models.JobStatusActive, jobs[0].Status)
	assert.Equal(t, 0, jobs[0].Applicants)
	assert.Equal(t, 0, jobs[0].Views)
	assert.Equal(t, emp.sess.Principal().ID, jobs[0].EmployerID)
	assert.False(t, jobs[0].PostedAt.IsZero(), "postedAt must be server-stamped")
}

func TestStore_CreateJobRequiresEmployerRole(t *testing.T) {
	docs, _, cand := newTestEnv(t, testSyncConfig())
	signUpAs(t, cand, "cand@example.com", "Ada", models.RoleCandidate)
	cand.notifier.ClearAll()

	id, err := cand.store.CreateJob(context.Background(), testJobInput("Nope"))
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied), "got %v", err)
	assert.Empty(t, id)

	// Nothing was written remotely and exactly one error was surfaced.
	_, getErr := docs.Get(context.Background(), docstore.CollectionJobs, id)
	assert.Error(t, getErr)
	all := cand.notifier.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.SeverityError, all[0].Severity)
}

func TestStore_CreateJobValidatesPayload(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	input := testJobInput("")
	_, err := emp.store.CreateJob(context.Background(), input)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed), "got %v", err)
	assert.Empty(t, waitJobs(t, emp.store, 0))
}

func TestStore_CreateJobWhenSignedOut(t *testing.T) {
	_, _, f := newTestEnv(t, testSyncConfig())
	_, err := f.store.CreateJob(context.Background(), testJobInput("Nope"))
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied), "got %v", err)
}

func TestStore_UpdateJobRestampsAndMerges(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	id, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	require.NoError(t, emp.store.UpdateJob(context.Background(), id, map[string]interface{}{
		"salary": "60k EUR",
	}))

	require.Eventually(t, func() bool {
		jobs := emp.store.Jobs()
		return len(jobs) == 1 && jobs[0].Salary == "60k EUR"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Backend Engineer", emp.store.Jobs()[0].Title, "untouched fields survive")
}

func TestStore_UpdateJobUnknownID(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	err := emp.store.UpdateJob(context.Background(), "no-such-job", map[string]interface{}{"salary": "1"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound), "got %v", err)
}

func TestStore_UpdateJobClosedIsTerminal(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	id, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	require.NoError(t, emp.store.UpdateJob(context.Background(), id, map[string]interface{}{"status": "closed"}))
	require.Eventually(t, func() bool {
		jobs := emp.store.Jobs()
		return len(jobs) == 1 && jobs[0].Status == models.JobStatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	err = emp.store.UpdateJob(context.Background(), id, map[string]interface{}{"status": "active"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition), "got %v", err)

	// Even a same-status write is refused on a closed job.
	err = emp.store.UpdateJob(context.Background(), id, map[string]interface{}{"status": "closed"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition), "got %v", err)
	assert.Equal(t, models.JobStatusClosed, emp.store.Jobs()[0].Status)
}

// ==========================
// Role-Scoped Query Tests
// ==========================

func TestStore_CandidateSeesOnlyActiveJobs(t *testing.T) {
	docs, authenticator, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	ctx := context.Background()
	activeID, err := emp.store.CreateJob(ctx, testJobInput("Visible"))
	require.NoError(t, err)
	pausedID, err := emp.store.CreateJob(ctx, testJobInput("Hidden"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 2)
	require.NoError(t, emp.store.UpdateJob(ctx, pausedID, map[string]interface{}{"status": "paused"}))

	cand := newFixture(t, docs, authenticator, testSyncConfig())
	signUpAs(t, cand, "cand@example.com", "Ada", models.RoleCandidate)

	jobs := waitJobs(t, cand.store, 1)
	assert.Equal(t, activeID, jobs[0].ID)

	// Reactivating surfaces it in the candidate's live set.
	require.NoError(t, emp.store.UpdateJob(ctx, pausedID, map[string]interface{}{"status": "active"}))
	waitJobs(t, cand.store, 2)
}

func TestStore_EmployerSeesOnlyOwnJobs(t *testing.T) {
	docs, authenticator, empA := newTestEnv(t, testSyncConfig())
	signUpAs(t, empA, "a@example.com", "A", models.RoleEmployer)
	_, err := empA.store.CreateJob(context.Background(), testJobInput("A's job"))
	require.NoError(t, err)
	waitJobs(t, empA.store, 1)

	empB := newFixture(t, docs, authenticator, testSyncConfig())
	signUpAs(t, empB, "b@example.com", "B", models.RoleEmployer)

	_, err = empB.store.CreateJob(context.Background(), testJobInput("B's job"))
	require.NoError(t, err)
	jobs := waitJobs(t, empB.store, 1)
	assert.Equal(t, "B's job", jobs[0].Title)
}

func TestStore_LogoutClearsCollections(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	_, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	require.NoError(t, emp.sess.Logout(context.Background()))
	require.Eventually(t, func() bool {
		return len(emp.store.Jobs()) == 0 && len(emp.store.Applications()) == 0
	}, 2*time.Second, 10*time.Millisecond, "collections must empty on sign-out")
	assert.False(t, emp.store.Loading())
}

// ==========================
// Application Flow Tests
// ==========================

// postAndShare creates an employer with one active job and a candidate
// fixture that can see it.
func postAndShare(t *testing.T, cfg config.SyncConfig) (docs *docstore.MemoryStore, emp, cand *fixture, jobID string) {
	t.Helper()
	var authenticator *auth.MemoryAuthenticator
	docs, authenticator, emp = newTestEnv(t, cfg)
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)

	var err error
	jobID, err = emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	cand = newFixture(t, docs, authenticator, cfg)
	signUpAs(t, cand, "cand@example.com", "Ada", models.RoleCandidate)
	waitJobs(t, cand.store, 1)
	return docs, emp, cand, jobID
}

func TestStore_ApplyToJob(t *testing.T) {
	docs, emp, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))

	apps := waitApplications(t, cand.store, 1)
	assert.Equal(t, models.ApplicationKey(cand.sess.Principal().ID, jobID), apps[0].ID)
	assert.Equal(t, models.ApplicationStatusPending, apps[0].Status)
	assert.Equal(t, "Ada", apps[0].CandidateName)
	assert.Equal(t, "Backend Engineer", apps[0].JobTitle, "job snapshot taken at apply time")
	assert.Equal(t, emp.sess.Principal().ID, apps[0].EmployerID)

	// The employer's inbound view converges on the same application.
	empApps := waitApplications(t, emp.store, 1)
	assert.Equal(t, apps[0].ID, empApps[0].ID)

	// The applicant counter was bumped.
	doc, err := docs.Get(ctx, docstore.CollectionJobs, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["applicants"])
}

func TestStore_ApplyTwiceRejected(t *testing.T) {
	docs, _, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	waitApplications(t, cand.store, 1)

	err := cand.store.ApplyToJob(ctx, jobID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyApplied), "got %v", err)

	// No duplicate row, no double count.
	assert.Len(t, cand.store.Applications(), 1)
	doc, err := docs.Get(ctx, docstore.CollectionJobs, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["applicants"])
}

func TestStore_ApplyRequiresCandidateRole(t *testing.T) {
	_, emp, _, jobID := postAndShare(t, testSyncConfig())
	err := emp.store.ApplyToJob(context.Background(), jobID)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied), "got %v", err)
}

func TestStore_ApplyToUnknownJob(t *testing.T) {
	_, _, cand, _ := postAndShare(t, testSyncConfig())
	err := cand.store.ApplyToJob(context.Background(), "no-such-job")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound), "got %v", err)
}

func TestStore_ConcurrentApplyConvergesToOneApplication(t *testing.T) {
	docs, authenticator, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)
	jobID, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	// The same candidate account on two devices.
	devA := newFixture(t, docs, authenticator, testSyncConfig())
	signUpAs(t, devA, "cand@example.com", "Ada", models.RoleCandidate)
	devB := newFixture(t, docs, authenticator, testSyncConfig())
	signInAs(t, devB, "cand@example.com", models.RoleCandidate)
	waitJobs(t, devA.store, 1)
	waitJobs(t, devB.store, 1)

	ctx := context.Background()
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, dev := range []*fixture{devA, devB} {
		wg.Add(1)
		go func(f *fixture) {
			defer wg.Done()
			results <- f.store.ApplyToJob(ctx, jobID)
		}(dev)
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.HasCode(err, errors.ErrCodeAlreadyApplied):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one racer wins the create")
	assert.Equal(t, 1, rejections)

	// One application document, one counter bump.
	key := models.ApplicationKey(devA.sess.Principal().ID, jobID)
	_, err = docs.Get(ctx, docstore.CollectionApplications, key)
	require.NoError(t, err)
	doc, err := docs.Get(ctx, docstore.CollectionJobs, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["applicants"])
	waitApplications(t, emp.store, 1)
}

// ==========================
// Application Status Tests
// ==========================

func TestStore_UpdateApplicationStatus(t *testing.T) {
	_, emp, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	apps := waitApplications(t, emp.store, 1)

	require.NoError(t, emp.store.UpdateApplicationStatus(ctx, apps[0].ID, models.ApplicationStatusViewed, ""))
	require.Eventually(t, func() bool {
		a := cand.store.Applications()
		return len(a) == 1 && a[0].Status == models.ApplicationStatusViewed
	}, 2*time.Second, 10*time.Millisecond, "status change must reach the candidate")

	require.NoError(t, emp.store.UpdateApplicationStatus(ctx, apps[0].ID, models.ApplicationStatusInterview, "Tuesday 10:00"))
	require.Eventually(t, func() bool {
		a := cand.store.Applications()
		return len(a) == 1 && a[0].StatusMessage == "Tuesday 10:00"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStore_UpdateApplicationStatusInvalidTransition(t *testing.T) {
	_, emp, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	apps := waitApplications(t, emp.store, 1)

	// pending -> hired skips the pipeline.
	err := emp.store.UpdateApplicationStatus(ctx, apps[0].ID, models.ApplicationStatusHired, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition), "got %v", err)
	assert.Equal(t, models.ApplicationStatusPending, emp.store.Applications()[0].Status, "rejected writes leave status untouched")
}

func TestStore_UpdateApplicationStatusRequiresEmployer(t *testing.T) {
	_, emp, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	apps := waitApplications(t, emp.store, 1)

	err := cand.store.UpdateApplicationStatus(ctx, apps[0].ID, models.ApplicationStatusViewed, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied), "got %v", err)
}

// ==========================
// Deletion Tests
// ==========================

func TestStore_DeleteJobKeepsApplicationsByDefault(t *testing.T) {
	docs, emp, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	waitApplications(t, emp.store, 1)
	appKey := models.ApplicationKey(cand.sess.Principal().ID, jobID)

	require.NoError(t, emp.store.DeleteJob(ctx, jobID))
	waitJobs(t, emp.store, 0)

	// The filing survives as a historical record.
	_, err := docs.Get(ctx, docstore.CollectionApplications, appKey)
	assert.NoError(t, err)
}

func TestStore_DeleteJobCascadesWhenConfigured(t *testing.T) {
	cfg := testSyncConfig()
	cfg.CascadeDeleteApplications = true
	docs, emp, cand, jobID := postAndShare(t, cfg)
	ctx := context.Background()

	require.NoError(t, cand.store.ApplyToJob(ctx, jobID))
	waitApplications(t, emp.store, 1)
	appKey := models.ApplicationKey(cand.sess.Principal().ID, jobID)

	require.NoError(t, emp.store.DeleteJob(ctx, jobID))
	waitJobs(t, emp.store, 0)

	require.Eventually(t, func() bool {
		_, err := docs.Get(ctx, docstore.CollectionApplications, appKey)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "cascade must remove the application")
}

func TestStore_DeleteJobRequiresOwnership(t *testing.T) {
	docs, authenticator, empA := newTestEnv(t, testSyncConfig())
	signUpAs(t, empA, "a@example.com", "A", models.RoleEmployer)
	jobID, err := empA.store.CreateJob(context.Background(), testJobInput("A's job"))
	require.NoError(t, err)
	waitJobs(t, empA.store, 1)

	empB := newFixture(t, docs, authenticator, testSyncConfig())
	signUpAs(t, empB, "b@example.com", "B", models.RoleEmployer)

	// B cannot even see A's job, so the delete fails the local lookup.
	err = empB.store.DeleteJob(context.Background(), jobID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound), "got %v", err)
	_, err = docs.Get(context.Background(), docstore.CollectionJobs, jobID)
	assert.NoError(t, err, "the job must still exist")
}

// ==========================
// View Counter Tests
// ==========================

func TestStore_IncrementJobViewsSequential(t *testing.T) {
	docs, _, cand, jobID := postAndShare(t, testSyncConfig())
	ctx := context.Background()

	const n = 7
	for i := 0; i < n; i++ {
		cand.store.IncrementJobViews(ctx, jobID)
	}

	doc, err := docs.Get(ctx, docstore.CollectionJobs, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), doc["views"])
}

func TestStore_IncrementJobViewsUnknownJobIsSilent(t *testing.T) {
	_, _, cand, _ := postAndShare(t, testSyncConfig())
	cand.notifier.ClearAll()

	cand.store.IncrementJobViews(context.Background(), "no-such-job")
	assert.Empty(t, cand.notifier.All(), "best-effort counters never notify")
}

// ==========================
// Notification Surface Tests
// ==========================

func TestStore_MutationOutcomesNotifyOnce(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)
	emp.notifier.ClearAll()

	_, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)

	all := emp.notifier.All()
	require.Len(t, all, 1, "one success per user-relevant mutation")
	assert.Equal(t, models.SeveritySuccess, all[0].Severity)

	emp.notifier.ClearAll()
	err = emp.store.UpdateJob(context.Background(), "no-such-job", map[string]interface{}{"salary": "1"})
	require.Error(t, err)

	all = emp.notifier.All()
	require.Len(t, all, 1, "exactly one error per failed mutation")
	assert.Equal(t, models.SeverityError, all[0].Severity)
}

func TestStore_ListenerFailureSurfacesOnce(t *testing.T) {
	docs, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)
	_, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)
	emp.notifier.ClearAll()

	docs.FailListeners(docstore.CollectionJobs, fmt.Errorf("stream torn down"))

	require.Eventually(t, func() bool {
		return len(emp.store.Jobs()) == 0
	}, 2*time.Second, 10*time.Millisecond, "a dead listener must not serve stale data")
	require.Eventually(t, func() bool {
		return len(emp.notifier.All()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.SeverityError, emp.notifier.All()[0].Severity)
}

func TestStore_ProfileListenerFailureClearsCollections(t *testing.T) {
	docs, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)
	_, err := emp.store.CreateJob(context.Background(), testJobInput("Backend Engineer"))
	require.NoError(t, err)
	waitJobs(t, emp.store, 1)

	// The profile stream dying unresolves the role; the store must drop
	// the role's subscriptions rather than keep serving them.
	docs.FailListeners(docstore.CollectionUsers, fmt.Errorf("stream torn down"))

	require.Eventually(t, func() bool {
		return emp.sess.Role() == models.Role("")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(emp.store.Jobs()) == 0 && len(emp.store.Applications()) == 0
	}, 2*time.Second, 10*time.Millisecond, "an unresolved role must not serve the previous role's data")
}

func TestStore_StaleSubscribeFailureIsSilent(t *testing.T) {
	_, _, emp := newTestEnv(t, testSyncConfig())
	signUpAs(t, emp, "emp@example.com", "Acme HR", models.RoleEmployer)
	emp.notifier.ClearAll()

	emp.store.mu.Lock()
	stale := emp.store.generation
	emp.store.generation++
	current := emp.store.generation
	emp.store.mu.Unlock()

	// A rebind that lost the race to a newer one fails quietly.
	emp.store.subscribeFailed(docstore.CollectionJobs, stale, fmt.Errorf("subscribe refused"))
	assert.Empty(t, emp.notifier.All(), "a superseded rebind must not surface a banner")

	emp.store.subscribeFailed(docstore.CollectionJobs, current, fmt.Errorf("subscribe refused"))
	require.Len(t, emp.notifier.All(), 1)
	assert.Equal(t, models.SeverityError, emp.notifier.All()[0].Severity)
}
