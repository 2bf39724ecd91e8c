// Package store maintains the role-scoped live Jobs and Applications
// collections and owns every guarded mutation against them. The store
// rebinds its subscriptions whenever the session's identity changes,
// tearing the stale listeners down before the new ones open.
package store

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"jobmarket-sync/internal/auth"
	"jobmarket-sync/internal/common/config"
	"jobmarket-sync/internal/common/errors"
	"jobmarket-sync/internal/common/logger"
	"jobmarket-sync/internal/common/metrics"
	"jobmarket-sync/internal/common/observability"
	"jobmarket-sync/internal/docstore"
	"jobmarket-sync/internal/models"
	"jobmarket-sync/internal/notify"
	"jobmarket-sync/internal/session"
)

// jobSchema guards createJob payloads before anything touches the
// document store.
const jobSchema = `{
	"type": "object",
	"required": ["title", "company", "location", "type", "description"],
	"properties": {
		"title":        {"type": "string", "minLength": 1},
		"company":      {"type": "string", "minLength": 1},
		"location":     {"type": "string", "minLength": 1},
		"salary":       {"type": "string"},
		"type":         {"type": "string", "minLength": 1},
		"description":  {"type": "string", "minLength": 1},
		"requirements": {"type": "array", "items": {"type": "string"}}
	}
}`

// JobInput is the caller-supplied portion of a new posting. Ownership,
// status, counters and timestamps are stamped by the store.
type JobInput struct {
	Title        string
	Company      string
	Location     string
	Salary       string
	Type         string
	Description  string
	Requirements []string
}

// Store is the synchronized view over the jobs and applications
// collections for the currently bound identity.
type Store struct {
	docs     docstore.Store
	session  *session.Session
	notifier *notify.Center
	obs      *observability.Observability
	cfg      config.SyncConfig
	logger   logger.Logger

	mu           sync.Mutex
	principal    *auth.Principal
	role         models.Role
	jobs         []models.Job
	applications []models.Application
	jobsLoading  bool
	appsLoading  bool

	jobsSub    *docstore.Subscription
	appsSub    *docstore.Subscription
	stop       chan struct{}
	generation int

	unbindIdentity func()
	jobValidator   *gojsonschema.Schema
}

func New(docs docstore.Store, sess *session.Session, notifier *notify.Center, obs *observability.Observability, cfg config.SyncConfig, log logger.Logger) (*Store, error) {
	validator, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(jobSchema))
	if err != nil {
		return nil, err
	}

	s := &Store{
		docs:         docs,
		session:      sess,
		notifier:     notifier,
		obs:          obs,
		cfg:          cfg,
		logger:       log.WithFields(map[string]interface{}{"component": "store"}),
		jobValidator: validator,
	}
	s.unbindIdentity = sess.OnIdentityChange(s.rebind)
	return s, nil
}

// Close detaches from the session and releases both subscriptions.
func (s *Store) Close() {
	if s.unbindIdentity != nil {
		s.unbindIdentity()
	}
	s.rebind(nil, "")
}

// ==========================
// Live collections
// ==========================

// Jobs returns the current jobs snapshot, newest first.
func (s *Store) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Applications returns the current applications snapshot, newest first.
func (s *Store) Applications() []models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Application, len(s.applications))
	copy(out, s.applications)
	return out
}

// Loading reports whether either collection is still waiting for its
// first emission after a rebind.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLoading || s.appsLoading
}

// rebind is the identity listener: stale subscriptions are closed and
// drained before the new role's queries open, so collections from one
// identity never bleed into the next.
func (s *Store) rebind(principal *auth.Principal, role models.Role) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.teardownLocked()

	s.principal = principal
	s.role = role
	s.jobs = nil
	s.applications = nil

	if principal == nil || !role.Valid() {
		s.jobsLoading = false
		s.appsLoading = false
		s.mu.Unlock()
		return
	}

	s.jobsLoading = true
	s.appsLoading = true
	s.mu.Unlock()

	jobsQuery, appsQuery := s.queriesFor(principal, role)

	ctx := context.Background()
	jobsSub, err := s.docs.Subscribe(ctx, jobsQuery)
	if err != nil {
		s.subscribeFailed(docstore.CollectionJobs, gen, err)
		return
	}
	appsSub, err := s.docs.Subscribe(ctx, appsQuery)
	if err != nil {
		jobsSub.Close()
		s.subscribeFailed(docstore.CollectionApplications, gen, err)
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		jobsSub.Close()
		appsSub.Close()
		return
	}
	s.jobsSub = jobsSub
	s.appsSub = appsSub
	s.stop = stop
	s.mu.Unlock()

	metrics.SubscriptionsActive.WithLabelValues(docstore.CollectionJobs).Inc()
	metrics.SubscriptionsActive.WithLabelValues(docstore.CollectionApplications).Inc()

	go s.consumeJobs(jobsSub, stop, gen)
	go s.consumeApplications(appsSub, stop, gen)

	s.logger.Info("collections bound", map[string]interface{}{
		"principalId": principal.ID,
		"role":        string(role),
	})
}

// queriesFor builds the role's scoped queries: employers see their own
// postings and inbound applications, candidates see the active market
// and their own filings.
func (s *Store) queriesFor(principal *auth.Principal, role models.Role) (docstore.Query, docstore.Query) {
	if role == models.RoleEmployer {
		return docstore.Query{
				Collection: docstore.CollectionJobs,
				Filters:    []docstore.Filter{{Field: "employerId", Value: principal.ID}},
				OrderBy:    "postedAt",
				Limit:      s.cfg.EmployerJobsLimit,
			}, docstore.Query{
				Collection: docstore.CollectionApplications,
				Filters:    []docstore.Filter{{Field: "employerId", Value: principal.ID}},
				OrderBy:    "appliedAt",
				Limit:      s.cfg.EmployerApplicationsLimit,
			}
	}
	return docstore.Query{
			Collection: docstore.CollectionJobs,
			Filters:    []docstore.Filter{{Field: "status", Value: string(models.JobStatusActive)}},
			OrderBy:    "postedAt",
			Limit:      s.cfg.CandidateJobsLimit,
		}, docstore.Query{
			Collection: docstore.CollectionApplications,
			Filters:    []docstore.Filter{{Field: "candidateId", Value: principal.ID}},
			OrderBy:    "appliedAt",
			Limit:      s.cfg.CandidateApplicationsLimit,
		}
}

func (s *Store) teardownLocked() {
	if s.jobsSub != nil {
		s.jobsSub.Close()
		s.jobsSub = nil
		metrics.SubscriptionsActive.WithLabelValues(docstore.CollectionJobs).Dec()
	}
	if s.appsSub != nil {
		s.appsSub.Close()
		s.appsSub = nil
		metrics.SubscriptionsActive.WithLabelValues(docstore.CollectionApplications).Dec()
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Store) subscribeFailed(collection string, gen int, err error) {
	s.logger.Error("subscription failed", map[string]interface{}{
		"collection": collection,
		"error":      err.Error(),
	})
	s.mu.Lock()
	stale := s.generation != gen
	if !stale {
		s.jobsLoading = false
		s.appsLoading = false
	}
	s.mu.Unlock()
	if stale {
		// A newer rebind already superseded this one; the user never
		// sees a banner for a scope that no longer exists.
		return
	}
	s.notifier.Error("Sync unavailable", "Live updates are temporarily unavailable")
}

func (s *Store) consumeJobs(sub *docstore.Subscription, stop chan struct{}, gen int) {
	for {
		select {
		case <-stop:
			return
		case snap := <-sub.Updates():
			metrics.SnapshotsEmitted.WithLabelValues(docstore.CollectionJobs).Inc()
			jobs := make([]models.Job, 0, len(snap))
			for _, e := range snap {
				jobs = append(jobs, models.JobFromDocument(e.ID, e.Data))
			}
			s.mu.Lock()
			if s.generation == gen {
				s.jobs = jobs
				s.jobsLoading = false
			}
			s.mu.Unlock()
		case err := <-sub.Err():
			s.listenerFailed(docstore.CollectionJobs, gen, err)
			return
		}
	}
}

func (s *Store) consumeApplications(sub *docstore.Subscription, stop chan struct{}, gen int) {
	for {
		select {
		case <-stop:
			return
		case snap := <-sub.Updates():
			metrics.SnapshotsEmitted.WithLabelValues(docstore.CollectionApplications).Inc()
			apps := make([]models.Application, 0, len(snap))
			for _, e := range snap {
				apps = append(apps, models.ApplicationFromDocument(e.ID, e.Data))
			}
			s.mu.Lock()
			if s.generation == gen {
				s.applications = apps
				s.appsLoading = false
			}
			s.mu.Unlock()
		case err := <-sub.Err():
			s.listenerFailed(docstore.CollectionApplications, gen, err)
			return
		}
	}
}

// listenerFailed handles a terminal subscription error: the collection
// is emptied rather than left stale, and the failure is surfaced once.
func (s *Store) listenerFailed(collection string, gen int, err error) {
	derr := errors.NewListenerFailedError(collection, err)
	s.logger.Error("listener failed", map[string]interface{}{
		"collection": collection,
		"error":      err.Error(),
	})

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	switch collection {
	case docstore.CollectionJobs:
		s.jobs = nil
		s.jobsLoading = false
	case docstore.CollectionApplications:
		s.applications = nil
		s.appsLoading = false
	}
	s.mu.Unlock()

	s.notifier.Error("Sync interrupted", derr.Message)
}

// ==========================
// Mutations
// ==========================

// CreateJob posts a new job owned by the bound employer.
func (s *Store) CreateJob(ctx context.Context, input JobInput) (string, error) {
	start := time.Now()
	id, err := s.createJob(ctx, input)
	s.observe(ctx, "createJob", start, err)
	if err != nil {
		s.notifier.Error("Job posting failed", userMessage(err))
		return "", err
	}
	s.notifier.Success("Job posted", input.Title+" is now live")
	return id, nil
}

func (s *Store) createJob(ctx context.Context, input JobInput) (string, error) {
	principal, role := s.identity()
	if principal == nil || role != models.RoleEmployer {
		return "", errors.NewPermissionDeniedError("createJob", string(role))
	}

	payload := map[string]interface{}{
		"title":       input.Title,
		"company":     input.Company,
		"location":    input.Location,
		"type":        input.Type,
		"description": input.Description,
	}
	if input.Salary != "" {
		payload["salary"] = input.Salary
	}
	if input.Requirements != nil {
		payload["requirements"] = input.Requirements
	}
	result, err := s.jobValidator.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return "", errors.NewValidationFailedError(err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return "", errors.NewValidationFailedError(strings.Join(details, "; "))
	}

	reqs := input.Requirements
	if reqs == nil {
		reqs = []string{}
	}
	id := uuid.New().String()
	doc := docstore.Document{
		"title":        input.Title,
		"company":      input.Company,
		"location":     input.Location,
		"salary":       input.Salary,
		"type":         input.Type,
		"description":  input.Description,
		"requirements": reqs,
		"employerId":   principal.ID,
		"status":       string(models.JobStatusActive),
		"applicants":   0,
		"views":        0,
		"postedAt":     docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	}
	if err := s.docs.Create(ctx, docstore.CollectionJobs, id, doc); err != nil {
		return "", errors.NewStoreUnavailableError(err)
	}

	s.logger.Info("job created", map[string]interface{}{
		"jobId":      id,
		"employerId": principal.ID,
	})
	return id, nil
}

// UpdateJob merges partial fields into an owned posting. Status writes
// go through the lifecycle graph; a locally closed posting rejects any
// further status change.
func (s *Store) UpdateJob(ctx context.Context, jobID string, updates map[string]interface{}) error {
	start := time.Now()
	err := s.updateJob(ctx, jobID, updates)
	s.observe(ctx, "updateJob", start, err)
	if err != nil {
		s.notifier.Error("Job update failed", userMessage(err))
		return err
	}
	s.notifier.Success("Job updated", "Your changes are live")
	return nil
}

func (s *Store) updateJob(ctx context.Context, jobID string, updates map[string]interface{}) error {
	principal, role := s.identity()
	if principal == nil || role != models.RoleEmployer {
		return errors.NewPermissionDeniedError("updateJob", string(role))
	}

	job, ok := s.jobByID(jobID)
	if !ok {
		return errors.NewNotFoundError("job", jobID)
	}
	if job.EmployerID != principal.ID {
		return errors.NewPermissionDeniedError("updateJob", string(role))
	}

	if raw, ok := updates["status"]; ok {
		next := models.JobStatus(docStringValue(raw))
		if !next.Valid() {
			return errors.NewValidationFailedError("unknown job status: " + docStringValue(raw))
		}
		// Closed is terminal: no status write is accepted on it, not
		// even a same-status no-op.
		if job.Status == models.JobStatusClosed || (next != job.Status && !job.Status.CanTransition(next)) {
			return errors.NewInvalidTransitionError(string(job.Status), string(next))
		}
	}

	doc := docstore.Document{}
	for k, v := range updates {
		doc[k] = v
	}
	doc["updatedAt"] = docstore.ServerTimestamp

	if err := s.docs.Set(ctx, docstore.CollectionJobs, jobID, doc, true); err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	return nil
}

// DeleteJob removes an owned posting. Applications against it are
// cascade-deleted only when configured; by default they survive as
// historical records.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	start := time.Now()
	err := s.deleteJob(ctx, jobID)
	s.observe(ctx, "deleteJob", start, err)
	if err != nil {
		s.notifier.Error("Job deletion failed", userMessage(err))
		return err
	}
	s.notifier.Success("Job deleted", "The posting has been removed")
	return nil
}

func (s *Store) deleteJob(ctx context.Context, jobID string) error {
	principal, role := s.identity()
	if principal == nil || role != models.RoleEmployer {
		return errors.NewPermissionDeniedError("deleteJob", string(role))
	}

	job, ok := s.jobByID(jobID)
	if !ok {
		return errors.NewNotFoundError("job", jobID)
	}
	if job.EmployerID != principal.ID {
		return errors.NewPermissionDeniedError("deleteJob", string(role))
	}

	if err := s.docs.Delete(ctx, docstore.CollectionJobs, jobID); err != nil {
		return errors.NewStoreUnavailableError(err)
	}

	if s.cfg.CascadeDeleteApplications {
		for _, app := range s.Applications() {
			if app.JobID != jobID {
				continue
			}
			if err := s.docs.Delete(ctx, docstore.CollectionApplications, app.ID); err != nil {
				s.logger.Warn("cascade delete failed", map[string]interface{}{
					"jobId":         jobID,
					"applicationId": app.ID,
					"error":         err.Error(),
				})
			}
		}
	}
	return nil
}

// ApplyToJob files the bound candidate's application. The document id
// is derived from (candidate, job), and the create is atomic: two
// racing applies converge on a single application, with the loser
// surfacing AlreadyApplied.
func (s *Store) ApplyToJob(ctx context.Context, jobID string) error {
	start := time.Now()
	err := s.applyToJob(ctx, jobID)
	s.observe(ctx, "applyToJob", start, err)
	if err != nil {
		s.notifier.Error("Application failed", userMessage(err))
		return err
	}
	s.notifier.Success("Application submitted", "The employer has received your application")
	return nil
}

func (s *Store) applyToJob(ctx context.Context, jobID string) error {
	principal, role := s.identity()
	if principal == nil || role != models.RoleCandidate {
		return errors.NewPermissionDeniedError("applyToJob", string(role))
	}
	profile := s.session.Profile()
	if profile == nil {
		return errors.NewPermissionDeniedError("applyToJob", string(role))
	}

	for _, app := range s.Applications() {
		if app.JobID == jobID {
			return errors.NewAlreadyAppliedError(principal.ID, jobID)
		}
	}

	job, ok := s.jobByID(jobID)
	if !ok {
		return errors.NewNotFoundError("job", jobID)
	}

	id := models.ApplicationKey(principal.ID, jobID)
	doc := docstore.Document{
		"jobId":          jobID,
		"candidateId":    principal.ID,
		"candidateName":  profile.Name,
		"candidateEmail": profile.Email,
		"employerId":     job.EmployerID,
		"status":         string(models.ApplicationStatusPending),
		"statusMessage":  "",
		"appliedAt":      docstore.ServerTimestamp,
		"jobTitle":       job.Title,
		"company":        job.Company,
	}
	if err := s.docs.Create(ctx, docstore.CollectionApplications, id, doc); err != nil {
		if stderrors.Is(err, docstore.ErrExists) {
			return errors.NewAlreadyAppliedError(principal.ID, jobID)
		}
		return errors.NewStoreUnavailableError(err)
	}

	// The application stands even if the counter bump fails; the count
	// is advisory.
	if err := s.docs.Increment(ctx, docstore.CollectionJobs, jobID, "applicants", 1); err != nil {
		s.logger.Warn("applicant counter update failed", map[string]interface{}{
			"jobId": jobID,
			"error": err.Error(),
		})
	}

	s.logger.Info("application filed", map[string]interface{}{
		"jobId":       jobID,
		"candidateId": principal.ID,
	})
	return nil
}

// UpdateApplicationStatus advances an inbound application along its
// progression graph.
func (s *Store) UpdateApplicationStatus(ctx context.Context, applicationID string, status models.ApplicationStatus, statusMessage string) error {
	start := time.Now()
	err := s.updateApplicationStatus(ctx, applicationID, status, statusMessage)
	s.observe(ctx, "updateApplicationStatus", start, err)
	if err != nil {
		s.notifier.Error("Status update failed", userMessage(err))
		return err
	}
	s.notifier.Success("Status updated", "The candidate will see the change")
	return nil
}

func (s *Store) updateApplicationStatus(ctx context.Context, applicationID string, status models.ApplicationStatus, statusMessage string) error {
	principal, role := s.identity()
	if principal == nil || role != models.RoleEmployer {
		return errors.NewPermissionDeniedError("updateApplicationStatus", string(role))
	}
	if !status.Valid() {
		return errors.NewValidationFailedError("unknown application status: " + string(status))
	}

	app, ok := s.applicationByID(applicationID)
	if !ok {
		return errors.NewNotFoundError("application", applicationID)
	}
	if app.EmployerID != principal.ID {
		return errors.NewPermissionDeniedError("updateApplicationStatus", string(role))
	}
	if !app.Status.CanTransition(status) {
		return errors.NewInvalidTransitionError(string(app.Status), string(status))
	}

	doc := docstore.Document{"status": string(status)}
	if statusMessage != "" {
		doc["statusMessage"] = statusMessage
	}
	if err := s.docs.Set(ctx, docstore.CollectionApplications, applicationID, doc, true); err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	return nil
}

// IncrementJobViews bumps a posting's view counter. Best effort: a
// failure is logged, never surfaced.
func (s *Store) IncrementJobViews(ctx context.Context, jobID string) {
	start := time.Now()
	err := s.docs.Increment(ctx, docstore.CollectionJobs, jobID, "views", 1)
	s.observe(ctx, "incrementJobViews", start, err)
	if err != nil {
		s.logger.Warn("view counter update failed", map[string]interface{}{
			"jobId": jobID,
			"error": err.Error(),
		})
	}
}

// ==========================
// Internals
// ==========================

func (s *Store) identity() (*auth.Principal, models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal, s.role
}

func (s *Store) jobByID(id string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return models.Job{}, false
}

func (s *Store) applicationByID(id string) (models.Application, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.applications {
		if a.ID == id {
			return a, true
		}
	}
	return models.Application{}, false
}

func (s *Store) observe(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)
	metrics.MutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if s.obs != nil {
		s.obs.RecordMutationDuration(ctx, operation, duration)
	}
	if err != nil {
		metrics.MutationsFailed.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
		if s.obs != nil {
			s.obs.RecordMutation(ctx, operation, "failed")
		}
		return
	}
	metrics.MutationsCompleted.WithLabelValues(operation).Inc()
	if s.obs != nil {
		s.obs.RecordMutation(ctx, operation, "completed")
	}
}

// userMessage extracts the human-facing message for the notification
// center.
func userMessage(err error) string {
	var derr *errors.DomainError
	if stderrors.As(err, &derr) {
		return derr.Message
	}
	return "Something went wrong, please try again"
}

func docStringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
