// internal/models/application.go
package models

import "time"

// ApplicationStatus is the progression state of a filed application.
type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusViewed    ApplicationStatus = "viewed"
	ApplicationStatusInterview ApplicationStatus = "interview"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusHired     ApplicationStatus = "hired"
)

func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusViewed,
		ApplicationStatusInterview, ApplicationStatusRejected, ApplicationStatusHired:
		return true
	}
	return false
}

// applicationTransitions is the forward-only progression graph. Nothing
// ever resets to pending; rejected and hired are terminal.
var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusPending:   {ApplicationStatusViewed, ApplicationStatusRejected},
	ApplicationStatusViewed:    {ApplicationStatusInterview, ApplicationStatusRejected},
	ApplicationStatusInterview: {ApplicationStatusHired, ApplicationStatusRejected},
	ApplicationStatusRejected:  {},
	ApplicationStatusHired:     {},
}

func (s ApplicationStatus) CanTransition(to ApplicationStatus) bool {
	for _, next := range applicationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Application is a candidate's filing against a job. Candidate name/email
// and job title/company are snapshots taken at apply time and are
// intentionally never re-synced with their sources.
type Application struct {
	ID             string            `json:"id"`
	JobID          string            `json:"jobId"`
	CandidateID    string            `json:"candidateId"`
	CandidateName  string            `json:"candidateName"`
	CandidateEmail string            `json:"candidateEmail"`
	EmployerID     string            `json:"employerId"`
	Status         ApplicationStatus `json:"status"`
	StatusMessage  string            `json:"statusMessage,omitempty"`
	AppliedAt      time.Time         `json:"appliedAt"`
	JobTitle       string            `json:"jobTitle"`
	Company        string            `json:"company"`
}

// ApplicationKey derives the document id for an application. One id per
// (candidate, job) pair makes the create race-proof: the second writer
// collides instead of duplicating.
func ApplicationKey(candidateID, jobID string) string {
	return candidateID + ":" + jobID
}

func (a *Application) Document() map[string]interface{} {
	return map[string]interface{}{
		"jobId":          a.JobID,
		"candidateId":    a.CandidateID,
		"candidateName":  a.CandidateName,
		"candidateEmail": a.CandidateEmail,
		"employerId":     a.EmployerID,
		"status":         string(a.Status),
		"statusMessage":  a.StatusMessage,
		"appliedAt":      TimeToMillis(a.AppliedAt),
		"jobTitle":       a.JobTitle,
		"company":        a.Company,
	}
}

func ApplicationFromDocument(id string, doc map[string]interface{}) Application {
	return Application{
		ID:             id,
		JobID:          docString(doc, "jobId"),
		CandidateID:    docString(doc, "candidateId"),
		CandidateName:  docString(doc, "candidateName"),
		CandidateEmail: docString(doc, "candidateEmail"),
		EmployerID:     docString(doc, "employerId"),
		Status:         ApplicationStatus(docString(doc, "status")),
		StatusMessage:  docString(doc, "statusMessage"),
		AppliedAt:      docTime(doc, "appliedAt"),
		JobTitle:       docString(doc, "jobTitle"),
		Company:        docString(doc, "company"),
	}
}
