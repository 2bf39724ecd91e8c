// internal/models/job.go
package models

import "time"

// JobStatus is the lifecycle state of a posting.
type JobStatus string

const (
	JobStatusActive JobStatus = "active"
	JobStatusPaused JobStatus = "paused"
	JobStatusClosed JobStatus = "closed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusActive, JobStatusPaused, JobStatusClosed:
		return true
	}
	return false
}

// jobTransitions is the allowed lifecycle graph. Closed is terminal:
// there is no client path that reopens a closed posting.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusActive: {JobStatusPaused, JobStatusClosed},
	JobStatusPaused: {JobStatusActive, JobStatusClosed},
	JobStatusClosed: {},
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is a posting owned by the employer identity that created it.
type Job struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location"`
	Salary       string    `json:"salary,omitempty"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	Requirements []string  `json:"requirements"`
	EmployerID   string    `json:"employerId"`
	Status       JobStatus `json:"status"`
	Applicants   int       `json:"applicants"`
	Views        int       `json:"views"`
	PostedAt     time.Time `json:"postedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (j *Job) Document() map[string]interface{} {
	reqs := j.Requirements
	if reqs == nil {
		reqs = []string{}
	}
	return map[string]interface{}{
		"title":        j.Title,
		"company":      j.Company,
		"location":     j.Location,
		"salary":       j.Salary,
		"type":         j.Type,
		"description":  j.Description,
		"requirements": reqs,
		"employerId":   j.EmployerID,
		"status":       string(j.Status),
		"applicants":   j.Applicants,
		"views":        j.Views,
		"postedAt":     TimeToMillis(j.PostedAt),
		"updatedAt":    TimeToMillis(j.UpdatedAt),
	}
}

func JobFromDocument(id string, doc map[string]interface{}) Job {
	return Job{
		ID:           id,
		Title:        docString(doc, "title"),
		Company:      docString(doc, "company"),
		Location:     docString(doc, "location"),
		Salary:       docString(doc, "salary"),
		Type:         docString(doc, "type"),
		Description:  docString(doc, "description"),
		Requirements: docStrings(doc, "requirements"),
		EmployerID:   docString(doc, "employerId"),
		Status:       JobStatus(docString(doc, "status")),
		Applicants:   docInt(doc, "applicants"),
		Views:        docInt(doc, "views"),
		PostedAt:     docTime(doc, "postedAt"),
		UpdatedAt:    docTime(doc, "updatedAt"),
	}
}
