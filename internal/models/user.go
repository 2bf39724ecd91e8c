package models

import "time"

// Role distinguishes the two account types. It is fixed at registration
// and never changes for the lifetime of the account.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleEmployer  Role = "employer"
)

func (r Role) Valid() bool {
	return r == RoleCandidate || r == RoleEmployer
}

// Profile is the denormalized user document stored under the principal id.
type Profile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            Role      `json:"role"`
	Phone           string    `json:"phone,omitempty"`
	Location        string    `json:"location,omitempty"`
	ProfileComplete bool      `json:"profileComplete"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (p *Profile) Document() map[string]interface{} {
	return map[string]interface{}{
		"id":              p.ID,
		"name":            p.Name,
		"email":           p.Email,
		"role":            string(p.Role),
		"phone":           p.Phone,
		"location":        p.Location,
		"profileComplete": p.ProfileComplete,
		"createdAt":       TimeToMillis(p.CreatedAt),
		"updatedAt":       TimeToMillis(p.UpdatedAt),
	}
}

func ProfileFromDocument(id string, doc map[string]interface{}) Profile {
	return Profile{
		ID:              id,
		Name:            docString(doc, "name"),
		Email:           docString(doc, "email"),
		Role:            Role(docString(doc, "role")),
		Phone:           docString(doc, "phone"),
		Location:        docString(doc, "location"),
		ProfileComplete: docBool(doc, "profileComplete"),
		CreatedAt:       docTime(doc, "createdAt"),
		UpdatedAt:       docTime(doc, "updatedAt"),
	}
}
