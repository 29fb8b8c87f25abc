package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Revision is a value of the logical clock. Every mutation of evidence, review
// state, tasks and policies is stamped with a fresh revision.
type Revision int64

// RevisionLatest reads the live state.
const RevisionLatest Revision = math.MaxInt64

// Organization represents a tenant in the multi-tenant system
type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"` // URL-friendly identifier
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Organization model
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates a new Organization instance
func NewOrganization(name, slug string) *Organization {
	now := time.Now().UTC()
	return &Organization{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Framework is a compliance framework from the global catalog (SOC 2, ISO 27001, GDPR).
type Framework struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Version     string    `json:"version" db:"version"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Framework model
func (Framework) TableName() string {
	return "frameworks"
}

// FrameworkID derives a stable id from the framework name so that every
// replica seeding the catalog agrees on it.
func FrameworkID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("framework:"+name))
}

// NewFramework creates a new Framework instance
func NewFramework(name, version, description string) *Framework {
	return &Framework{
		ID:          FrameworkID(name),
		Name:        name,
		Version:     version,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}
