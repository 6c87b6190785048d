package domain

import (
	"strings"
	"time"
)

// Caller identifies the authenticated user acting on a request.
type Caller struct {
	UserID string
}

// Valid reports whether the caller carries an identity.
func (c Caller) Valid() bool {
	return strings.TrimSpace(c.UserID) != ""
}

// Project owns a graph of components and its deployment lifecycle.
type Project struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Thumbnail        string           `json:"thumbnail,omitempty"`
	DeploymentStatus DeploymentStatus `json:"deploymentStatus"`
	RunningStatus    RunningStatus    `json:"runningStatus"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ProjectEvent records a lifecycle change on a project.
type ProjectEvent struct {
	ID           int64            `json:"id"`
	ProjectID    string           `json:"projectId"`
	DeploymentID string           `json:"deploymentId,omitempty"`
	Kind         string           `json:"kind"`
	Status       DeploymentStatus `json:"status"`
	Message      string           `json:"message"`
	Actor        string           `json:"actor"`
	Metadata     []byte           `json:"-"`
	CreatedAt    time.Time        `json:"createdAt"`
}
