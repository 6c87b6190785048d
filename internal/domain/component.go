package domain

import (
	"fmt"
	"time"
)

// ComponentType distinguishes infrastructure nodes from the services they host.
type ComponentType string

const (
	ComponentResource ComponentType = "RESOURCE"
	ComponentService  ComponentType = "SERVICE"
)

// Component is a node of a project's resource graph. Parent and children are ids
// into the owning Graph; an empty ParentID marks a root.
type Component struct {
	ID               string           `json:"id"`
	ProjectID        string           `json:"projectId"`
	ParentID         string           `json:"parentId,omitempty"`
	ChildIDs         []string         `json:"-"`
	Name             string           `json:"name"`
	Type             ComponentType    `json:"type"`
	Subtype          string           `json:"subtype"`
	Thumbnail        string           `json:"thumbnail,omitempty"`
	Version          int64            `json:"version"`
	DeploymentStatus DeploymentStatus `json:"deploymentStatus"`
	RunningStatus    RunningStatus    `json:"runningStatus"`
	DeployStartedAt  *time.Time       `json:"deployStartTime,omitempty"`
	DeployEndedAt    *time.Time       `json:"deployEndTime,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// IsRoot reports whether the component has no parent.
func (c Component) IsRoot() bool {
	return c.ParentID == ""
}

// ComponentSetting is one version of a component's configuration payload.
type ComponentSetting struct {
	ID          int64     `json:"id"`
	ComponentID string    `json:"componentId"`
	Version     int64     `json:"version"`
	Subtype     string    `json:"subtype"`
	Port        int       `json:"port"`
	Value       string    `json:"settingJson"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DefaultSetting seeds the first setting of a newly created component.
type DefaultSetting struct {
	Subtype string
	Port    int
	Value   string
}

// CatalogEntry pairs a resource subtype with a service subtype it can host.
type CatalogEntry struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ResourceThumbnail string `json:"resourceThumbnail,omitempty"`
	ServiceThumbnail  string `json:"serviceThumbnail,omitempty"`
	ResourceType      string `json:"resourceType"`
	ServiceType       string `json:"serviceType"`
}

// ValidateParent checks that parent may host a service created from entry.
func (e CatalogEntry) ValidateParent(parent Component) error {
	if parent.Type != ComponentResource {
		return fmt.Errorf("parent %s is a %s component: %w", parent.ID, parent.Type, ErrInvalidArgument)
	}
	if parent.Subtype != e.ResourceType {
		return fmt.Errorf("parent subtype %s does not match %s: %w", parent.Subtype, e.ResourceType, ErrInvalidArgument)
	}
	return nil
}
