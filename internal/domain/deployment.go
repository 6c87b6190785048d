package domain

import "time"

// Deployment is an immutable snapshot of a project's graph taken when a start was accepted.
type Deployment struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deploymentId"`
	ProjectID    string          `json:"projectId"`
	CreatedBy    string          `json:"createdBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Components   []ComponentInfo `json:"components"`
}

// ComponentInfo is a snapshot node.
type ComponentInfo struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        ComponentType    `json:"type"`
	Subtype     string           `json:"subtype"`
	Children    []ComponentInfo  `json:"children"`
	Connections []ConnectionInfo `json:"connections"`
	SettingJSON string           `json:"settingJson"`
}

// ConnectionInfo is a snapshot edge.
type ConnectionInfo struct {
	ID              string         `json:"id"`
	FromComponentID string         `json:"fromComponentId"`
	ToComponentID   string         `json:"toComponentId"`
	Type            ConnectionType `json:"type"`
	FromPort        int            `json:"fromPort"`
	ToPort          int            `json:"toPort"`
}
