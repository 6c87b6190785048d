package domain

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionType is the transport used between two components.
type ConnectionType string

const (
	ConnectionTCP ConnectionType = "TCP"
	ConnectionUDP ConnectionType = "UDP"
)

// ParseConnectionType normalises a raw type, defaulting to TCP when empty.
func ParseConnectionType(raw string) (ConnectionType, error) {
	switch ConnectionType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ConnectionTCP:
		return ConnectionTCP, nil
	case ConnectionUDP:
		return ConnectionUDP, nil
	}
	return "", fmt.Errorf("unknown connection type %q: %w", raw, ErrInvalidArgument)
}

// Connection is a directed link between two components of the same project.
// Ports are copied from each endpoint's setting when the connection is created.
type Connection struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	FromComponentID string         `json:"fromComponentId"`
	ToComponentID   string         `json:"toComponentId"`
	Type            ConnectionType `json:"type"`
	FromPort        int            `json:"fromPort"`
	ToPort          int            `json:"toPort"`
	CreatedAt       time.Time      `json:"createdAt"`
}
