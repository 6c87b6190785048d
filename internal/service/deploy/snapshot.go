package deploy

import (
	"fmt"
	"time"

	"github.com/splax/pado/internal/domain"
)

// SnapshotMeta identifies a snapshot being built.
type SnapshotMeta struct {
	ID           string
	DeploymentID string
	ProjectID    string
	CreatedBy    string
	CreatedAt    time.Time
}

// BuildSnapshot copies the graph into an immutable Deployment. Roots come
// first in graph order; every node carries its children, its outgoing
// connections and its latest setting. A component without a setting fails
// the whole snapshot.
func BuildSnapshot(g *domain.Graph, settings map[string]domain.ComponentSetting, meta SnapshotMeta) (*domain.Deployment, error) {
	seen := make(map[string]struct{}, g.Len())

	var build func(id string) (domain.ComponentInfo, error)
	build = func(id string) (domain.ComponentInfo, error) {
		c, _ := g.Component(id)
		setting, ok := settings[id]
		if !ok {
			return domain.ComponentInfo{}, fmt.Errorf("component %s (%s): %w", c.Name, c.ID, domain.ErrComponentSettingNotFound)
		}
		info := domain.ComponentInfo{
			ID:          c.ID,
			Name:        c.Name,
			Type:        c.Type,
			Subtype:     c.Subtype,
			Children:    make([]domain.ComponentInfo, 0),
			Connections: make([]domain.ConnectionInfo, 0),
			SettingJSON: setting.Value,
		}
		for _, conn := range g.Outgoing(id) {
			info.Connections = append(info.Connections, domain.ConnectionInfo{
				ID:              conn.ID,
				FromComponentID: conn.FromComponentID,
				ToComponentID:   conn.ToComponentID,
				Type:            conn.Type,
				FromPort:        conn.FromPort,
				ToPort:          conn.ToPort,
			})
		}
		for _, childID := range g.ChildIDs(id) {
			if _, dup := seen[childID]; dup {
				continue
			}
			seen[childID] = struct{}{}
			child, err := build(childID)
			if err != nil {
				return domain.ComponentInfo{}, err
			}
			info.Children = append(info.Children, child)
		}
		return info, nil
	}

	deployment := &domain.Deployment{
		ID:           meta.ID,
		DeploymentID: meta.DeploymentID,
		ProjectID:    meta.ProjectID,
		CreatedBy:    meta.CreatedBy,
		CreatedAt:    meta.CreatedAt,
		Components:   make([]domain.ComponentInfo, 0),
	}
	for _, id := range g.RootIDs() {
		seen[id] = struct{}{}
		info, err := build(id)
		if err != nil {
			return nil, err
		}
		deployment.Components = append(deployment.Components, info)
	}
	return deployment, nil
}
