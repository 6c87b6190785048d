package deploy

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/splax/pado/internal/domain"
)

func sampleGraph() (*domain.Graph, map[string]domain.ComponentSetting) {
	components := []domain.Component{
		{ID: "ec2", Name: "ec2-1", Type: domain.ComponentResource, Subtype: "EC2"},
		{ID: "rds", Name: "rds-1", Type: domain.ComponentResource, Subtype: "RDS"},
		{ID: "api", ParentID: "ec2", Name: "spring-1", Type: domain.ComponentService, Subtype: "SPRING"},
		{ID: "db", ParentID: "rds", Name: "mysql-1", Type: domain.ComponentService, Subtype: "MYSQL"},
	}
	connections := []domain.Connection{
		{ID: "c1", FromComponentID: "api", ToComponentID: "db", Type: domain.ConnectionTCP, FromPort: 8080, ToPort: 3306},
	}
	settings := map[string]domain.ComponentSetting{
		"ec2": {ComponentID: "ec2", Value: `{"instanceType":"t3.micro"}`},
		"rds": {ComponentID: "rds", Value: `{"storageGb":20}`},
		"api": {ComponentID: "api", Value: `{"profile":"prod"}`},
		"db":  {ComponentID: "db", Value: `{"database":"app"}`},
	}
	return domain.NewGraph(components, connections), settings
}

func TestBuildSnapshotNestsChildren(t *testing.T) {
	g, settings := sampleGraph()
	snapshot, err := BuildSnapshot(g, settings, SnapshotMeta{ID: "s1", DeploymentID: "d1", ProjectID: "p1", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	if len(snapshot.Components) != 2 {
		t.Fatalf("expected two roots, got %d", len(snapshot.Components))
	}
	ec2 := snapshot.Components[0]
	if ec2.ID != "ec2" || len(ec2.Children) != 1 || ec2.Children[0].ID != "api" {
		t.Fatalf("unexpected first root %+v", ec2)
	}
	api := ec2.Children[0]
	if len(api.Connections) != 1 || api.Connections[0].ToComponentID != "db" {
		t.Fatalf("expected the connection on its source, got %+v", api.Connections)
	}
	if api.SettingJSON != `{"profile":"prod"}` {
		t.Fatalf("unexpected setting %q", api.SettingJSON)
	}
	if len(snapshot.Components[1].Children[0].Connections) != 0 {
		t.Fatalf("connections must only appear on their source component")
	}
}

func TestBuildSnapshotIsStable(t *testing.T) {
	g, settings := sampleGraph()
	first, err := BuildSnapshot(g, settings, SnapshotMeta{ID: "s1", DeploymentID: "d1", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := BuildSnapshot(g, settings, SnapshotMeta{ID: "s2", DeploymentID: "d2", CreatedAt: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(first.Components, second.Components) {
		t.Fatalf("component trees differ:\n%+v\n%+v", first.Components, second.Components)
	}
}

func TestBuildSnapshotMissingSetting(t *testing.T) {
	g, settings := sampleGraph()
	delete(settings, "db")
	_, err := BuildSnapshot(g, settings, SnapshotMeta{DeploymentID: "d1"})
	if !errors.Is(err, domain.ErrComponentSettingNotFound) {
		t.Fatalf("expected component setting not found, got %v", err)
	}
}

func TestBuildSnapshotEmptyGraph(t *testing.T) {
	snapshot, err := BuildSnapshot(domain.NewGraph(nil, nil), nil, SnapshotMeta{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	if snapshot.Components == nil || len(snapshot.Components) != 0 {
		t.Fatalf("expected an empty, non-nil component list")
	}
}
