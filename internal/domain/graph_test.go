package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewGraphIndexesRootsChildrenAndConnections(t *testing.T) {
	components := []Component{
		{ID: "a", Type: ComponentResource, Subtype: "EC2"},
		{ID: "b", ParentID: "a", Type: ComponentService, Subtype: "SPRING"},
		{ID: "c", ParentID: "a", Type: ComponentService, Subtype: "REACT"},
		{ID: "d", Type: ComponentResource, Subtype: "RDS"},
	}
	connections := []Connection{
		{ID: "c1", FromComponentID: "b", ToComponentID: "d"},
		{ID: "c2", FromComponentID: "a", ToComponentID: "b"},
		{ID: "ghost", FromComponentID: "missing", ToComponentID: "a"},
	}

	g := NewGraph(components, connections)

	if g.Len() != 4 {
		t.Fatalf("expected 4 components, got %d", g.Len())
	}
	if got := g.RootIDs(); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("unexpected roots %v", got)
	}
	if got := g.ChildIDs("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("unexpected children %v", got)
	}
	if got := g.Outgoing("b"); len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("unexpected outgoing for b: %v", got)
	}
	if got := g.Outgoing("missing"); len(got) != 0 {
		t.Fatalf("expected dangling connection to be dropped, got %v", got)
	}
	if components[0].ChildIDs != nil {
		t.Fatal("input slice must not be mutated")
	}
}

func TestNewGraphTreatsOrphansAndSelfParentsAsRoots(t *testing.T) {
	g := NewGraph([]Component{
		{ID: "root"},
		{ID: "child", ParentID: "root"},
		{ID: "orphan", ParentID: "gone"},
		{ID: "self", ParentID: "self"},
	}, nil)

	if got := g.RootIDs(); !reflect.DeepEqual(got, []string{"root", "orphan", "self"}) {
		t.Fatalf("unexpected roots %v", got)
	}
	if got := g.ChildIDs("self"); len(got) != 0 {
		t.Fatalf("self-parented component must not be its own child, got %v", got)
	}
	if _, ok := g.Component("gone"); ok {
		t.Fatal("unknown ids must not resolve")
	}
}

func TestCatalogEntryValidateParent(t *testing.T) {
	entry := CatalogEntry{ResourceType: "EC2", ServiceType: "SPRING"}
	if err := entry.ValidateParent(Component{ID: "p", Type: ComponentResource, Subtype: "EC2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := entry.ValidateParent(Component{ID: "p", Type: ComponentResource, Subtype: "S3"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected subtype mismatch, got %v", err)
	}
	if err := entry.ValidateParent(Component{ID: "p", Type: ComponentService, Subtype: "EC2"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected service parent rejection, got %v", err)
	}
}

func TestParseConnectionTypeDefaultsToTCP(t *testing.T) {
	got, err := ParseConnectionType(" ")
	if err != nil || got != ConnectionTCP {
		t.Fatalf("expected TCP default, got %q %v", got, err)
	}
	got, err = ParseConnectionType("udp")
	if err != nil || got != ConnectionUDP {
		t.Fatalf("expected UDP, got %q %v", got, err)
	}
	if _, err := ParseConnectionType("SCTP"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
