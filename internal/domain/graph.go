package domain

// Graph is an id-keyed arena of a project's components and connections.
type Graph struct {
	order    []string
	nodes    map[string]*Component
	roots    []string
	outgoing map[string][]Connection
}

// NewGraph indexes components and connections. Input order is preserved for
// roots, children and outgoing connections.
func NewGraph(components []Component, connections []Connection) *Graph {
	g := &Graph{
		order:    make([]string, 0, len(components)),
		nodes:    make(map[string]*Component, len(components)),
		outgoing: make(map[string][]Connection),
	}
	for i := range components {
		c := components[i]
		c.ChildIDs = nil
		g.nodes[c.ID] = &c
		g.order = append(g.order, c.ID)
	}
	for _, id := range g.order {
		node := g.nodes[id]
		parent, ok := g.nodes[node.ParentID]
		if node.IsRoot() || !ok || parent.ID == node.ID {
			g.roots = append(g.roots, id)
			continue
		}
		parent.ChildIDs = append(parent.ChildIDs, id)
	}
	for _, conn := range connections {
		if _, ok := g.nodes[conn.FromComponentID]; !ok {
			continue
		}
		g.outgoing[conn.FromComponentID] = append(g.outgoing[conn.FromComponentID], conn)
	}
	return g
}

// Len returns the number of components.
func (g *Graph) Len() int {
	return len(g.order)
}

// Component returns the component with the given id.
func (g *Graph) Component(id string) (Component, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return Component{}, false
	}
	return *node, true
}

// RootIDs returns the ids of components without a parent.
func (g *Graph) RootIDs() []string {
	return append([]string(nil), g.roots...)
}

// ChildIDs returns the direct children of id.
func (g *Graph) ChildIDs(id string) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), node.ChildIDs...)
}

// Outgoing returns connections whose source is id.
func (g *Graph) Outgoing(id string) []Connection {
	return append([]Connection(nil), g.outgoing[id]...)
}
