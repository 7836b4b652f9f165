package flow

import (
	"context"
	"time"
)

// collectOrphans returns the ids of nodes that cannot be reached from headID
// by following next edges. Edges to ids outside nodes are ignored, so the
// walk tolerates cycles and dangling targets.
func collectOrphans(nodes []Node, headID string) []string {
	nodeMap := make(map[string]*Node, len(nodes))
	for i := range nodes {
		nodeMap[nodes[i].ID] = &nodes[i]
	}

	visited := make(map[string]bool, len(nodes))
	if _, ok := nodeMap[headID]; ok {
		visited[headID] = true
		queue := []string{headID}
		for len(queue) > 0 {
			current := nodeMap[queue[0]]
			queue = queue[1:]
			for _, conn := range current.Connections {
				if conn.Type != EdgeNext || visited[conn.NodeID] {
					continue
				}
				if _, ok := nodeMap[conn.NodeID]; !ok {
					continue
				}
				visited[conn.NodeID] = true
				queue = append(queue, conn.NodeID)
			}
		}
	}

	var orphans []string
	for _, n := range nodes {
		if !visited[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	return orphans
}

// stripConnections removes edges pointing at any id in removed and reports
// whether the node changed.
func stripConnections(n *Node, removed map[string]bool) bool {
	kept := n.Connections[:0]
	for _, conn := range n.Connections {
		if !removed[conn.NodeID] {
			kept = append(kept, conn)
		}
	}
	changed := len(kept) != len(n.Connections)
	n.Connections = kept
	return changed
}

// sweepGraph deletes the nodes in doomed together with everything that
// becomes unreachable from the head once they are gone, strips edges into
// removed nodes from the survivors and rewrites the flow's membership list.
// doomed is extended in place with the collected orphans.
func sweepGraph(ctx context.Context, tx Tx, f *Flow, doomed map[string]bool, now time.Time) error {
	nodes, err := tx.ListNodes(ctx, f.ID)
	if err != nil {
		return err
	}

	live := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if doomed[n.ID] {
			continue
		}
		n.Connections = append([]Connection(nil), n.Connections...)
		stripConnections(&n, doomed)
		live = append(live, n)
	}
	for _, id := range collectOrphans(live, f.HeadNode) {
		doomed[id] = true
	}

	survivors := make(map[string]bool, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if doomed[n.ID] {
			if err := tx.DeleteNode(ctx, f.ID, n.ID); err != nil {
				return err
			}
			continue
		}
		survivors[n.ID] = true
		wasEnd := n.IsEndNode
		if stripConnections(n, doomed) || wasEnd != !hasNextConnection(n.Connections) {
			n.refreshEndNode()
			n.UpdatedAt = now
			if err := tx.UpdateNode(ctx, n); err != nil {
				return err
			}
		}
	}

	f.Nodes = membership(f.Nodes, nodes, survivors)
	f.UpdatedAt = now
	return tx.UpdateFlow(ctx, f)
}

// membership keeps the existing order of the flow's node list and appends
// surviving nodes it did not list yet.
func membership(current []string, nodes []Node, survivors map[string]bool) []string {
	out := make([]string, 0, len(survivors))
	seen := make(map[string]bool, len(survivors))
	for _, id := range current {
		if survivors[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, n := range nodes {
		if survivors[n.ID] && !seen[n.ID] {
			out = append(out, n.ID)
			seen[n.ID] = true
		}
	}
	return out
}
