// Package inmemory implements graph.Driver with in-process adjacency maps.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
)

type edgeKey struct {
	source string
	target string
	typ    string
}

// Driver implements graph.Driver using in-memory maps.
type Driver struct {
	mu       sync.RWMutex
	entities map[string]*item.Entity
	byName   map[string]string // normalized name -> entity id
	edges    map[edgeKey]graph.Edge
	outgoing map[string][]edgeKey
	incoming map[string][]edgeKey
}

// NewDriver creates a new in-memory graph driver.
func NewDriver() *Driver {
	return &Driver{
		entities: make(map[string]*item.Entity),
		byName:   make(map[string]string),
		edges:    make(map[edgeKey]graph.Edge),
		outgoing: make(map[string][]edgeKey),
		incoming: make(map[string][]edgeKey),
	}
}

// PutEntity upserts an entity node.
func (d *Driver) PutEntity(_ context.Context, e *item.Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *e
	d.entities[e.ID] = &cp
	d.byName[normalizeName(e.Name)] = e.ID
	return nil
}

// GetEntity retrieves an entity by id.
func (d *Driver) GetEntity(_ context.Context, id string) (*item.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entities[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// FindEntity looks an entity up by normalized name.
func (d *Driver) FindEntity(_ context.Context, name string) (*item.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byName[normalizeName(name)]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *d.entities[id]
	return &cp, nil
}

// PutEdge upserts an edge keyed by (source, target, type).
func (d *Driver) PutEdge(_ context.Context, e graph.Edge) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := edgeKey{source: e.SourceID, target: e.TargetID, typ: e.Type}
	if _, exists := d.edges[key]; !exists {
		d.outgoing[e.SourceID] = append(d.outgoing[e.SourceID], key)
		d.incoming[e.TargetID] = append(d.incoming[e.TargetID], key)
	}
	d.edges[key] = e
	return nil
}

// Edges returns all edges touching the node.
func (d *Driver) Edges(_ context.Context, nodeID string, types []string) ([]graph.Edge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Edge
	seen := make(map[edgeKey]bool)
	for _, key := range append(append([]edgeKey(nil), d.outgoing[nodeID]...), d.incoming[nodeID]...) {
		if seen[key] {
			continue
		}
		seen[key] = true
		e := d.edges[key]
		if typeAllowed(e.Type, types) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// Traverse walks breadth-first up to maxHops from the seeds, following
// edges in both directions. Path strength is the product of edge
// strengths; a node reached by several paths keeps its strongest one.
func (d *Driver) Traverse(_ context.Context, seeds []string, maxHops int, types []string) ([]graph.Visit, error) {
	if maxHops <= 0 || len(seeds) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	best := make(map[string]graph.Visit)
	frontier := make(map[string]float64)
	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		frontier[s] = 1.0
		seedSet[s] = true
	}

	for hop := 1; hop <= maxHops; hop++ {
		next := make(map[string]float64)
		for nodeID, pathStrength := range frontier {
			for _, key := range append(append([]edgeKey(nil), d.outgoing[nodeID]...), d.incoming[nodeID]...) {
				e := d.edges[key]
				if !typeAllowed(e.Type, types) {
					continue
				}

				neighbor := e.TargetID
				kind := e.TargetKind
				if neighbor == nodeID {
					neighbor = e.SourceID
					kind = e.SourceKind
				}
				if seedSet[neighbor] {
					continue
				}

				strength := pathStrength * e.Strength
				cur, visited := best[neighbor]
				if !visited || strength > cur.Strength {
					best[neighbor] = graph.Visit{ID: neighbor, Kind: kind, Hops: hop, Strength: strength}
					if strength > next[neighbor] {
						next[neighbor] = strength
					}
				}
			}
		}
		frontier = next
	}

	visits := make([]graph.Visit, 0, len(best))
	for _, v := range best {
		visits = append(visits, v)
	}
	sort.Slice(visits, func(i, j int) bool {
		if visits[i].Hops != visits[j].Hops {
			return visits[i].Hops < visits[j].Hops
		}
		if visits[i].Strength != visits[j].Strength {
			return visits[i].Strength > visits[j].Strength
		}
		return visits[i].ID < visits[j].ID
	})
	return visits, nil
}

// Reassign re-points every edge touching fromID onto toID.
func (d *Driver) Reassign(_ context.Context, fromID, toID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var moved []graph.Edge
	for key, e := range d.edges {
		if key.source != fromID && key.target != fromID {
			continue
		}
		if e.SourceID == fromID {
			e.SourceID = toID
		}
		if e.TargetID == fromID {
			e.TargetID = toID
		}
		// Drop self-edges produced by reassignment.
		if e.SourceID != e.TargetID {
			moved = append(moved, e)
		}
	}

	d.deleteNodeLocked(fromID)
	for _, e := range moved {
		key := edgeKey{source: e.SourceID, target: e.TargetID, typ: e.Type}
		if _, exists := d.edges[key]; !exists {
			d.outgoing[e.SourceID] = append(d.outgoing[e.SourceID], key)
			d.incoming[e.TargetID] = append(d.incoming[e.TargetID], key)
		}
		d.edges[key] = e
	}
	return nil
}

// DeleteNode removes a node and all touching edges.
func (d *Driver) DeleteNode(_ context.Context, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deleteNodeLocked(nodeID)
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) deleteNodeLocked(nodeID string) {
	for key := range d.edges {
		if key.source == nodeID || key.target == nodeID {
			delete(d.edges, key)
		}
	}
	delete(d.outgoing, nodeID)
	delete(d.incoming, nodeID)

	if e, ok := d.entities[nodeID]; ok {
		delete(d.byName, normalizeName(e.Name))
		delete(d.entities, nodeID)
	}

	// Scrub dangling adjacency entries pointing at the removed node.
	for id, keys := range d.outgoing {
		d.outgoing[id] = pruneKeys(keys, nodeID)
	}
	for id, keys := range d.incoming {
		d.incoming[id] = pruneKeys(keys, nodeID)
	}
}

func pruneKeys(keys []edgeKey, nodeID string) []edgeKey {
	out := keys[:0]
	for _, k := range keys {
		if k.source != nodeID && k.target != nodeID {
			out = append(out, k)
		}
	}
	return out
}

func typeAllowed(t string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if t == allowed {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
