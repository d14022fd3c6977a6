// Package graph provides the relationship-graph driver: typed, weighted
// edges between memory items and extracted entities, with bounded-hop
// traversal for the graph retrieval signal. Traversal cost is always
// bounded by an explicit hop count; there is no open-ended walk.
package graph

import (
	"context"
	"time"

	"github.com/engramlabs/engram/pkg/item"
)

// NodeKind discriminates graph endpoints.
type NodeKind string

const (
	KindItem   NodeKind = "item"
	KindEntity NodeKind = "entity"
)

// Edge is a directed, typed relationship. Edges are keyed by
// (source, target, type); writing the same key again updates the weight
// and validity fields in place.
type Edge struct {
	SourceID   string
	SourceKind NodeKind
	TargetID   string
	TargetKind NodeKind
	Type       string
	Strength   float64
	AssertedAt time.Time
	ObservedAt time.Time
}

// Visit is one node reached by a traversal.
type Visit struct {
	ID   string
	Kind NodeKind

	// Hops is the distance from the nearest seed (seeds are hop 0).
	Hops int

	// Strength is the product of edge strengths along the discovered path,
	// used to order structurally-linked candidates.
	Strength float64
}

// Driver handles storage and traversal of the relationship graph.
type Driver interface {
	// PutEntity upserts an entity node.
	PutEntity(ctx context.Context, e *item.Entity) error

	// GetEntity retrieves an entity by id. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, id string) (*item.Entity, error)

	// FindEntity looks an entity up by its normalized name.
	FindEntity(ctx context.Context, name string) (*item.Entity, error)

	// PutEdge upserts an edge.
	PutEdge(ctx context.Context, e Edge) error

	// Edges returns all edges touching the node (either direction),
	// optionally restricted to the given types.
	Edges(ctx context.Context, nodeID string, types []string) ([]Edge, error)

	// Traverse walks up to maxHops from the seed nodes and returns every
	// node reached, nearest first. Seeds themselves are not returned.
	Traverse(ctx context.Context, seeds []string, maxHops int, types []string) ([]Visit, error)

	// Reassign re-points every edge touching fromID onto toID. The
	// consolidation engine uses it so a survivor inherits the absorbed
	// items' relationships.
	Reassign(ctx context.Context, fromID, toID string) error

	// DeleteNode removes a node and every edge touching it.
	DeleteNode(ctx context.Context, nodeID string) error

	// Close releases driver resources.
	Close() error
}
