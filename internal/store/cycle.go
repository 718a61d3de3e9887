package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"canopy/backend/internal/models"
)

// parentLookup resolves a node id to its parent id. found is false
// when the node does not exist (a dangling pointer terminates the
// walk rather than failing it).
type parentLookup func(ctx context.Context, id string) (parentID string, found bool, err error)

// walkWouldCycle walks proposedParentID's ancestor chain looking for
// nodeID. A hit means the proposed parent is a descendant of the node
// being moved, so adopting it as parent would close a cycle. The
// visited set cuts loops in already-corrupted data.
func walkWouldCycle(ctx context.Context, lookup parentLookup, nodeID, proposedParentID string) (bool, error) {
	if nodeID == proposedParentID {
		return true, nil
	}
	visited := map[string]bool{}
	current := proposedParentID
	for current != "" {
		if current == nodeID {
			return true, nil
		}
		if visited[current] {
			return true, nil
		}
		visited[current] = true
		parent, found, err := lookup(ctx, current)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		current = parent
	}
	return false, nil
}

func (s *Store) lookupParent(ctx context.Context, id string) (string, bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", false, nil
	}
	var node struct {
		ParentID string `bson:"parentId"`
	}
	err = s.nodes().FindOne(ctx, bson.M{"_id": oid}).Decode(&node)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	return node.ParentID, true, nil
}

// WouldCreateCycle reports whether reparenting nodeID under
// proposedParentID would make the node its own ancestor. Every
// reparent (explicit parentId change or a drag nest) must pass this
// before persisting anything.
func (s *Store) WouldCreateCycle(ctx context.Context, nodeID, proposedParentID string) (bool, error) {
	return walkWouldCycle(ctx, s.lookupParent, nodeID, proposedParentID)
}

// AncestorChain walks a node's parents up to the root and returns them
// root-first, for breadcrumb rendering.
func (s *Store) AncestorChain(ctx context.Context, node *models.Node) ([]models.Breadcrumb, error) {
	var chain []models.Breadcrumb
	visited := map[string]bool{node.ID.Hex(): true}
	current := node.ParentID
	for current != "" && !visited[current] {
		visited[current] = true
		ancestor, err := s.Get(ctx, current)
		if err != nil {
			break
		}
		chain = append([]models.Breadcrumb{{
			ID:    ancestor.ID.Hex(),
			Title: ancestor.Title,
			Icon:  ancestor.Icon,
		}}, chain...)
		current = ancestor.ParentID
	}
	if chain == nil {
		chain = make([]models.Breadcrumb, 0)
	}
	return chain, nil
}

// ownsAncestor walks a node's own ancestor chain and reports whether
// userID owns any node on it. Used to skip redundant grants: owning an
// ancestor already gives implicit access to the whole subtree.
func (s *Store) ownsAncestor(ctx context.Context, node *models.Node, userID string) (bool, error) {
	visited := map[string]bool{node.ID.Hex(): true}
	current := node.ParentID
	for current != "" && !visited[current] {
		visited[current] = true
		ancestor, err := s.Get(ctx, current)
		if err != nil {
			return false, nil
		}
		if ancestor.OwnerID == userID {
			return true, nil
		}
		current = ancestor.ParentID
	}
	return false, nil
}
