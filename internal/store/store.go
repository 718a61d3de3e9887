// Package store is the single owner of persisted node state: the tree
// rows, the optimistic version gate, collaborator grants, and the
// move/reorder coordinator. Nothing else writes to these collections.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"canopy/backend/internal/apierr"
	"canopy/backend/internal/logger"
	"canopy/backend/internal/models"
)

type Store struct {
	db  *mongo.Database
	log *logger.Logger

	// reparentMu serializes every reparent so the cycle guard and the
	// write it protects act as one step. Without it two concurrent
	// cross-moves (A under B, B under A) can each pass the guard
	// against the old tree and then both commit, detaching a cycle
	// from the root.
	reparentMu sync.Mutex
}

func New(db *mongo.Database, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("component", "store")}
}

func (s *Store) nodes() *mongo.Collection  { return s.db.Collection("nodes") }
func (s *Store) grants() *mongo.Collection { return s.db.Collection("grants") }
func (s *Store) users() *mongo.Collection  { return s.db.Collection("users") }

// CreateParams are the caller-supplied fields for a new node.
type CreateParams struct {
	Title      string
	ParentID   string
	IsDatabase bool
	Properties bson.M

	// SkipContentUpdate suppresses the page-link append into the
	// parent when the parent is open for editing elsewhere.
	SkipContentUpdate bool
}

// Create inserts a new node with version 1 and the next orderKey under
// its parent. Ownership is inherited from the parent when the creator
// is a collaborator rather than the parent's owner, so a shared
// subtree stays owned by its root owner.
func (s *Store) Create(ctx context.Context, userID string, p CreateParams) (*models.Node, error) {
	ownerID := userID
	var parent *models.Node
	if p.ParentID != "" {
		var err error
		parent, err = s.Get(ctx, p.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.OwnerID != userID {
			perm, err := s.ResolvePermission(ctx, parent, userID)
			if err != nil {
				return nil, err
			}
			if perm != models.PermissionEdit {
				return nil, apierr.Forbidden(errors.New("no edit access to parent"))
			}
			ownerID = parent.OwnerID
		}
	}

	orderKey, err := s.nextOrderKey(ctx, p.ParentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	node := models.Node{
		ID:             primitive.NewObjectID(),
		Title:          p.Title,
		Content:        "",
		Properties:     p.Properties,
		ParentID:       p.ParentID,
		OrderKey:       orderKey,
		OwnerID:        ownerID,
		IsDatabase:     p.IsDatabase,
		Version:        1,
		LastEditedByID: userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.nodes().InsertOne(ctx, node); err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}

	if parent != nil {
		// Collaborators on the parent keep access to children created
		// later; copying the parent's grant rows preserves the
		// materialized subtree-cascade invariant.
		if err := s.copyGrants(ctx, p.ParentID, node.ID.Hex()); err != nil {
			s.log.Warn("grant copy to new child failed", "nodeId", node.ID.Hex(), "error", err)
		}
		if !p.SkipContentUpdate {
			s.propagateAddLink(node.ParentID, node.ID.Hex(), node.Title, node.Icon, userID)
		}
	}
	return &node, nil
}

// Get fetches a node by hex id.
func (s *Store) Get(ctx context.Context, id string) (*models.Node, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apierr.Validation(fmt.Errorf("invalid node id %q", id))
	}
	var node models.Node
	if err := s.nodes().FindOne(ctx, bson.M{"_id": oid}).Decode(&node); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apierr.NotFound(fmt.Errorf("node %s not found", id))
		}
		return nil, err
	}
	return &node, nil
}

// UpdateFields is the partial field set of a PATCH. Nil pointers are
// untouched fields.
type UpdateFields struct {
	Title       *string
	Icon        *string
	CoverImage  *string
	Content     *string
	Properties  bson.M
	ParentID    *string
	IsArchived  *bool
	IsPublished *bool
}

// Update applies fields to a node behind the concurrency gate. When
// expectedVersion is non-nil and stale the write is rejected with a
// Conflict carrying the authoritative current version; the compare and
// the version increment happen in one FindOneAndUpdate so two racing
// writers starting from the same version resolve to exactly one
// winner. Reparents pass the cycle guard first and pick up a fresh
// orderKey under the new parent.
func (s *Store) Update(ctx context.Context, id, userID string, fields UpdateFields, expectedVersion *int64) (*models.Node, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apierr.Validation(fmt.Errorf("invalid node id %q", id))
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"updatedAt":      time.Now(),
		"lastEditedById": userID,
	}
	if fields.Title != nil {
		set["title"] = *fields.Title
	}
	if fields.Icon != nil {
		set["icon"] = *fields.Icon
	}
	if fields.CoverImage != nil {
		set["coverImage"] = *fields.CoverImage
	}
	if fields.Content != nil {
		set["content"] = *fields.Content
	}
	if fields.Properties != nil {
		set["properties"] = fields.Properties
	}
	if fields.IsArchived != nil {
		set["isArchived"] = *fields.IsArchived
	}
	if fields.IsPublished != nil {
		set["isPublished"] = *fields.IsPublished
	}

	reparenting := fields.ParentID != nil && *fields.ParentID != before.ParentID
	if reparenting {
		s.reparentMu.Lock()
		defer s.reparentMu.Unlock()
		if *fields.ParentID != "" {
			cyclic, err := s.WouldCreateCycle(ctx, id, *fields.ParentID)
			if err != nil {
				return nil, err
			}
			if cyclic {
				return nil, apierr.InvalidMove(fmt.Errorf("moving %s under %s would create a cycle", id, *fields.ParentID))
			}
		}
		orderKey, err := s.nextOrderKey(ctx, *fields.ParentID)
		if err != nil {
			return nil, err
		}
		set["parentId"] = *fields.ParentID
		set["orderKey"] = orderKey
	}

	filter := bson.M{"_id": oid}
	if expectedVersion != nil {
		filter["version"] = *expectedVersion
	}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var node models.Node
	if err := s.nodes().FindOneAndUpdate(ctx, filter, update, opts).Decode(&node); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		// Distinguish a vanished node from a stale version.
		current, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, apierr.Conflict(current.Version)
	}

	s.propagateAfterUpdate(before, &node, fields)
	return &node, nil
}

// List returns the caller's nodes under parentID, ordered by orderKey.
// Archived nodes are excluded unless asked for; all=true flattens the
// whole accessible tree regardless of parent.
func (s *Store) List(ctx context.Context, userID, parentID string, archived, all bool) ([]models.Node, error) {
	filter := bson.M{
		"ownerId":    userID,
		"isArchived": archived,
	}
	if !all {
		filter["parentId"] = parentID
	}
	opts := options.Find().SetSort(bson.D{{Key: "orderKey", Value: 1}, {Key: "createdAt", Value: 1}})
	cursor, err := s.nodes().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.Node
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make([]models.Node, 0)
	}
	return out, nil
}

// Delete hard-deletes a node and its whole subtree, along with every
// grant row for those nodes, and removes the page-link from the old
// parent. The caller is responsible for broadcasting the deletion to
// live viewers and cleaning up referenced attachments first.
func (s *Store) Delete(ctx context.Context, node *models.Node) error {
	ids, err := s.SubtreeIDs(ctx, node.ID.Hex())
	if err != nil {
		return err
	}
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}

	if _, err := s.nodes().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}}); err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	if _, err := s.grants().DeleteMany(ctx, bson.M{"nodeId": bson.M{"$in": ids}}); err != nil {
		s.log.Warn("grant cleanup after delete failed", "nodeId", node.ID.Hex(), "error", err)
	}

	if node.ParentID != "" {
		// Deletion is owner-only, so the owner is the acting editor.
		s.propagateRemoveLink(node.ParentID, node.ID.Hex(), node.OwnerID)
	}
	return nil
}

// Subtree returns the node and every descendant, breadth-first.
func (s *Store) Subtree(ctx context.Context, rootID string) ([]models.Node, error) {
	root, err := s.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	out := []models.Node{*root}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		cursor, err := s.nodes().Find(ctx, bson.M{"parentId": bson.M{"$in": frontier}})
		if err != nil {
			return nil, err
		}
		var children []models.Node
		if err := cursor.All(ctx, &children); err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			out = append(out, child)
			frontier = append(frontier, child.ID.Hex())
		}
	}
	return out, nil
}

// SubtreeIDs returns the hex ids of a node and all its descendants.
func (s *Store) SubtreeIDs(ctx context.Context, rootID string) ([]string, error) {
	nodes, err := s.Subtree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID.Hex())
	}
	return ids, nil
}

// ResolveUserID turns an email alias into a canonical user id; hex ids
// pass through untouched.
func (s *Store) ResolveUserID(ctx context.Context, userID string) (string, error) {
	if _, err := primitive.ObjectIDFromHex(userID); err == nil {
		return userID, nil
	}
	var user models.User
	if err := s.users().FindOne(ctx, bson.M{"email": userID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", apierr.NotFound(fmt.Errorf("user %q not found", userID))
		}
		return "", err
	}
	return user.ID.Hex(), nil
}

// nextOrderKey returns one past the highest orderKey under parentID.
func (s *Store) nextOrderKey(ctx context.Context, parentID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "orderKey", Value: -1}})
	var last models.Node
	err := s.nodes().FindOne(ctx, bson.M{"parentId": parentID}, opts).Decode(&last)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return last.OrderKey + 1, nil
}
