package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"canopy/backend/internal/apierr"
	"canopy/backend/internal/models"
)

// Geometry bands for a drag gesture. The hint is the normalized
// vertical position of the drop within the reference node's bounds:
// the middle band nests the moving node inside the reference, the
// outer bands reorder before/after it.
const (
	nestBandLow  = 0.25
	nestBandHigh = 0.75
)

// MoveGesture describes a drag-and-drop drop.
type MoveGesture struct {
	MovingID     string
	ReferenceID  string
	ParentID     string
	GeometryHint float64
}

// Nest reports whether the gesture means "drop inside the reference".
func (g MoveGesture) Nest() bool {
	return g.GeometryHint >= nestBandLow && g.GeometryHint <= nestBandHigh
}

// Move resolves a drag gesture into either a reparent (nest) or a
// sibling-order shift (reorder), per the geometry hint.
func (s *Store) Move(ctx context.Context, userID string, g MoveGesture) (*models.Node, error) {
	if g.MovingID == g.ReferenceID {
		return nil, apierr.Validation(fmt.Errorf("cannot move a node relative to itself"))
	}
	moving, err := s.Get(ctx, g.MovingID)
	if err != nil {
		return nil, err
	}
	ref, err := s.Get(ctx, g.ReferenceID)
	if err != nil {
		return nil, err
	}

	if g.Nest() {
		parentID := ref.ID.Hex()
		return s.Update(ctx, g.MovingID, userID, UpdateFields{ParentID: &parentID}, nil)
	}

	targetParent := g.ParentID
	if targetParent == "" {
		targetParent = ref.ParentID
	}

	// Guard and write serialize with every other reparent, same as
	// Update's reparent path.
	if err := func() error {
		s.reparentMu.Lock()
		defer s.reparentMu.Unlock()

		if targetParent != moving.ParentID && targetParent != "" {
			cyclic, err := s.WouldCreateCycle(ctx, g.MovingID, targetParent)
			if err != nil {
				return err
			}
			if cyclic {
				return apierr.InvalidMove(fmt.Errorf("moving %s under %s would create a cycle", g.MovingID, targetParent))
			}
		}

		destination := insertBeforeOrder(ref.OrderKey, g.GeometryHint)
		return s.shiftAndPlace(ctx, moving, targetParent, destination, userID)
	}(); err != nil {
		return nil, err
	}

	if targetParent != moving.ParentID {
		if moving.ParentID != "" {
			s.propagateRemoveLink(moving.ParentID, moving.ID.Hex(), userID)
		}
		if targetParent != "" {
			s.propagateAddLink(targetParent, moving.ID.Hex(), moving.Title, moving.Icon, userID)
		}
	}
	return s.Get(ctx, g.MovingID)
}

// insertBeforeOrder maps the gesture onto insert-before semantics: the
// lower band takes the reference's own slot, the upper band the slot
// just past it. Appending after the last sibling falls out of the
// upper band naturally.
func insertBeforeOrder(refOrder int64, hint float64) int64 {
	if hint > nestBandHigh {
		return refOrder + 1
	}
	return refOrder
}

// shiftAndPlace opens one transaction that makes room at destination
// (bumping every sibling at or past it) and drops the moving node into
// the slot. All touched nodes get a version bump.
func (s *Store) shiftAndPlace(ctx context.Context, moving *models.Node, targetParent string, destination int64, userID string) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	now := time.Now()
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		shift := bson.M{"$inc": bson.M{"orderKey": 1, "version": 1}, "$set": bson.M{"updatedAt": now}}
		shiftFilter := bson.M{
			"parentId": targetParent,
			"orderKey": bson.M{"$gte": destination},
			"_id":      bson.M{"$ne": moving.ID},
		}
		if _, err := s.nodes().UpdateMany(sc, shiftFilter, shift); err != nil {
			return nil, err
		}

		place := bson.M{
			"$set": bson.M{
				"parentId":       targetParent,
				"orderKey":       destination,
				"updatedAt":      now,
				"lastEditedById": userID,
			},
			"$inc": bson.M{"version": 1},
		}
		res, err := s.nodes().UpdateOne(sc, bson.M{"_id": moving.ID}, place)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, apierr.NotFound(fmt.Errorf("node %s disappeared during move", moving.ID.Hex()))
		}
		return nil, nil
	})
	return err
}

// ReorderUpdate is one entry of a client-computed full-list reorder.
type ReorderUpdate struct {
	ID       string `json:"id"`
	OrderKey int64  `json:"orderKey"`
}

// Reorder applies a bulk renumbering in one transaction. The caller is
// trusted (no cycle or ownership re-validation) but the batch is
// all-or-nothing.
func (s *Store) Reorder(ctx context.Context, userID string, updates []ReorderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	session, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	now := time.Now()
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, u := range updates {
			oid, err := primitive.ObjectIDFromHex(u.ID)
			if err != nil {
				return nil, apierr.Validation(fmt.Errorf("invalid node id %q", u.ID))
			}
			update := bson.M{
				"$set": bson.M{
					"orderKey":       u.OrderKey,
					"updatedAt":      now,
					"lastEditedById": userID,
				},
				"$inc": bson.M{"version": 1},
			}
			res, err := s.nodes().UpdateOne(sc, bson.M{"_id": oid}, update)
			if err != nil {
				return nil, err
			}
			if res.MatchedCount == 0 {
				return nil, apierr.NotFound(fmt.Errorf("node %s not found", u.ID))
			}
		}
		return nil, nil
	})
	return err
}
