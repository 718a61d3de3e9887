package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"canopy/backend/internal/apierr"
	"canopy/backend/internal/models"
)

// ResolvePermission computes the caller's effective permission on a
// node: "owner" for the owner, the grant's level for collaborators,
// "read" for anyone on a published node, "" otherwise.
func (s *Store) ResolvePermission(ctx context.Context, node *models.Node, userID string) (string, error) {
	if node.OwnerID == userID {
		return models.PermissionOwner, nil
	}
	var grant models.Grant
	err := s.grants().FindOne(ctx, bson.M{"nodeId": node.ID.Hex(), "userId": userID}).Decode(&grant)
	if err == nil {
		return grant.Permission, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", err
	}
	if node.IsPublished {
		return models.PermissionRead, nil
	}
	return "", nil
}

// GrantAccess gives userID the permission on node and every descendant
// in one transaction, so a partially-shared subtree can never be
// observed. A grant is skipped as redundant when the user already owns
// one of the node's ancestors.
func (s *Store) GrantAccess(ctx context.Context, node *models.Node, userID, permission string) error {
	if permission != models.PermissionRead && permission != models.PermissionEdit {
		return apierr.Validation(fmt.Errorf("unknown permission %q", permission))
	}
	if node.OwnerID == userID {
		return nil
	}
	redundant, err := s.ownsAncestor(ctx, node, userID)
	if err != nil {
		return err
	}
	if redundant {
		return nil
	}

	ids, err := s.SubtreeIDs(ctx, node.ID.Hex())
	if err != nil {
		return err
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	now := time.Now()
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, id := range ids {
			filter := bson.M{"nodeId": id, "userId": userID}
			update := bson.M{
				"$set":         bson.M{"permission": permission},
				"$setOnInsert": bson.M{"nodeId": id, "userId": userID, "createdAt": now},
			}
			opts := options.Update().SetUpsert(true)
			if _, err := s.grants().UpdateOne(sc, filter, update, opts); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// RevokeAccess removes userID's grants on node and every descendant.
func (s *Store) RevokeAccess(ctx context.Context, node *models.Node, userID string) error {
	ids, err := s.SubtreeIDs(ctx, node.ID.Hex())
	if err != nil {
		return err
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		_, err := s.grants().DeleteMany(sc, bson.M{
			"nodeId": bson.M{"$in": ids},
			"userId": userID,
		})
		return nil, err
	})
	return err
}

// copyGrants duplicates the parent's grant rows onto a newly created
// child, keeping the subtree-cascade invariant for children born after
// the share.
func (s *Store) copyGrants(ctx context.Context, parentID, childID string) error {
	cursor, err := s.grants().Find(ctx, bson.M{"nodeId": parentID})
	if err != nil {
		return err
	}
	var parentGrants []models.Grant
	if err := cursor.All(ctx, &parentGrants); err != nil {
		return err
	}
	if len(parentGrants) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]interface{}, 0, len(parentGrants))
	for _, g := range parentGrants {
		docs = append(docs, models.Grant{
			ID:         primitive.NewObjectID(),
			NodeID:     childID,
			UserID:     g.UserID,
			Permission: g.Permission,
			CreatedAt:  now,
		})
	}
	_, err = s.grants().InsertMany(ctx, docs)
	return err
}

// CanJoinRoom reports whether userID may join the node's realtime
// room: the owner, any collaborator, or anyone on a published node.
func (s *Store) CanJoinRoom(ctx context.Context, node *models.Node, userID string) (bool, error) {
	perm, err := s.ResolvePermission(ctx, node, userID)
	if err != nil {
		return false, err
	}
	return perm != "", nil
}
