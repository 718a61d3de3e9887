package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"canopy/backend/internal/links"
	"canopy/backend/internal/models"
)

// Cross-reference propagation: whenever a child is created, renamed,
// re-iconified, moved, archived or removed, the page-link snapshots
// embedded in its parent's content have to follow. Propagation runs
// after the primary mutation has committed, on its own context, and
// never feeds an error back into the caller's contract — failures are
// logged and swallowed.

const propagateTimeout = 10 * time.Second

// propagateAfterUpdate derives link maintenance from a committed
// update. The before snapshot only picks which parents need patching;
// the patches themselves re-read the parent's current content inside
// propagate, and every patch is a no-op when the link is already in
// the target state, so a snapshot gone stale between the read and the
// commit cannot corrupt a parent.
func (s *Store) propagateAfterUpdate(before, after *models.Node, fields UpdateFields) {
	childID := after.ID.Hex()
	editedBy := after.LastEditedByID

	if after.ParentID != before.ParentID {
		if before.ParentID != "" {
			s.propagateRemoveLink(before.ParentID, childID, editedBy)
		}
		if after.ParentID != "" && !after.IsArchived {
			s.propagateAddLink(after.ParentID, childID, after.Title, after.Icon, editedBy)
		}
	}

	if fields.IsArchived != nil && *fields.IsArchived != before.IsArchived && after.ParentID != "" {
		if after.IsArchived {
			s.propagateRemoveLink(after.ParentID, childID, editedBy)
		} else {
			// Restore: the link may have been pruned while archived.
			s.propagateAddLink(after.ParentID, childID, after.Title, after.Icon, editedBy)
		}
	}

	titleChanged := fields.Title != nil && *fields.Title != before.Title
	iconChanged := fields.Icon != nil && *fields.Icon != before.Icon
	if (titleChanged || iconChanged) && after.ParentID != "" && !after.IsArchived {
		s.propagateUpdateLink(after.ParentID, childID, after.Title, after.Icon, editedBy)
	}
}

func (s *Store) propagateAddLink(parentID, childID, title, icon, editedBy string) {
	s.propagate("add", parentID, childID, editedBy, func(content string) (string, bool) {
		return links.AddLink(content, childID, title, icon)
	})
}

func (s *Store) propagateRemoveLink(parentID, childID, editedBy string) {
	s.propagate("remove", parentID, childID, editedBy, func(content string) (string, bool) {
		return links.RemoveLink(content, childID)
	})
}

func (s *Store) propagateUpdateLink(parentID, childID, title, icon, editedBy string) {
	s.propagate("update", parentID, childID, editedBy, func(content string) (string, bool) {
		return links.UpdateLink(content, childID, title, icon)
	})
}

// propagate patches the parent's content asynchronously, attributing
// the edit to the user whose change triggered it. The write is
// last-writer-wins on purpose: a propagation patch must never surface
// a Conflict to anyone.
func (s *Store) propagate(op, parentID, childID, editedBy string, patch func(string) (string, bool)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), propagateTimeout)
		defer cancel()

		parent, err := s.Get(ctx, parentID)
		if err != nil {
			s.log.Warn("link propagation: parent fetch failed",
				"op", op, "parentId", parentID, "childId", childID, "error", err)
			return
		}

		content, changed := patch(parent.Content)
		if !changed {
			return
		}

		oid, err := primitive.ObjectIDFromHex(parentID)
		if err != nil {
			return
		}
		set := bson.M{"content": content, "updatedAt": time.Now()}
		if editedBy != "" {
			set["lastEditedById"] = editedBy
		}
		update := bson.M{
			"$set": set,
			"$inc": bson.M{"version": 1},
		}
		if _, err := s.nodes().UpdateOne(ctx, bson.M{"_id": oid}, update); err != nil {
			s.log.Warn("link propagation: parent write failed",
				"op", op, "parentId", parentID, "childId", childID, "error", err)
		}
	}()
}
