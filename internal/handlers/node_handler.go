package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"canopy/backend/internal/apierr"
	"canopy/backend/internal/logger"
	"canopy/backend/internal/middleware"
	"canopy/backend/internal/models"
	"canopy/backend/internal/realtime"
	"canopy/backend/internal/services"
	"canopy/backend/internal/store"
)

var (
	nodes *store.Store
	hub   *realtime.Hub
	logg  *logger.Logger
)

// Init wires the handler package's dependencies, called once from main.
func Init(st *store.Store, h *realtime.Hub, log *logger.Logger) {
	nodes = st
	hub = h
	logg = log.With("component", "handlers")
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondError(c *gin.Context, err error) {
	ae := apierr.From(err)
	body := gin.H{"error": ae.Error(), "code": ae.Code}
	if ae.Code == "conflict" {
		body["currentVersion"] = ae.CurrentVersion
	}
	if ae.Status >= http.StatusInternalServerError {
		logg.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(ae.Status, body)
}

// CreateNodePayload defines the expected JSON for creating a document.
type CreateNodePayload struct {
	Title             string                 `json:"title" binding:"required"`
	ParentID          string                 `json:"parentId"`
	IsDatabase        bool                   `json:"isDatabase"`
	Properties        map[string]interface{} `json:"properties"`
	SkipContentUpdate bool                   `json:"skipContentUpdate"`
}

func CreateNode(c *gin.Context) {
	var payload CreateNodePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := nodes.Create(ctx, user.ID, store.CreateParams{
		Title:             payload.Title,
		ParentID:          payload.ParentID,
		IsDatabase:        payload.IsDatabase,
		Properties:        bson.M(payload.Properties),
		SkipContentUpdate: payload.SkipContentUpdate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if node.ParentID != "" {
		notifyRoom(node.ParentID, map[string]interface{}{"childCreated": true}, 0, user.ID)
	}
	c.JSON(http.StatusCreated, node)
}

func GetNode(c *gin.Context) {
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	perm, err := nodes.ResolvePermission(ctx, node, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if perm == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have access to this document"})
		return
	}
	breadcrumbs, err := nodes.AncestorChain(ctx, node)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"node":                  node,
		"currentUserPermission": perm,
		"breadcrumbAncestors":   breadcrumbs,
	})
}

func ListNodes(c *gin.Context) {
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	parentID := c.Query("parentId")
	if parentID == "root" {
		parentID = ""
	}
	archived := c.Query("archived") == "true"
	all := c.Query("all") == "true"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := nodes.List(ctx, user.ID, parentID, archived, all)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// UpdateNodePayload is the partial field set of a PATCH. Absent fields
// stay untouched; expectedVersion opts into the concurrency gate.
type UpdateNodePayload struct {
	Title           *string                `json:"title"`
	Icon            *string                `json:"icon"`
	CoverImage      *string                `json:"coverImage"`
	Content         *string                `json:"content"`
	Properties      map[string]interface{} `json:"properties"`
	ParentID        *string                `json:"parentId"`
	IsArchived      *bool                  `json:"isArchived"`
	IsPublished     *bool                  `json:"isPublished"`
	ExpectedVersion *int64                 `json:"expectedVersion"`
}

func (p *UpdateNodePayload) ownerOnly() bool {
	return p.ParentID != nil || p.IsArchived != nil || p.IsPublished != nil
}

func UpdateNode(c *gin.Context) {
	var payload UpdateNodePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	perm, err := nodes.ResolvePermission(ctx, node, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if payload.ownerOnly() && perm != models.PermissionOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can change structure or lifecycle flags"})
		return
	}
	if perm != models.PermissionOwner && perm != models.PermissionEdit {
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have edit access to this document"})
		return
	}

	fields := store.UpdateFields{
		Title:       payload.Title,
		Icon:        payload.Icon,
		CoverImage:  payload.CoverImage,
		Content:     payload.Content,
		ParentID:    payload.ParentID,
		IsArchived:  payload.IsArchived,
		IsPublished: payload.IsPublished,
	}
	if payload.Properties != nil {
		fields.Properties = bson.M(payload.Properties)
	}

	updated, err := nodes.Update(ctx, node.ID.Hex(), user.ID, fields, payload.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}

	notifyRoom(updated.ID.Hex(), changesOf(payload), updated.Version, user.ID)
	if updated.ParentID != node.ParentID {
		if node.ParentID != "" {
			notifyRoom(node.ParentID, map[string]interface{}{"childLeft": updated.ID.Hex()}, 0, user.ID)
		}
		if updated.ParentID != "" {
			notifyRoom(updated.ParentID, map[string]interface{}{"childCreated": true}, 0, user.ID)
		}
	} else if node.ParentID != "" {
		notifyRoom(node.ParentID, map[string]interface{}{"childUpdated": updated.ID.Hex()}, 0, user.ID)
	}

	c.JSON(http.StatusOK, updated)
}

// changesOf reduces a PATCH payload to the partial diff broadcast to
// other room members.
func changesOf(p UpdateNodePayload) map[string]interface{} {
	changes := map[string]interface{}{}
	if p.Title != nil {
		changes["title"] = *p.Title
	}
	if p.Icon != nil {
		changes["icon"] = *p.Icon
	}
	if p.CoverImage != nil {
		changes["coverImage"] = *p.CoverImage
	}
	if p.Content != nil {
		changes["content"] = *p.Content
	}
	if p.Properties != nil {
		changes["properties"] = p.Properties
	}
	if p.ParentID != nil {
		changes["parentId"] = *p.ParentID
	}
	if p.IsArchived != nil {
		changes["isArchived"] = *p.IsArchived
	}
	if p.IsPublished != nil {
		changes["isPublished"] = *p.IsPublished
	}
	return changes
}

func notifyRoom(documentID string, changes map[string]interface{}, version int64, userID string) {
	raw, err := json.Marshal(changes)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.NotifyChange(ctx, documentID, raw, version, userID)
}

// DeleteNode hard-deletes a document and its subtree. Live viewers are
// told first, then filesystem attachments referenced from the deleted
// contents are cleaned up, then the rows go.
func DeleteNode(c *gin.Context) {
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if node.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can delete a document"})
		return
	}

	subtree, err := nodes.Subtree(ctx, node.ID.Hex())
	if err != nil {
		respondError(c, err)
		return
	}

	notifyDeletedSubtree(ctx, subtree)

	contents := make([]string, 0, len(subtree))
	for _, n := range subtree {
		contents = append(contents, n.Content)
	}
	services.CleanupAttachments(logg, contents...)

	if err := nodes.Delete(ctx, node); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully"})
}

// notifyDeletedSubtree warns the room of every node going away, not
// just the root: viewers deep in the subtree have their own rooms.
func notifyDeletedSubtree(ctx context.Context, subtree []models.Node) {
	for _, n := range subtree {
		hub.NotifyDeleted(ctx, n.ID.Hex())
	}
}

// MoveNodePayload describes a drag-and-drop gesture.
type MoveNodePayload struct {
	ReferenceID  string  `json:"referenceId" binding:"required"`
	ParentID     string  `json:"parentId"`
	GeometryHint float64 `json:"geometryHint"`
}

func MoveNode(c *gin.Context) {
	var payload MoveNodePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if node.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can move a document"})
		return
	}

	moved, err := nodes.Move(ctx, user.ID, store.MoveGesture{
		MovingID:     node.ID.Hex(),
		ReferenceID:  payload.ReferenceID,
		ParentID:     payload.ParentID,
		GeometryHint: payload.GeometryHint,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if moved.ParentID != node.ParentID {
		if node.ParentID != "" {
			notifyRoom(node.ParentID, map[string]interface{}{"childLeft": moved.ID.Hex()}, 0, user.ID)
		}
		if moved.ParentID != "" {
			notifyRoom(moved.ParentID, map[string]interface{}{"childCreated": true}, 0, user.ID)
		}
	}
	c.JSON(http.StatusOK, moved)
}

// ReorderPayload carries a client-computed full-list renumbering.
type ReorderPayload struct {
	Updates []store.ReorderUpdate `json:"updates" binding:"required"`
}

func ReorderNodes(c *gin.Context) {
	var payload ReorderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := nodes.Reorder(ctx, user.ID, payload.Updates); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reordered successfully"})
}

// SharePayload grants a collaborator access to a whole subtree.
type SharePayload struct {
	UserID     string `json:"userId" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

func ShareNode(c *gin.Context) {
	var payload SharePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if node.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can share a document"})
		return
	}

	granteeID, err := nodes.ResolveUserID(ctx, payload.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := nodes.GrantAccess(ctx, node, granteeID, payload.Permission); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document shared successfully"})
}

func UnshareNode(c *gin.Context) {
	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	node, err := nodes.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if node.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can revoke access"})
		return
	}

	granteeID, err := nodes.ResolveUserID(ctx, c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := nodes.RevokeAccess(ctx, node, granteeID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Access revoked"})
}
