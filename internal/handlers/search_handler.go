package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"canopy/backend/internal/database"
	"canopy/backend/internal/middleware"
	"canopy/backend/internal/models"
)

// SearchResultItem is one hit from a title search.
type SearchResultItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Icon     string `json:"icon,omitempty"`
	ParentID string `json:"parentId,omitempty"`
	Shared   bool   `json:"shared,omitempty"`
}

// SearchNodes searches titles across the caller's own documents and
// the ones shared with them, fanned out concurrently.
func SearchNodes(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusOK, []SearchResultItem{})
		return
	}

	user := middleware.ForContext(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []SearchResultItem

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nodesCollection := database.DB().Collection("nodes")
	grantsCollection := database.DB().Collection("grants")

	// Owned documents
	wg.Add(1)
	go func() {
		defer wg.Done()
		filter := bson.M{
			"ownerId":    user.ID,
			"isArchived": false,
			"title":      bson.M{"$regex": query, "$options": "i"},
		}
		cursor, err := nodesCollection.Find(ctx, filter)
		if err != nil {
			logg.Warn("owned search failed", "error", err)
			return
		}
		defer cursor.Close(ctx)

		var owned []models.Node
		if err = cursor.All(ctx, &owned); err == nil {
			mu.Lock()
			for _, n := range owned {
				results = append(results, SearchResultItem{
					ID:       n.ID.Hex(),
					Title:    n.Title,
					Icon:     n.Icon,
					ParentID: n.ParentID,
				})
			}
			mu.Unlock()
		}
	}()

	// Shared documents
	wg.Add(1)
	go func() {
		defer wg.Done()
		grantCursor, err := grantsCollection.Find(ctx, bson.M{"userId": user.ID})
		if err != nil {
			logg.Warn("grant lookup failed", "error", err)
			return
		}
		defer grantCursor.Close(ctx)

		var grants []models.Grant
		if err := grantCursor.All(ctx, &grants); err != nil || len(grants) == 0 {
			return
		}
		ids := make([]primitive.ObjectID, 0, len(grants))
		for _, g := range grants {
			if oid, err := primitive.ObjectIDFromHex(g.NodeID); err == nil {
				ids = append(ids, oid)
			}
		}

		filter := bson.M{
			"_id":        bson.M{"$in": ids},
			"isArchived": false,
			"title":      bson.M{"$regex": query, "$options": "i"},
		}
		cursor, err := nodesCollection.Find(ctx, filter)
		if err != nil {
			logg.Warn("shared search failed", "error", err)
			return
		}
		defer cursor.Close(ctx)

		var shared []models.Node
		if err = cursor.All(ctx, &shared); err == nil {
			mu.Lock()
			for _, n := range shared {
				results = append(results, SearchResultItem{
					ID:       n.ID.Hex(),
					Title:    n.Title,
					Icon:     n.Icon,
					ParentID: n.ParentID,
					Shared:   true,
				})
			}
			mu.Unlock()
		}
	}()

	wg.Wait()

	if results == nil {
		results = make([]SearchResultItem, 0)
	}
	c.JSON(http.StatusOK, results)
}
