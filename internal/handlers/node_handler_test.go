package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"canopy/backend/internal/apierr"
	"canopy/backend/internal/logger"
	"canopy/backend/internal/models"
	"canopy/backend/internal/realtime"
	"canopy/backend/internal/realtime/bus"
)

// fakeViewerStore serves room join validation from memory.
type fakeViewerStore struct {
	nodes map[string]*models.Node
}

func (f *fakeViewerStore) Get(_ context.Context, id string) (*models.Node, error) {
	node, ok := f.nodes[id]
	if !ok {
		return nil, apierr.NotFound(nil)
	}
	return node, nil
}

func (f *fakeViewerStore) CanJoinRoom(_ context.Context, node *models.Node, userID string) (bool, error) {
	return node.OwnerID == userID || node.IsPublished, nil
}

func (f *fakeViewerStore) ResolveUserID(_ context.Context, userID string) (string, error) {
	return userID, nil
}

func recvEvent(t *testing.T, c *realtime.Conn) realtime.Frame {
	t.Helper()
	select {
	case raw := <-c.Outbound():
		var frame realtime.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return realtime.Frame{}
}

func TestDeleteNotifiesEveryRoomInSubtree(t *testing.T) {
	log, err := logger.New("development")
	require.NoError(t, err)
	t.Cleanup(log.Sync)

	root := &models.Node{ID: primitive.NewObjectID(), Title: "root", IsPublished: true, Version: 1}
	child := &models.Node{ID: primitive.NewObjectID(), Title: "child", ParentID: root.ID.Hex(), IsPublished: true, Version: 1}
	st := &fakeViewerStore{nodes: map[string]*models.Node{
		root.ID.Hex():  root,
		child.ID.Hex(): child,
	}}

	h := realtime.NewHub(st, bus.NewLocalBus(), log)
	require.NoError(t, h.Start(context.Background()))
	Init(nil, h, log)

	// One viewer per room: someone reading the root, someone deep in
	// the subtree reading the child.
	ctx := context.Background()
	rootViewer := h.NewConn(primitive.NewObjectID().Hex(), nil)
	require.NoError(t, h.Join(ctx, rootViewer, root.ID.Hex(), ""))
	require.Equal(t, realtime.EventJoinedDocument, recvEvent(t, rootViewer).Event)
	childViewer := h.NewConn(primitive.NewObjectID().Hex(), nil)
	require.NoError(t, h.Join(ctx, childViewer, child.ID.Hex(), ""))
	require.Equal(t, realtime.EventJoinedDocument, recvEvent(t, childViewer).Event)

	notifyDeletedSubtree(ctx, []models.Node{*root, *child})

	for viewer, docID := range map[*realtime.Conn]string{
		rootViewer:  root.ID.Hex(),
		childViewer: child.ID.Hex(),
	} {
		frame := recvEvent(t, viewer)
		assert.Equal(t, realtime.EventDocumentDeleted, frame.Event)
		var data struct {
			DocumentID string `json:"documentId"`
		}
		require.NoError(t, json.Unmarshal(frame.Data, &data))
		assert.Equal(t, docID, data.DocumentID)
	}
}
