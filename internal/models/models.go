package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	Name         string             `bson:"name" json:"name"`
	PasswordHash string             `bson:"passwordHash" json:"-"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Node is one document in the tree. ParentID is the hex id of the
// parent node, or "" at root level. Version is the optimistic-lock
// counter: every successful mutation bumps it by exactly one.
type Node struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title          string             `bson:"title" json:"title"`
	Icon           string             `bson:"icon,omitempty" json:"icon,omitempty"`
	CoverImage     string             `bson:"coverImage,omitempty" json:"coverImage,omitempty"`
	Content        string             `bson:"content" json:"content"`
	Properties     bson.M             `bson:"properties,omitempty" json:"properties,omitempty"`
	ParentID       string             `bson:"parentId" json:"parentId"`
	OrderKey       int64              `bson:"orderKey" json:"orderKey"`
	OwnerID        string             `bson:"ownerId" json:"ownerId"`
	IsDatabase     bool               `bson:"isDatabase" json:"isDatabase"`
	IsArchived     bool               `bson:"isArchived" json:"isArchived"`
	IsPublished    bool               `bson:"isPublished" json:"isPublished"`
	Version        int64              `bson:"version" json:"version"`
	LastEditedByID string             `bson:"lastEditedById" json:"lastEditedById"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Permission levels for collaborator grants.
const (
	PermissionRead = "read"
	PermissionEdit = "edit"

	// PermissionOwner is never stored in a grant row; it is the
	// computed permission of a node's owner.
	PermissionOwner = "owner"
)

// Grant gives userId access to nodeId. Granting on a node writes a row
// for every node in its subtree, so lookups never have to walk up.
type Grant struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	NodeID     string             `bson:"nodeId" json:"nodeId"`
	UserID     string             `bson:"userId" json:"userId"`
	Permission string             `bson:"permission" json:"permission"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// Breadcrumb is one ancestor entry returned alongside a node.
type Breadcrumb struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}
