package types

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// PendingSelection is the server picked in Buying, kept until the flow returns to Start.
type PendingSelection struct {
	Server   string `json:"server"`
	Endpoint string `json:"endpoint"`
}

type ConversationState struct {
	UserID    int64             `json:"user_id"`
	State     ChatState         `json:"state"`
	Pending   *PendingSelection `json:"pending,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Server is one wg-easy instance offered in the menu.
type Server struct {
	ID       string
	Title    string
	Endpoint string
}

type Receipt struct {
	Kind   ReceiptKind
	FileID string
}

// ReviewRequest is what the operator gets when a user uploads a receipt.
type ReviewRequest struct {
	UserID      int64
	Server      string
	Receipt     Receipt
	ApproveData string
	RejectData  string
}

// MessageRef points at an already delivered message, e.g. the operator's review card.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// WGClient is a peer record as reported by wg-easy.
type WGClient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

type StateStore interface {
	SaveState(ctx context.Context, st ConversationState) error
	GetState(ctx context.Context, userID int64) (*ConversationState, error)
	LoadStates(ctx context.Context) ([]ConversationState, error)
	// CompareAndSetState moves userID from one state to another in one atomic
	// step and reports whether the row was in the expected state.
	CompareAndSetState(ctx context.Context, userID int64, from, to ChatState) (bool, error)
}

type UserStore interface {
	AddUser(ctx context.Context, chatID int64, at time.Time) error
	GetUser(ctx context.Context, chatID int64) (*User, error)
}

type SubscriptionStore interface {
	AddSubscription(ctx context.Context, userID int64, server string, paidAt time.Time) (int64, error)
	DeleteSubscription(ctx context.Context, id int64) error
	// DeleteSubscriptions removes the records of (user, server) paid at or before paidUpTo.
	DeleteSubscriptions(ctx context.Context, userID int64, server string, paidUpTo time.Time) error
	LastPayment(ctx context.Context, userID int64, server string) (*Subscription, error)
	HasActiveSubscription(ctx context.Context, userID int64, server string, paidAfter time.Time) (bool, error)
	// ListLapsed returns the latest payment per user on server when it is not newer than paidBefore.
	ListLapsed(ctx context.Context, server string, paidBefore time.Time) ([]Subscription, error)
}

type Store interface {
	StateStore
	UserStore
	SubscriptionStore
}

// Locker serialises work on a key across handlers and, with Redis, across processes.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, menu Menu) error
	SendPhoto(ctx context.Context, chatID int64, fileName string, png []byte, caption string) error
	SendReview(ctx context.Context, operatorID int64, req ReviewRequest) error
	EditCaption(ctx context.Context, ref MessageRef, caption string) error
}

type Provisioner interface {
	Authenticate(ctx context.Context) error
	CreateClient(ctx context.Context, name string) error
	EnableClient(ctx context.Context, id string) error
	DisableClient(ctx context.Context, name string) error
	RemoveClient(ctx context.Context, name string) error
	ListClients(ctx context.Context) ([]WGClient, error)
	FindClientByName(ctx context.Context, name string) (*WGClient, error)
	Config(ctx context.Context, id string) (string, error)
}

// Provisioners hands out the client bound to one server.
type Provisioners interface {
	For(server string) (Provisioner, bool)
}
