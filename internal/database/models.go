package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/teris-io/shortid"
)

var ErrNotFound = errors.New("not found")

// ValidationError reports a record the store refuses to persist.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

var ErrEmptyMessage = &ValidationError{Reason: "message has neither text nor image"}

// RoomSummaryUpdate is a partial update of the denormalized room summary.
// Nil fields are left untouched.
type RoomSummaryUpdate struct {
	LastMessage    *string
	Timestamp      *time.Time
	HasUnreadAdmin *bool
	HasImage       *bool
}

type Admin struct {
	Id           int
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

type CreateAdminParams struct {
	Email        string
	PasswordHash string
	DisplayName  string
}

// prepareMessage validates msg and fills in the store-assigned fields.
func prepareMessage(msg types.Message) (types.Message, error) {
	if msg.Empty() {
		return types.Message{}, ErrEmptyMessage
	}

	if msg.Id == "" {
		id, err := shortid.Generate()
		if err != nil {
			return types.Message{}, fmt.Errorf("generate message id: %w", err)
		}
		msg.Id = id
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	return msg, nil
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
