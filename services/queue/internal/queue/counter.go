package queue

import (
	"context"
	"fmt"
	"time"
)

// SessionCounter tracks the highest issued ticket and the ticket being served
// for one session. Current never exceeds LastIssued and neither decreases.
type SessionCounter struct {
	ID         string    `bson:"_id" json:"-"`
	SessionID  SessionID `bson:"session_id" json:"session_id"`
	LastIssued int       `bson:"last_issued" json:"last_issued"`
	Current    int       `bson:"current" json:"current"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

func NewSessionCounter(id SessionID) *SessionCounter {
	now := time.Now()
	return &SessionCounter{
		ID:        id.CounterKey(),
		SessionID: id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Issue hands out the next ticket.
func (c *SessionCounter) Issue() Token {
	c.LastIssued++
	c.UpdatedAt = time.Now()
	return Token(c.LastIssued)
}

// Advance moves the serving pointer by one, capped at LastIssued.
func (c *SessionCounter) Advance() int {
	if c.Current < c.LastIssued {
		c.Current++
	}
	c.UpdatedAt = time.Now()
	return c.Current
}

func (c *SessionCounter) Validate() error {
	if c.LastIssued < 0 || c.Current < 0 {
		return fmt.Errorf("counter %s has negative values", c.SessionID)
	}
	if c.Current > c.LastIssued {
		return fmt.Errorf("counter %s serves %d beyond last issued %d", c.SessionID, c.Current, c.LastIssued)
	}
	return nil
}

// loadCounter reads the session counter inside tx, starting a zeroed one when
// the session has never issued a ticket.
func loadCounter(ctx context.Context, tx Tx, id SessionID) (*SessionCounter, error) {
	counter, err := tx.GetCounter(ctx, id)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return NewSessionCounter(id), nil
	}
	if err := counter.Validate(); err != nil {
		return nil, err
	}
	return counter, nil
}

// IssueNextTicket draws the next ticket for a session inside tx. It must run
// in the same transaction that writes the ticket onto the order.
func IssueNextTicket(ctx context.Context, tx Tx, id SessionID) (Token, *SessionCounter, error) {
	counter, err := loadCounter(ctx, tx, id)
	if err != nil {
		return 0, nil, err
	}

	token := counter.Issue()
	if err := tx.SaveCounter(ctx, counter); err != nil {
		return 0, nil, err
	}
	return token, counter, nil
}

// AdvanceCurrent moves the serving pointer of a session inside tx.
func AdvanceCurrent(ctx context.Context, tx Tx, id SessionID) (*SessionCounter, error) {
	counter, err := loadCounter(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	counter.Advance()
	if err := tx.SaveCounter(ctx, counter); err != nil {
		return nil, err
	}
	return counter, nil
}
