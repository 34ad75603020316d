package queue

import (
	"context"
	"errors"
	"testing"
)

func TestSessionCounterIssue(t *testing.T) {
	c := NewSessionCounter("Session 1")

	for want := 1; want <= 5; want++ {
		if got := c.Issue(); int(got) != want {
			t.Fatalf("Issue() = %d, want %d", got, want)
		}
	}
	if c.LastIssued != 5 {
		t.Errorf("LastIssued = %d, want 5", c.LastIssued)
	}
	if c.Current != 0 {
		t.Errorf("Current = %d, want 0", c.Current)
	}
}

func TestSessionCounterAdvance(t *testing.T) {
	tests := []struct {
		name       string
		lastIssued int
		current    int
		want       int
	}{
		{name: "emptyCounter", want: 0},
		{name: "behindLastIssued", lastIssued: 3, current: 1, want: 2},
		{name: "caughtUp", lastIssued: 3, current: 3, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &SessionCounter{SessionID: "Session 1", LastIssued: tt.lastIssued, Current: tt.current}
			if got := c.Advance(); got != tt.want {
				t.Errorf("Advance() = %d, want %d", got, tt.want)
			}
			if err := c.Validate(); err != nil {
				t.Errorf("Validate() after Advance() = %v", err)
			}
		})
	}
}

func TestSessionCounterValidate(t *testing.T) {
	bad := &SessionCounter{SessionID: "Session 1", LastIssued: 2, Current: 3}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject current beyond last issued")
	}
}

func TestIssueNextTicketCreatesCounter(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	var token Token
	err := store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		token, _, err = IssueNextTicket(ctx, tx, "Session 9")
		return err
	})
	if err != nil {
		t.Fatalf("IssueNextTicket() error = %v", err)
	}
	if token != 1 {
		t.Errorf("first ticket = %d, want 1", token)
	}
	if c := store.Counter("Session 9"); c == nil || c.LastIssued != 1 || c.Current != 0 {
		t.Errorf("stored counter = %+v, want last_issued 1, current 0", c)
	}
}

func TestIssueNextTicketDiscardedOnFailure(t *testing.T) {
	store := NewMockStore()
	store.PutCounter(&SessionCounter{SessionID: "Session 1", LastIssued: 4})
	boom := errors.New("boom")

	err := store.Atomically(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, _, err := IssueNextTicket(ctx, tx, "Session 1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically() error = %v, want boom", err)
	}
	if c := store.Counter("Session 1"); c.LastIssued != 4 {
		t.Errorf("LastIssued = %d, want 4 after rollback", c.LastIssued)
	}
}

func TestAdvanceCurrentAbsentCounter(t *testing.T) {
	store := NewMockStore()

	var counter *SessionCounter
	err := store.Atomically(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		counter, err = AdvanceCurrent(ctx, tx, "Session 2")
		return err
	})
	if err != nil {
		t.Fatalf("AdvanceCurrent() error = %v", err)
	}
	if counter.Current != 0 || counter.LastIssued != 0 {
		t.Errorf("counter = %d/%d, want 0/0", counter.Current, counter.LastIssued)
	}
	if store.Counter("Session 2") == nil {
		t.Error("AdvanceCurrent() should create the counter")
	}
}
