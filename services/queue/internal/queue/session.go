package queue

import (
	"strconv"
	"strings"
)

// SessionID names a serving period with its own ticket sequence.
type SessionID string

const DefaultSessionID SessionID = "Session 1"

func (s SessionID) String() string {
	return string(s)
}

// CounterKey is the document key of the session counter.
func (s SessionID) CounterKey() string {
	return "session_" + string(s)
}

// NextSessionID derives the label that follows previous by incrementing its
// trailing number: "Session 1" becomes "Session 2", "Lunch" becomes "Lunch 2".
func NextSessionID(previous SessionID) SessionID {
	label := strings.TrimSpace(string(previous))
	if label == "" {
		return DefaultSessionID
	}

	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}

	if i == len(label) {
		return SessionID(label + " 2")
	}

	n, err := strconv.Atoi(label[i:])
	if err != nil {
		return SessionID(label + " 2")
	}
	return SessionID(label[:i] + strconv.Itoa(n+1))
}

// ActiveSession is the settings/activeSession pointer document.
type ActiveSession struct {
	ID        string    `bson:"_id" json:"-"`
	SessionID SessionID `bson:"session_id" json:"session_id"`
}
