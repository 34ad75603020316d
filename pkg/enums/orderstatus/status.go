package orderstatus

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Stored reports whether the status is persisted on the order document.
// Serving and Skipped are derived from the session counter at read time.
func (s Status) Stored() bool {
	return s == Statuses.Pending || s == Statuses.Approved || s == Statuses.Completed
}

type Enum struct {
	Pending   Status
	Approved  Status
	Serving   Status
	Skipped   Status
	Completed Status
}

var Statuses = Enum{
	Pending:   Status{Name: "pending"},
	Approved:  Status{Name: "approved"},
	Serving:   Status{Name: "serving"},
	Skipped:   Status{Name: "skipped"},
	Completed: Status{Name: "completed"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Approved,
	Statuses.Serving,
	Statuses.Skipped,
	Statuses.Completed,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// Parse is ByName for untrusted input.
func Parse(name string) (Status, error) {
	s := ByName(name)
	if s == nil {
		return Status{}, fmt.Errorf("unknown order status %q", name)
	}
	return *s, nil
}

func (s Status) String() string {
	return s.Name
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Name)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(s.Name)
}

func (s *Status) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	name, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		return fmt.Errorf("order status must be a string, got %s", t)
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
