package models

import "time"

// ItemStatus is the lifecycle state of a work item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusCompleted ItemStatus = "completed"
	// StatusInProgress is stored and displayed but no session transition
	// produces it; it stays a valid value for records that carry it.
	StatusInProgress ItemStatus = "in-progress"
)

// IsValidItemStatus checks if a status is one of the known values.
func IsValidItemStatus(s ItemStatus) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusInProgress:
		return true
	default:
		return false
	}
}

// WorkItem is one maintenance task inside a work session. Name, Kind and
// Value are snapshots of the originating definition, not live references.
type WorkItem struct {
	ID          string            `bson:"id" json:"id"`
	Name        string            `bson:"name" json:"name"`
	Kind        IntervalKind      `bson:"kind" json:"kind"`
	Value       int               `bson:"value" json:"value"`
	Status      ItemStatus        `bson:"status" json:"status"`
	AddedAt     time.Time         `bson:"added_at" json:"added_at"`
	CompletedAt *time.Time        `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	Notes       string            `bson:"notes" json:"notes"`
	SubTasks    map[string]string `bson:"sub_tasks,omitempty" json:"sub_tasks,omitempty"`
	SubTaskDone map[string]bool   `bson:"sub_task_done,omitempty" json:"sub_task_done,omitempty"`
}

// Clone returns a deep copy.
func (i WorkItem) Clone() WorkItem {
	out := i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	if i.SubTasks != nil {
		out.SubTasks = make(map[string]string, len(i.SubTasks))
		for k, v := range i.SubTasks {
			out.SubTasks[k] = v
		}
	}
	if i.SubTaskDone != nil {
		out.SubTaskDone = make(map[string]bool, len(i.SubTaskDone))
		for k, v := range i.SubTaskDone {
			out.SubTaskDone[k] = v
		}
	}
	return out
}

// WorkSession is the single active maintenance order for a vehicle.
// A session with zero items does not exist; removing the last item
// destroys the session.
type WorkSession struct {
	ID             string     `bson:"id" json:"id"`
	StartedAt      time.Time  `bson:"started_at" json:"started_at"`
	CompletionDate *time.Time `bson:"completion_date,omitempty" json:"completion_date,omitempty"`
	Items          []WorkItem `bson:"items" json:"items"`
}

// Item returns the item with the given id, or nil.
func (s *WorkSession) Item(id string) *WorkItem {
	if s == nil {
		return nil
	}
	for idx := range s.Items {
		if s.Items[idx].ID == id {
			return &s.Items[idx]
		}
	}
	return nil
}

// HasItemNamed reports whether any item carries the given service name.
func (s *WorkSession) HasItemNamed(name string) bool {
	if s == nil {
		return false
	}
	for _, it := range s.Items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// CompletedCount counts items marked completed.
func (s *WorkSession) CompletedCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, it := range s.Items {
		if it.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy, or nil for a nil session.
func (s *WorkSession) Clone() *WorkSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.CompletionDate != nil {
		t := *s.CompletionDate
		out.CompletionDate = &t
	}
	out.Items = make([]WorkItem, len(s.Items))
	for i, it := range s.Items {
		out.Items[i] = it.Clone()
	}
	return &out
}
