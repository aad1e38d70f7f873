package models

import "time"

// HistoryEntry is an archival record built from the completed items of a
// finalized work session. Entries are user-editable; any edit must be
// followed by a baseline recompute.
type HistoryEntry struct {
	ID        string     `bson:"id" json:"id"`
	Date      time.Time  `bson:"date" json:"date"`
	Odometer  int        `bson:"odometer" json:"odometer"`
	Items     []WorkItem `bson:"items" json:"items"`
	SessionID string     `bson:"session_id,omitempty" json:"session_id,omitempty"`
}

// Clone returns a deep copy.
func (e HistoryEntry) Clone() HistoryEntry {
	out := e
	out.Items = make([]WorkItem, len(e.Items))
	for i, it := range e.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

// CloneHistory deep-copies a vehicle's history ledger.
func CloneHistory(ledger []HistoryEntry) []HistoryEntry {
	if ledger == nil {
		return nil
	}
	out := make([]HistoryEntry, len(ledger))
	for i, e := range ledger {
		out[i] = e.Clone()
	}
	return out
}
