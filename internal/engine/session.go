// Package engine drives the maintenance workflow of a fleet: service
// catalogs, the single active work session per vehicle and the history
// ledger that feeds the next due-date baselines.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

var (
	// ErrItemNotFound is returned when a work item id is not in the session.
	ErrItemNotFound = errors.New("work item not found")
	// ErrNothingToFinalize is returned when a session has no completed items.
	ErrNothingToFinalize = errors.New("no completed items to finalize")
	// ErrNoActiveSession is returned for item operations without a session.
	ErrNoActiveSession = errors.New("no active work session")
	// ErrServiceNotFound is returned when a catalog has no such definition.
	ErrServiceNotFound = errors.New("service not found")
	// ErrDuplicateService is returned when a definition name is already taken.
	ErrDuplicateService = errors.New("service name already in catalog")
	// ErrEntryNotFound is returned when a history entry id is unknown.
	ErrEntryNotFound = errors.New("history entry not found")
)

// AddItem appends a snapshot of the definition to the session as a pending
// item, creating the session when none is active. The returned session is
// the input session; the caller owns persistence.
func AddItem(session *models.WorkSession, def models.ServiceDefinition, now time.Time) *models.WorkSession {
	if session == nil {
		session = &models.WorkSession{
			ID:        uuid.NewString(),
			StartedAt: now,
		}
	}

	item := models.WorkItem{
		ID:      uuid.NewString(),
		Name:    def.Name,
		Kind:    def.Kind,
		Value:   def.IntervalValue,
		Status:  models.StatusPending,
		AddedAt: now,
		Notes:   def.Notes,
	}
	if len(def.SubTasks) > 0 {
		item.SubTasks = make(map[string]string, len(def.SubTasks))
		item.SubTaskDone = make(map[string]bool, len(def.SubTasks))
		for label, value := range def.SubTasks {
			item.SubTasks[label] = value
			item.SubTaskDone[label] = false
		}
	}

	session.Items = append(session.Items, item)
	return session
}

// ToggleCompletion flips an item between pending and completed, stamping or
// clearing its completion time.
func ToggleCompletion(session *models.WorkSession, itemID string, now time.Time) error {
	item := session.Item(itemID)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if item.Status == models.StatusCompleted {
		item.Status = models.StatusPending
		item.CompletedAt = nil
		return nil
	}
	item.Status = models.StatusCompleted
	t := now
	item.CompletedAt = &t
	return nil
}

// RemoveItem deletes an item from the session. Removing the last item
// returns nil: an empty session does not exist.
func RemoveItem(session *models.WorkSession, itemID string) (*models.WorkSession, error) {
	if session == nil {
		return nil, ErrNoActiveSession
	}
	idx := -1
	for i := range session.Items {
		if session.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return session, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	session.Items = append(session.Items[:idx], session.Items[idx+1:]...)
	if len(session.Items) == 0 {
		return nil, nil
	}
	return session, nil
}

// Finalize partitions the session: completed items become a history entry
// stamped with the given odometer, pending items survive as the remaining
// session (nil when none are left). The entry date is the session's
// completion-date override when set, otherwise now.
func Finalize(session *models.WorkSession, odometer int, now time.Time) (models.HistoryEntry, *models.WorkSession, error) {
	if session == nil {
		return models.HistoryEntry{}, nil, ErrNoActiveSession
	}

	var done, pending []models.WorkItem
	for _, item := range session.Items {
		if item.Status == models.StatusCompleted {
			done = append(done, item.Clone())
		} else {
			pending = append(pending, item)
		}
	}
	if len(done) == 0 {
		return models.HistoryEntry{}, session, ErrNothingToFinalize
	}

	date := now
	if session.CompletionDate != nil {
		date = *session.CompletionDate
	}
	entry := models.HistoryEntry{
		ID:        uuid.NewString(),
		Date:      date,
		Odometer:  odometer,
		Items:     done,
		SessionID: session.ID,
	}

	if len(pending) == 0 {
		return entry, nil, nil
	}
	remaining := &models.WorkSession{
		ID:             session.ID,
		StartedAt:      session.StartedAt,
		CompletionDate: session.CompletionDate,
		Items:          pending,
	}
	return entry, remaining, nil
}

// ApplyBaselines updates the catalog in place with the entry's date and
// odometer as the new last-performed baseline of every definition whose
// name matches an item in the entry. Items naming no definition are
// ignored; they stay in the ledger and take effect again if a matching
// definition is ever created.
func ApplyBaselines(catalog []models.ServiceDefinition, entry models.HistoryEntry) {
	km := entry.Odometer
	for _, item := range entry.Items {
		for i := range catalog {
			if catalog[i].Name != item.Name {
				continue
			}
			kmCopy := km
			catalog[i].LastPerformed = &models.Baseline{Date: entry.Date, Odometer: &kmCopy}
		}
	}
}

// RecomputeBaselines rebuilds every definition's last-performed baseline
// from the ledger alone: all baselines are cleared, then the entry with
// the latest date naming each definition wins. Run after any history edit
// so the schedule always reflects the ledger.
func RecomputeBaselines(catalog []models.ServiceDefinition, ledger []models.HistoryEntry) {
	for i := range catalog {
		catalog[i].LastPerformed = nil
	}
	for _, entry := range ledger {
		for _, item := range entry.Items {
			for i := range catalog {
				if catalog[i].Name != item.Name {
					continue
				}
				prev := catalog[i].LastPerformed
				if prev == nil || entry.Date.After(prev.Date) {
					km := entry.Odometer
					catalog[i].LastPerformed = &models.Baseline{Date: entry.Date, Odometer: &km}
				}
			}
		}
	}
}
