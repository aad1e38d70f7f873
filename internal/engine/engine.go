package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/schedule"
)

// Writer accepts partial vehicle updates for eventual persistence.
// *db.WriteQueue satisfies it.
type Writer interface {
	Enqueue(licensePlate string, update db.VehicleUpdate)
}

// Engine holds the in-memory maintenance state of the fleet and is the
// single writer to it. Mutations apply in memory first and are queued for
// persistence; a failed write is reported but never rolled back.
type Engine struct {
	store  db.VehicleStore
	writer Writer
	log    *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	fleet map[string]*vehicleState
}

type vehicleState struct {
	vehicle  models.Vehicle
	services []models.ServiceDefinition
	session  *models.WorkSession
	history  []models.HistoryEntry
}

// Snapshot is a deep copy of one vehicle's maintenance state.
type Snapshot struct {
	Vehicle  models.Vehicle             `json:"vehicle"`
	Services []models.ServiceDefinition `json:"services"`
	Session  *models.WorkSession        `json:"active_work_session,omitempty"`
	History  []models.HistoryEntry      `json:"history"`
}

// ServiceStatus pairs a definition with its computed due state.
type ServiceStatus struct {
	Definition models.ServiceDefinition `json:"definition"`
	Status     schedule.Status          `json:"status"`
	InWork     bool                     `json:"in_work"`
}

// New creates an engine over the given store and write queue.
func New(store db.VehicleStore, writer Writer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		store:  store,
		writer: writer,
		log:    logger,
		now:    time.Now,
		fleet:  make(map[string]*vehicleState),
	}
}

// load returns the cached state for a vehicle, reading it from the store on
// first access. Caller must hold e.mu.
func (e *Engine) load(ctx context.Context, licensePlate string) (*vehicleState, error) {
	if st, ok := e.fleet[licensePlate]; ok {
		return st, nil
	}

	vehicle, err := e.store.LoadVehicle(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	services, err := e.store.LoadServiceCatalog(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	session, err := e.store.LoadWorkSession(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	history, err := e.store.LoadHistory(ctx, licensePlate)
	if err != nil {
		return nil, err
	}

	st := &vehicleState{
		vehicle:  *vehicle,
		services: services,
		session:  session,
		history:  history,
	}
	e.fleet[licensePlate] = st
	e.log.WithField("vehicle", licensePlate).Debug("Loaded vehicle state")
	return st, nil
}

func (st *vehicleState) snapshot() Snapshot {
	return Snapshot{
		Vehicle:  st.vehicle,
		Services: models.CloneCatalog(st.services),
		Session:  st.session.Clone(),
		History:  models.CloneHistory(st.history),
	}
}

// Evict drops the cached state for a vehicle, forcing a reload from the
// store on next access. Called after the vehicle record itself changes
// outside the engine, e.g. when it is deleted.
func (e *Engine) Evict(licensePlate string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fleet, licensePlate)
}

// Snapshot returns a deep copy of the vehicle's full maintenance state.
func (e *Engine) Snapshot(ctx context.Context, licensePlate string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return Snapshot{}, err
	}
	return st.snapshot(), nil
}

// MaintenanceOverview computes the due status of every catalog definition,
// ordered most urgent first, and marks definitions already on the active
// work session.
func (e *Engine) MaintenanceOverview(ctx context.Context, licensePlate string) ([]ServiceStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return nil, err
	}

	today := e.now()
	state := schedule.VehicleState{Odometer: st.vehicle.CurrentKm}
	sorted := schedule.SortByUrgency(st.services, state, today)

	out := make([]ServiceStatus, 0, len(sorted))
	for _, def := range sorted {
		status, err := schedule.ComputeStatus(def, state, today)
		if err != nil {
			return nil, err
		}
		out = append(out, ServiceStatus{
			Definition: def,
			Status:     status,
			InWork:     st.session.HasItemNamed(def.Name),
		})
	}
	return out, nil
}

// AddService appends a definition to the vehicle's catalog.
func (e *Engine) AddService(ctx context.Context, licensePlate string, def models.ServiceDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	for _, existing := range st.services {
		if existing.Name == def.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateService, def.Name)
		}
	}

	st.services = append(st.services, def.Clone())
	e.persistServices(licensePlate, st)
	return nil
}

// UpdateService replaces the definition with the given name. Renaming is
// allowed and intentionally orphans history items carrying the old name;
// they no longer feed the baseline until an entry names the new one.
func (e *Engine) UpdateService(ctx context.Context, licensePlate, name string, def models.ServiceDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	idx := indexOfService(st.services, name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if def.Name != name {
		if indexOfService(st.services, def.Name) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateService, def.Name)
		}
	}

	st.services[idx] = def.Clone()
	e.persistServices(licensePlate, st)
	return nil
}

// DeleteService removes a definition from the catalog. History entries that
// reference it stay untouched.
func (e *Engine) DeleteService(ctx context.Context, licensePlate, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	idx := indexOfService(st.services, name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	st.services = append(st.services[:idx], st.services[idx+1:]...)
	e.persistServices(licensePlate, st)
	return nil
}

// ToggleServiceInWork adds the named service to the work session when it is
// not there, and removes its item when it is.
func (e *Engine) ToggleServiceInWork(ctx context.Context, licensePlate, name string) (*models.WorkSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	idx := indexOfService(st.services, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	if st.session.HasItemNamed(name) {
		for _, item := range st.session.Items {
			if item.Name == name {
				st.session, _ = RemoveItem(st.session, item.ID)
				break
			}
		}
	} else {
		st.session = AddItem(st.session, st.services[idx], e.now())
	}

	e.persistSession(licensePlate, st)
	return st.session.Clone(), nil
}

// AddToWork puts the named service on the active session, starting one if
// needed.
func (e *Engine) AddToWork(ctx context.Context, licensePlate, name string) (*models.WorkSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	idx := indexOfService(st.services, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	st.session = AddItem(st.session, st.services[idx], e.now())
	e.persistSession(licensePlate, st)
	return st.session.Clone(), nil
}

// ToggleWorkItem flips a work item between pending and completed.
func (e *Engine) ToggleWorkItem(ctx context.Context, licensePlate, itemID string) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		if st.session == nil {
			return ErrNoActiveSession
		}
		return ToggleCompletion(st.session, itemID, e.now())
	})
}

// RemoveWorkItem deletes an item from the session; removing the last item
// ends the session.
func (e *Engine) RemoveWorkItem(ctx context.Context, licensePlate, itemID string) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		session, err := RemoveItem(st.session, itemID)
		if err != nil {
			return err
		}
		st.session = session
		return nil
	})
}

// UpdateWorkItemNotes replaces the free-text notes of a work item.
func (e *Engine) UpdateWorkItemNotes(ctx context.Context, licensePlate, itemID, notes string) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		item := st.session.Item(itemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		item.Notes = notes
		return nil
	})
}

// SetSubTask sets the recorded value of a work item's sub-task, creating
// the label when new.
func (e *Engine) SetSubTask(ctx context.Context, licensePlate, itemID, label, value string) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		item := st.session.Item(itemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		if item.SubTasks == nil {
			item.SubTasks = make(map[string]string)
		}
		if item.SubTaskDone == nil {
			item.SubTaskDone = make(map[string]bool)
		}
		if _, ok := item.SubTaskDone[label]; !ok {
			item.SubTaskDone[label] = false
		}
		item.SubTasks[label] = value
		return nil
	})
}

// ToggleSubTask flips the done flag of a work item's sub-task.
func (e *Engine) ToggleSubTask(ctx context.Context, licensePlate, itemID, label string) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		item := st.session.Item(itemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		if _, ok := item.SubTasks[label]; !ok {
			return fmt.Errorf("%w: sub-task %q", ErrItemNotFound, label)
		}
		if item.SubTaskDone == nil {
			item.SubTaskDone = make(map[string]bool)
		}
		item.SubTaskDone[label] = !item.SubTaskDone[label]
		return nil
	})
}

// SetCompletionDate overrides the date the next finalize stamps on the
// history entry. A nil date clears the override.
func (e *Engine) SetCompletionDate(ctx context.Context, licensePlate string, date *time.Time) (*models.WorkSession, error) {
	return e.mutateSession(ctx, licensePlate, func(st *vehicleState) error {
		if st.session == nil {
			return ErrNoActiveSession
		}
		st.session.CompletionDate = date
		return nil
	})
}

func (e *Engine) mutateSession(ctx context.Context, licensePlate string, mutate func(*vehicleState) error) (*models.WorkSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	if err := mutate(st); err != nil {
		return nil, err
	}
	e.persistSession(licensePlate, st)
	return st.session.Clone(), nil
}

// UpdateOdometer records an odometer reading from the telemetry feed.
// Readings below the current value are dropped; a sensor does not run
// backwards, so a lower reading is stale or misrouted.
func (e *Engine) UpdateOdometer(ctx context.Context, licensePlate string, km int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	if km < st.vehicle.CurrentKm {
		e.log.WithFields(log.Fields{
			"vehicle": licensePlate,
			"current": st.vehicle.CurrentKm,
			"reading": km,
		}).Warn("Ignoring odometer reading lower than current")
		return nil
	}

	e.setOdometer(licensePlate, st, km)
	return nil
}

// SetOdometer sets the odometer to an explicit value, lower ones included,
// so a mistyped entry can be corrected by hand.
func (e *Engine) SetOdometer(ctx context.Context, licensePlate string, km int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	e.setOdometer(licensePlate, st, km)
	return nil
}

func (e *Engine) setOdometer(licensePlate string, st *vehicleState, km int) {
	st.vehicle.CurrentKm = km
	e.writer.Enqueue(licensePlate, db.VehicleUpdate{CurrentKm: km, SetCurrentKm: true})
}

// FinishWork finalizes the active session: completed items become a history
// entry, the catalog baselines advance, pending items remain in work.
func (e *Engine) FinishWork(ctx context.Context, licensePlate string) (models.HistoryEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	entry, remaining, err := Finalize(st.session, st.vehicle.CurrentKm, e.now())
	if err != nil {
		return models.HistoryEntry{}, err
	}

	st.session = remaining
	st.history = append(st.history, entry)
	ApplyBaselines(st.services, entry)

	e.writer.Enqueue(licensePlate, db.VehicleUpdate{
		Services:       models.CloneCatalog(st.services),
		WorkSession:    st.session.Clone(),
		History:        models.CloneHistory(st.history),
		SetServices:    true,
		SetWorkSession: true,
		SetHistory:     true,
	})
	e.log.WithFields(log.Fields{
		"vehicle": licensePlate,
		"items":   len(entry.Items),
	}).Info("Finalized work session")
	return entry.Clone(), nil
}

// History returns a deep copy of the vehicle's ledger.
func (e *Engine) History(ctx context.Context, licensePlate string) ([]models.HistoryEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return nil, err
	}
	return models.CloneHistory(st.history), nil
}

// EditHistoryEntry rewrites an entry's date and odometer, then recomputes
// every baseline from the ledger.
func (e *Engine) EditHistoryEntry(ctx context.Context, licensePlate, entryID string, date time.Time, odometer int) error {
	return e.mutateHistory(ctx, licensePlate, entryID, func(entry *models.HistoryEntry) error {
		entry.Date = date
		entry.Odometer = odometer
		return nil
	})
}

// DeleteHistoryEntry removes a ledger entry, then recomputes baselines.
func (e *Engine) DeleteHistoryEntry(ctx context.Context, licensePlate, entryID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	idx := indexOfEntry(st.history, entryID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	st.history = append(st.history[:idx], st.history[idx+1:]...)
	RecomputeBaselines(st.services, st.history)
	e.persistLedger(licensePlate, st)
	return nil
}

// DeleteHistoryItem removes one item from a ledger entry. An entry left
// empty is removed entirely. Baselines are recomputed after.
func (e *Engine) DeleteHistoryItem(ctx context.Context, licensePlate, entryID, itemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	idx := indexOfEntry(st.history, entryID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	entry := &st.history[idx]

	itemIdx := -1
	for i := range entry.Items {
		if entry.Items[i].ID == itemID {
			itemIdx = i
			break
		}
	}
	if itemIdx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	entry.Items = append(entry.Items[:itemIdx], entry.Items[itemIdx+1:]...)
	if len(entry.Items) == 0 {
		st.history = append(st.history[:idx], st.history[idx+1:]...)
	}
	RecomputeBaselines(st.services, st.history)
	e.persistLedger(licensePlate, st)
	return nil
}

// EditHistoryItem rewrites an item inside a ledger entry. Nil fields are
// left unchanged. Replacing the sub-tasks reconciles the done flags to the
// new label set; subTaskDone then overrides flags for known labels.
// Baselines are recomputed after, since renaming an item changes which
// definition it feeds.
func (e *Engine) EditHistoryItem(ctx context.Context, licensePlate, entryID, itemID string, name, notes *string, subTasks map[string]string, subTaskDone map[string]bool) error {
	return e.mutateHistory(ctx, licensePlate, entryID, func(entry *models.HistoryEntry) error {
		for i := range entry.Items {
			if entry.Items[i].ID != itemID {
				continue
			}
			item := &entry.Items[i]
			if name != nil {
				item.Name = *name
			}
			if notes != nil {
				item.Notes = *notes
			}
			if subTasks != nil {
				done := make(map[string]bool, len(subTasks))
				for label := range subTasks {
					done[label] = item.SubTaskDone[label]
				}
				item.SubTasks = subTasks
				item.SubTaskDone = done
			}
			if subTaskDone != nil {
				if item.SubTaskDone == nil {
					item.SubTaskDone = make(map[string]bool, len(subTaskDone))
				}
				for label, v := range subTaskDone {
					if _, ok := item.SubTasks[label]; ok {
						item.SubTaskDone[label] = v
					}
				}
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	})
}

func (e *Engine) mutateHistory(ctx context.Context, licensePlate, entryID string, mutate func(*models.HistoryEntry) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.load(ctx, licensePlate)
	if err != nil {
		return err
	}
	idx := indexOfEntry(st.history, entryID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err := mutate(&st.history[idx]); err != nil {
		return err
	}

	RecomputeBaselines(st.services, st.history)
	e.persistLedger(licensePlate, st)
	return nil
}

// The persist helpers enqueue deep copies: the queue's timer goroutine
// marshals the update later, outside e.mu, so it must never alias state the
// next request can mutate.
func (e *Engine) persistServices(licensePlate string, st *vehicleState) {
	e.writer.Enqueue(licensePlate, db.VehicleUpdate{Services: models.CloneCatalog(st.services), SetServices: true})
}

func (e *Engine) persistSession(licensePlate string, st *vehicleState) {
	e.writer.Enqueue(licensePlate, db.VehicleUpdate{WorkSession: st.session.Clone(), SetWorkSession: true})
}

func (e *Engine) persistLedger(licensePlate string, st *vehicleState) {
	e.writer.Enqueue(licensePlate, db.VehicleUpdate{
		Services:    models.CloneCatalog(st.services),
		History:     models.CloneHistory(st.history),
		SetServices: true,
		SetHistory:  true,
	})
}

func indexOfService(catalog []models.ServiceDefinition, name string) int {
	for i := range catalog {
		if catalog[i].Name == name {
			return i
		}
	}
	return -1
}

func indexOfEntry(ledger []models.HistoryEntry, id string) int {
	for i := range ledger {
		if ledger[i].ID == id {
			return i
		}
	}
	return -1
}
