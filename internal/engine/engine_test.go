package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/schedule"
)

// fakeStore serves a fixed fleet and records nothing; the engine only
// reads from it once per vehicle.
type fakeStore struct {
	vehicles map[string]*models.Vehicle
	services map[string][]models.ServiceDefinition
	sessions map[string]*models.WorkSession
	history  map[string][]models.HistoryEntry
}

func (s *fakeStore) LoadVehicle(ctx context.Context, plate string) (*models.Vehicle, error) {
	v, ok := s.vehicles[plate]
	if !ok {
		return nil, db.ErrVehicleNotFound
	}
	copy := *v
	return &copy, nil
}

func (s *fakeStore) LoadServiceCatalog(ctx context.Context, plate string) ([]models.ServiceDefinition, error) {
	if _, ok := s.vehicles[plate]; !ok {
		return nil, db.ErrVehicleNotFound
	}
	return models.CloneCatalog(s.services[plate]), nil
}

func (s *fakeStore) LoadWorkSession(ctx context.Context, plate string) (*models.WorkSession, error) {
	if _, ok := s.vehicles[plate]; !ok {
		return nil, db.ErrVehicleNotFound
	}
	return s.sessions[plate].Clone(), nil
}

func (s *fakeStore) LoadHistory(ctx context.Context, plate string) ([]models.HistoryEntry, error) {
	if _, ok := s.vehicles[plate]; !ok {
		return nil, db.ErrVehicleNotFound
	}
	return models.CloneHistory(s.history[plate]), nil
}

func (s *fakeStore) Persist(ctx context.Context, plate string, update db.VehicleUpdate) error {
	return nil
}

// fakeWriter records enqueued updates synchronously.
type fakeWriter struct {
	mu      sync.Mutex
	updates []db.VehicleUpdate
}

func (w *fakeWriter) Enqueue(plate string, update db.VehicleUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, update)
}

func (w *fakeWriter) last(t *testing.T) db.VehicleUpdate {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.updates)
	return w.updates[len(w.updates)-1]
}

const plate = "ABC-123"

func newTestEngine(t *testing.T) (*Engine, *fakeWriter) {
	t.Helper()
	km := 100000
	store := &fakeStore{
		vehicles: map[string]*models.Vehicle{
			plate: {LicensePlate: plate, Make: "Volvo", Model: "FH16", CurrentKm: 112500},
		},
		services: map[string][]models.ServiceDefinition{
			plate: {
				{
					Name:          "Oil change",
					Kind:          models.KindDistance,
					IntervalValue: 15000,
					LastPerformed: &models.Baseline{Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Odometer: &km},
				},
				{
					Name:          "Annual inspection",
					Kind:          models.KindElapsed,
					IntervalValue: 1,
					TimeUnit:      models.UnitYears,
					LastPerformed: &models.Baseline{Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
				},
			},
		},
		sessions: map[string]*models.WorkSession{},
		history:  map[string][]models.HistoryEntry{},
	}
	writer := &fakeWriter{}
	e := New(store, writer, nil)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e, writer
}

func TestEngine_UnknownVehicle(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Snapshot(context.Background(), "NOPE-000")
	assert.ErrorIs(t, err, db.ErrVehicleNotFound)
}

func TestEngine_MaintenanceOverview(t *testing.T) {
	e, _ := newTestEngine(t)

	overview, err := e.MaintenanceOverview(context.Background(), plate)
	require.NoError(t, err)
	require.Len(t, overview, 2)

	// Oil change has 2500 km left, the inspection ~214 days: oil first.
	assert.Equal(t, "Oil change", overview[0].Definition.Name)
	assert.Equal(t, 2500, overview[0].Status.Remaining)
	assert.Equal(t, "Annual inspection", overview[1].Definition.Name)
	assert.Equal(t, schedule.TierNormal, overview[1].Status.Tier)
	assert.False(t, overview[0].InWork)
}

func TestEngine_CatalogCRUD(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	def := models.ServiceDefinition{Name: "Coolant flush", Kind: models.KindDistance, IntervalValue: 60000}
	require.NoError(t, e.AddService(ctx, plate, def))
	assert.ErrorIs(t, e.AddService(ctx, plate, def), ErrDuplicateService)
	assert.ErrorIs(t, e.AddService(ctx, plate, models.ServiceDefinition{Name: "Bad"}), models.ErrInvalidDefinition)

	update := writer.last(t)
	assert.True(t, update.SetServices)
	assert.Len(t, update.Services, 3)

	def.IntervalValue = 50000
	require.NoError(t, e.UpdateService(ctx, plate, "Coolant flush", def))
	assert.ErrorIs(t, e.UpdateService(ctx, plate, "Missing", def), ErrServiceNotFound)

	require.NoError(t, e.DeleteService(ctx, plate, "Coolant flush"))
	assert.ErrorIs(t, e.DeleteService(ctx, plate, "Coolant flush"), ErrServiceNotFound)

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	assert.Len(t, snap.Services, 2)
}

func TestEngine_RenameServiceOrphansLedgerBaseline(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Finish a session for the oil change so the ledger names it.
	_, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, snap.Session.Items[0].ID)
	require.NoError(t, err)
	_, err = e.FinishWork(ctx, plate)
	require.NoError(t, err)

	// Renaming detaches the definition from the ledger's old name.
	renamed := models.ServiceDefinition{Name: "Engine oil service", Kind: models.KindDistance, IntervalValue: 15000}
	require.NoError(t, e.UpdateService(ctx, plate, "Oil change", renamed))

	snap, err = e.Snapshot(ctx, plate)
	require.NoError(t, err)
	for _, d := range snap.Services {
		if d.Name == "Engine oil service" {
			assert.Nil(t, d.LastPerformed)
		}
	}
}

func TestEngine_WorkSessionFlow(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	session, err := e.ToggleServiceInWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Items, 1)

	update := writer.last(t)
	assert.True(t, update.SetWorkSession)
	require.NotNil(t, update.WorkSession)

	// Toggling again removes it; removing the only item ends the session.
	session, err = e.ToggleServiceInWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.True(t, writer.last(t).SetWorkSession)
	assert.Nil(t, writer.last(t).WorkSession)

	_, err = e.ToggleServiceInWork(ctx, plate, "Missing")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestEngine_WorkItemEdits(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	id := session.Items[0].ID

	session, err = e.UpdateWorkItemNotes(ctx, plate, id, "use 5W-30")
	require.NoError(t, err)
	assert.Equal(t, "use 5W-30", session.Items[0].Notes)

	session, err = e.SetSubTask(ctx, plate, id, "Oil filter", "Mann W 962")
	require.NoError(t, err)
	assert.Equal(t, "Mann W 962", session.Items[0].SubTasks["Oil filter"])
	assert.False(t, session.Items[0].SubTaskDone["Oil filter"])

	session, err = e.ToggleSubTask(ctx, plate, id, "Oil filter")
	require.NoError(t, err)
	assert.True(t, session.Items[0].SubTaskDone["Oil filter"])

	_, err = e.ToggleSubTask(ctx, plate, id, "Missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = e.UpdateWorkItemNotes(ctx, plate, "missing", "x")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestEngine_FinishWorkAdvancesBaselines(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, session.Items[0].ID)
	require.NoError(t, err)

	override := time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)
	_, err = e.SetCompletionDate(ctx, plate, &override)
	require.NoError(t, err)

	entry, err := e.FinishWork(ctx, plate)
	require.NoError(t, err)
	assert.Equal(t, override, entry.Date)
	assert.Equal(t, 112500, entry.Odometer)
	require.Len(t, entry.Items, 1)

	update := writer.last(t)
	assert.True(t, update.SetServices && update.SetWorkSession && update.SetHistory)
	assert.Nil(t, update.WorkSession)
	require.Len(t, update.History, 1)

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	assert.Nil(t, snap.Session)
	for _, d := range snap.Services {
		if d.Name == "Oil change" {
			require.NotNil(t, d.LastPerformed)
			assert.Equal(t, override, d.LastPerformed.Date)
			assert.Equal(t, 112500, *d.LastPerformed.Odometer)
		}
	}

	// Finishing again with nothing in work fails cleanly.
	_, err = e.FinishWork(ctx, plate)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestEngine_FinishWorkKeepsPendingItems(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	session, err := e.AddToWork(ctx, plate, "Annual inspection")
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, session.Items[0].ID)
	require.NoError(t, err)

	_, err = e.FinishWork(ctx, plate)
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	require.NotNil(t, snap.Session)
	require.Len(t, snap.Session.Items, 1)
	assert.Equal(t, "Annual inspection", snap.Session.Items[0].Name)

	_, err = e.FinishWork(ctx, plate)
	assert.ErrorIs(t, err, ErrNothingToFinalize)
}

func TestEngine_UpdateOdometer(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.UpdateOdometer(ctx, plate, 113000))
	update := writer.last(t)
	assert.True(t, update.SetCurrentKm)
	assert.Equal(t, 113000, update.CurrentKm)

	// A lower feed reading is dropped without error.
	require.NoError(t, e.UpdateOdometer(ctx, plate, 50))
	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	assert.Equal(t, 113000, snap.Vehicle.CurrentKm)
}

func TestEngine_SetOdometerAllowsCorrectionDownward(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	// A fat-fingered manual entry...
	require.NoError(t, e.SetOdometer(ctx, plate, 1125000))
	// ...can be corrected back down, unlike a feed reading.
	require.NoError(t, e.SetOdometer(ctx, plate, 112600))

	update := writer.last(t)
	assert.True(t, update.SetCurrentKm)
	assert.Equal(t, 112600, update.CurrentKm)

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	assert.Equal(t, 112600, snap.Vehicle.CurrentKm)
}

func TestEngine_HistoryEdits(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, session.Items[0].ID)
	require.NoError(t, err)
	entry, err := e.FinishWork(ctx, plate)
	require.NoError(t, err)

	// Rewriting the entry moves the baseline with it.
	newDate := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.EditHistoryEntry(ctx, plate, entry.ID, newDate, 111000))

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	for _, d := range snap.Services {
		if d.Name == "Oil change" {
			require.NotNil(t, d.LastPerformed)
			assert.Equal(t, newDate, d.LastPerformed.Date)
			assert.Equal(t, 111000, *d.LastPerformed.Odometer)
		}
	}

	// Renaming the item detaches it from the definition.
	newName := "Gearbox oil"
	require.NoError(t, e.EditHistoryItem(ctx, plate, entry.ID, entry.Items[0].ID, &newName, nil, nil, nil))
	snap, err = e.Snapshot(ctx, plate)
	require.NoError(t, err)
	for _, d := range snap.Services {
		if d.Name == "Oil change" {
			assert.Nil(t, d.LastPerformed)
		}
	}

	// Deleting the only item removes the whole entry and its baseline.
	require.NoError(t, e.DeleteHistoryItem(ctx, plate, entry.ID, entry.Items[0].ID))
	history, err := e.History(ctx, plate)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, e.DeleteHistoryEntry(ctx, plate, entry.ID), ErrEntryNotFound)
}

func TestEngine_EditHistoryItemSubTaskFlags(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	id := session.Items[0].ID
	_, err = e.SetSubTask(ctx, plate, id, "Oil filter", "Mann W 962")
	require.NoError(t, err)
	_, err = e.SetSubTask(ctx, plate, id, "Drain plug washer", "copper 18mm")
	require.NoError(t, err)
	_, err = e.ToggleSubTask(ctx, plate, id, "Oil filter")
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, id)
	require.NoError(t, err)
	entry, err := e.FinishWork(ctx, plate)
	require.NoError(t, err)

	// Flip an archived flag without touching the labels.
	err = e.EditHistoryItem(ctx, plate, entry.ID, entry.Items[0].ID, nil, nil, nil,
		map[string]bool{"Oil filter": false, "Drain plug washer": true})
	require.NoError(t, err)

	history, err := e.History(ctx, plate)
	require.NoError(t, err)
	item := history[0].Items[0]
	assert.False(t, item.SubTaskDone["Oil filter"])
	assert.True(t, item.SubTaskDone["Drain plug washer"])

	// Replacing the labels drops stale done keys and keeps matching ones.
	err = e.EditHistoryItem(ctx, plate, entry.ID, entry.Items[0].ID, nil, nil,
		map[string]string{"Drain plug washer": "copper 18mm"}, nil)
	require.NoError(t, err)

	history, err = e.History(ctx, plate)
	require.NoError(t, err)
	item = history[0].Items[0]
	assert.Equal(t, map[string]string{"Drain plug washer": "copper 18mm"}, item.SubTasks)
	assert.Equal(t, map[string]bool{"Drain plug washer": true}, item.SubTaskDone)
}

// The write queue marshals updates on its own goroutine, so an enqueued
// update must not change when the engine state it came from does.
func TestEngine_EnqueuedUpdatesAreDetached(t *testing.T) {
	e, writer := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	id := session.Items[0].ID
	_, err = e.SetSubTask(ctx, plate, id, "Oil filter", "Mann W 962")
	require.NoError(t, err)

	queued := writer.last(t)
	require.NotNil(t, queued.WorkSession)
	require.NotSame(t, session, queued.WorkSession)

	_, err = e.SetSubTask(ctx, plate, id, "Oil filter", "Mann W 950")
	require.NoError(t, err)
	_, err = e.UpdateWorkItemNotes(ctx, plate, id, "changed later")
	require.NoError(t, err)

	assert.Equal(t, "Mann W 962", queued.WorkSession.Items[0].SubTasks["Oil filter"])
	assert.Empty(t, queued.WorkSession.Items[0].Notes)

	// Catalog and ledger updates are detached the same way.
	def := models.ServiceDefinition{Name: "Coolant flush", Kind: models.KindDistance, IntervalValue: 60000}
	require.NoError(t, e.AddService(ctx, plate, def))
	queued = writer.last(t)
	require.Len(t, queued.Services, 3)

	def.IntervalValue = 50000
	require.NoError(t, e.UpdateService(ctx, plate, "Coolant flush", def))
	assert.Equal(t, 60000, queued.Services[2].IntervalValue)
}

func TestEngine_DeleteHistoryEntryRecomputes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	session, err := e.AddToWork(ctx, plate, "Oil change")
	require.NoError(t, err)
	_, err = e.ToggleWorkItem(ctx, plate, session.Items[0].ID)
	require.NoError(t, err)
	entry, err := e.FinishWork(ctx, plate)
	require.NoError(t, err)

	require.NoError(t, e.DeleteHistoryEntry(ctx, plate, entry.ID))

	snap, err := e.Snapshot(ctx, plate)
	require.NoError(t, err)
	assert.Empty(t, snap.History)
	for _, d := range snap.Services {
		if d.Name == "Oil change" {
			assert.Nil(t, d.LastPerformed)
		}
	}
}
