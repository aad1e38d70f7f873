package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/engine"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// VehicleDirectory manages the fleet's vehicle records themselves.
// *db.MongoVehicleStore satisfies it.
type VehicleDirectory interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) error
	DeleteVehicle(ctx context.Context, licensePlate string) error
}

// MaintenanceHandler exposes the maintenance engine over HTTP.
type MaintenanceHandler struct {
	engine    *engine.Engine
	directory VehicleDirectory
	log       *log.Logger
}

// NewMaintenanceHandler creates a handler over the engine.
func NewMaintenanceHandler(eng *engine.Engine, directory VehicleDirectory, logger *log.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MaintenanceHandler{engine: eng, directory: directory, log: logger}
}

// Register mounts all maintenance routes on the router.
func (h *MaintenanceHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/vehicles", h.ListVehicles).Methods(http.MethodGet)
	r.HandleFunc("/api/vehicles", h.CreateVehicle).Methods(http.MethodPost)

	v := r.PathPrefix("/api/vehicles/{plate}").Subrouter()
	v.HandleFunc("", h.GetVehicle).Methods(http.MethodGet)
	v.HandleFunc("", h.DeleteVehicle).Methods(http.MethodDelete)
	v.HandleFunc("/maintenance", h.GetMaintenanceOverview).Methods(http.MethodGet)
	v.HandleFunc("/odometer", h.UpdateOdometer).Methods(http.MethodPut)

	v.HandleFunc("/services", h.AddService).Methods(http.MethodPost)
	v.HandleFunc("/services/{name}", h.UpdateService).Methods(http.MethodPut)
	v.HandleFunc("/services/{name}", h.DeleteService).Methods(http.MethodDelete)
	v.HandleFunc("/services/{name}/toggle-work", h.ToggleServiceInWork).Methods(http.MethodPost)

	v.HandleFunc("/work/items", h.AddToWork).Methods(http.MethodPost)
	v.HandleFunc("/work/items/{id}/toggle", h.ToggleWorkItem).Methods(http.MethodPost)
	v.HandleFunc("/work/items/{id}", h.RemoveWorkItem).Methods(http.MethodDelete)
	v.HandleFunc("/work/items/{id}/notes", h.UpdateWorkItemNotes).Methods(http.MethodPut)
	v.HandleFunc("/work/items/{id}/subtasks", h.SetSubTask).Methods(http.MethodPut)
	v.HandleFunc("/work/items/{id}/subtasks/toggle", h.ToggleSubTask).Methods(http.MethodPost)
	v.HandleFunc("/work/completion-date", h.SetCompletionDate).Methods(http.MethodPut)
	v.HandleFunc("/work/finish", h.FinishWork).Methods(http.MethodPost)

	v.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	v.HandleFunc("/history/{entryId}", h.EditHistoryEntry).Methods(http.MethodPut)
	v.HandleFunc("/history/{entryId}", h.DeleteHistoryEntry).Methods(http.MethodDelete)
	v.HandleFunc("/history/{entryId}/items/{itemId}", h.EditHistoryItem).Methods(http.MethodPut)
	v.HandleFunc("/history/{entryId}/items/{itemId}", h.DeleteHistoryItem).Methods(http.MethodDelete)
}

// ListVehicles returns the fleet's vehicle records.
func (h *MaintenanceHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.directory.ListVehicles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// CreateVehicle adds a vehicle record to the fleet.
func (h *MaintenanceHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var vehicle models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&vehicle); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if vehicle.LicensePlate == "" {
		http.Error(w, "License plate is required", http.StatusBadRequest)
		return
	}

	if err := h.directory.InsertVehicle(r.Context(), vehicle); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.WithField("vehicle", vehicle.LicensePlate).Info("Created vehicle")
	writeJSON(w, http.StatusCreated, vehicle)
}

// DeleteVehicle removes a vehicle and all its maintenance state.
func (h *MaintenanceHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	plate := mux.Vars(r)["plate"]
	if err := h.directory.DeleteVehicle(r.Context(), plate); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.engine.Evict(plate)
	h.log.WithField("vehicle", plate).Info("Deleted vehicle")
	w.WriteHeader(http.StatusNoContent)
}

// GetVehicle returns the full maintenance snapshot of one vehicle.
func (h *MaintenanceHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetMaintenanceOverview returns every service's due status, most urgent
// first.
func (h *MaintenanceHandler) GetMaintenanceOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.engine.MaintenanceOverview(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// UpdateOdometer sets the odometer from a manual entry. Unlike the
// telemetry feed this sets the value as given, so a too-high mistake can
// be corrected downward.
func (h *MaintenanceHandler) UpdateOdometer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kilometers int `json:"kilometers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Kilometers < 0 {
		http.Error(w, "Odometer must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetOdometer(r.Context(), mux.Vars(r)["plate"], req.Kilometers); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Odometer updated"})
}

// AddService adds a definition to the vehicle's catalog.
func (h *MaintenanceHandler) AddService(w http.ResponseWriter, r *http.Request) {
	var def models.ServiceDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.engine.AddService(r.Context(), mux.Vars(r)["plate"], def); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// UpdateService replaces a catalog definition.
func (h *MaintenanceHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	var def models.ServiceDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	if err := h.engine.UpdateService(r.Context(), vars["plate"], vars["name"], def); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// DeleteService removes a catalog definition.
func (h *MaintenanceHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteService(r.Context(), vars["plate"], vars["name"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleServiceInWork adds the service to the work session or removes it.
func (h *MaintenanceHandler) ToggleServiceInWork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := h.engine.ToggleServiceInWork(r.Context(), vars["plate"], vars["name"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// AddToWork puts a named service on the work session.
func (h *MaintenanceHandler) AddToWork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	session, err := h.engine.AddToWork(r.Context(), mux.Vars(r)["plate"], req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

// ToggleWorkItem flips an item between pending and completed.
func (h *MaintenanceHandler) ToggleWorkItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := h.engine.ToggleWorkItem(r.Context(), vars["plate"], vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// RemoveWorkItem deletes an item from the session.
func (h *MaintenanceHandler) RemoveWorkItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := h.engine.RemoveWorkItem(r.Context(), vars["plate"], vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// UpdateWorkItemNotes replaces an item's notes.
func (h *MaintenanceHandler) UpdateWorkItemNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	session, err := h.engine.UpdateWorkItemNotes(r.Context(), vars["plate"], vars["id"], req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// SetSubTask sets the value of an item's sub-task.
func (h *MaintenanceHandler) SetSubTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Label == "" {
		http.Error(w, "Sub-task label is required", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	session, err := h.engine.SetSubTask(r.Context(), vars["plate"], vars["id"], req.Label, req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// ToggleSubTask flips an item's sub-task done flag.
func (h *MaintenanceHandler) ToggleSubTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	session, err := h.engine.ToggleSubTask(r.Context(), vars["plate"], vars["id"], req.Label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// SetCompletionDate overrides the date the next finish stamps on history.
// A null date clears the override.
func (h *MaintenanceHandler) SetCompletionDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date *time.Time `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	session, err := h.engine.SetCompletionDate(r.Context(), mux.Vars(r)["plate"], req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// FinishWork finalizes the active session into a history entry.
func (h *MaintenanceHandler) FinishWork(w http.ResponseWriter, r *http.Request) {
	plate := mux.Vars(r)["plate"]
	entry, err := h.engine.FinishWork(r.Context(), plate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetHistory returns the vehicle's ledger.
func (h *MaintenanceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// EditHistoryEntry rewrites an entry's date and odometer.
func (h *MaintenanceHandler) EditHistoryEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date     time.Time `json:"date"`
		Odometer int       `json:"odometer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Date.IsZero() {
		http.Error(w, "Date is required", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	if err := h.engine.EditHistoryEntry(r.Context(), vars["plate"], vars["entryId"], req.Date, req.Odometer); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "History entry updated"})
}

// DeleteHistoryEntry removes a ledger entry.
func (h *MaintenanceHandler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteHistoryEntry(r.Context(), vars["plate"], vars["entryId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EditHistoryItem rewrites one item inside a ledger entry.
func (h *MaintenanceHandler) EditHistoryItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string           `json:"name"`
		Notes       *string           `json:"notes"`
		SubTasks    map[string]string `json:"sub_tasks"`
		SubTaskDone map[string]bool   `json:"sub_task_done"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	if err := h.engine.EditHistoryItem(r.Context(), vars["plate"], vars["entryId"], vars["itemId"], req.Name, req.Notes, req.SubTasks, req.SubTaskDone); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "History item updated"})
}

// DeleteHistoryItem removes one item from a ledger entry.
func (h *MaintenanceHandler) DeleteHistoryItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteHistoryItem(r.Context(), vars["plate"], vars["entryId"], vars["itemId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps engine errors to HTTP status codes.
func (h *MaintenanceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, db.ErrVehicleNotFound),
		errors.Is(err, engine.ErrServiceNotFound),
		errors.Is(err, engine.ErrItemNotFound),
		errors.Is(err, engine.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNothingToFinalize),
		errors.Is(err, engine.ErrNoActiveSession),
		errors.Is(err, engine.ErrDuplicateService):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidDefinition):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

// sessionResponse wraps a possibly-nil session so clients always get an
// object with an explicit null.
func sessionResponse(session *models.WorkSession) map[string]interface{} {
	return map[string]interface{}{"active_work_session": session}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
