package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/queue"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/tasks"
)

type TaskRouter struct {
	store    Store
	reports  queue.Client
	registry *tasks.Registry
	router   chi.Router
}

func (t *TaskRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewTaskRouter(store Store, reports queue.Client, registry *tasks.Registry) *TaskRouter {
	r := &TaskRouter{
		store:    store,
		reports:  reports,
		registry: registry,
		router:   chi.NewRouter(),
	}
	r.router.Get("/", r.ListTasks)
	r.router.Route("/{task}", func(tr chi.Router) {
		tr.Get("/attempts", r.GetAttempts)
		tr.Get("/attempts/{date}", r.GetAttempt)
		tr.Get("/missing", r.GetMissingDate)
		tr.Get("/runs", r.GetRuns)
	})

	return r
}

func (t *TaskRouter) ListTasks(w http.ResponseWriter, _ *http.Request) {
	all := t.registry.All()
	resp := make([]TaskResponse, 0, len(all))
	for _, task := range all {
		resp = append(resp, TaskResponse{
			Name:    task.Name,
			Command: task.Group + " " + task.Command,
			Short:   task.Short,
		})
	}
	serveJson(w, resp)
}

// taskName returns the {task} url parameter, answering 404 when the task is not registered
func (t *TaskRouter) taskName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "task")
	if _, ok := t.registry.Get(name); !ok {
		http.Error(w, "unknown task "+name, http.StatusNotFound)
		return "", false
	}
	return name, true
}

func (t *TaskRouter) GetAttempts(w http.ResponseWriter, r *http.Request) {
	name, ok := t.taskName(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	attempts, err := t.store.ListAttempts(r.Context(), name, limit)
	if err != nil {
		http.Error(w, "Failed to fetch task attempts", http.StatusInternalServerError)
		log.Error().Err(err).Str("task", name).Msg("Failed to fetch task attempts")
		return
	}

	resp := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, newAttemptResponse(a))
	}
	serveJson(w, resp)
}

func (t *TaskRouter) GetAttempt(w http.ResponseWriter, r *http.Request) {
	name, ok := t.taskName(w, r)
	if !ok {
		return
	}

	date, err := reconcile.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	attempt, ok, err := t.store.GetAttempt(r.Context(), date, name)
	if err != nil {
		http.Error(w, "Failed to fetch task attempt", http.StatusInternalServerError)
		log.Error().Err(err).Str("task", name).Str("date", date.Format(reconcile.DateLayout)).Msg("Failed to fetch task attempt")
		return
	}
	if !ok {
		http.Error(w, "no attempt of "+name+" on "+date.Format(reconcile.DateLayout), http.StatusNotFound)
		return
	}
	serveJson(w, newAttemptResponse(*attempt))
}

func (t *TaskRouter) GetMissingDate(w http.ResponseWriter, r *http.Request) {
	name, ok := t.taskName(w, r)
	if !ok {
		return
	}

	missing, ok, err := t.store.NextMissingDate(r.Context(), name)
	if err != nil {
		http.Error(w, "Failed to fetch missing date", http.StatusInternalServerError)
		log.Error().Err(err).Str("task", name).Msg("Failed to fetch missing date")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	serveJson(w, MissingDateResponse{
		Task:   name,
		Date:   missing.Date.Format(reconcile.DateLayout),
		Reason: missing.Reason.String(),
	})
}

func (t *TaskRouter) GetRuns(w http.ResponseWriter, r *http.Request) {
	name, ok := t.taskName(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reports, err := t.reports.Latest(r.Context(), name, int64(limit))
	if err != nil {
		http.Error(w, "Failed to fetch run reports", http.StatusInternalServerError)
		log.Error().Err(err).Str("task", name).Msg("Failed to fetch run reports")
		return
	}
	serveJson(w, reports)
}
