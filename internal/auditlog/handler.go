package auditlog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/velicb/supplydesk/pkg"

	log "github.com/sirupsen/logrus"
)

const defaultListLimit = 100

type Handler struct {
	api Api
}

func NewHandler(api Api) *Handler {
	return &Handler{
		api: api,
	}
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := handler.api.List(r.Context(), limit)
	if err != nil {
		log.Errorf("list audit events: %s", err)
		http.Error(w, "failed to list audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []Event{}
	}

	eventsJson, err := json.Marshal(events)
	if err != nil {
		log.Errorf("marshal audit events: %s", err)
		http.Error(w, "failed to list audit events", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, eventsJson)
}

func (handler *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := handler.api.Stats(r.Context())
	if err != nil {
		log.Errorf("audit events stats: %s", err)
		http.Error(w, "failed to get audit stats", http.StatusInternalServerError)
		return
	}

	statsJson, err := json.Marshal(stats)
	if err != nil {
		log.Errorf("marshal audit stats: %s", err)
		http.Error(w, "failed to get audit stats", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, statsJson)
}
