package httputils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/omnierp/go-erp/es"
)

// EventHandler returns an http.Handler that decodes an event envelope
// from the request body and forwards it to the handler, typically a
// projection runner. Responds 201 once the event is handled.
func EventHandler(next es.EventHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var evt es.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		if evt.TenantID.IsZero() {
			http.Error(w, "event is missing a tenant id", http.StatusBadRequest)
			return
		}
		if evt.AggregateID.IsZero() || evt.SequenceNumber < 1 {
			http.Error(w, "event is missing its stream position", http.StatusBadRequest)
			return
		}

		if err := next.HandleEvent(r.Context(), evt); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, es.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, es.ErrTenantIsolation):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, es.ErrProjectionDeserialize), errors.Is(err, es.ErrUnknownEvent):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
