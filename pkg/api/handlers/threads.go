package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"esmpd/pkg/logger"
	"esmpd/pkg/store"
	"esmpd/pkg/utils"
)

// RegisterThreads registers the direct-thread read endpoints.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads/messages", directMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{a}/{b}/messages", directPairMessages).Methods(http.MethodGet)
}

// directMessages serves GET /threads/messages?participant=a#x&participant=b#x.
// The thread key is the sorted participant set, so the order of query
// parameters does not matter.
func directMessages(w http.ResponseWriter, r *http.Request) {
	participants := r.URL.Query()["participant"]
	if len(participants) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "at least one participant required")
		return
	}
	writeThread(w, r, store.DirectThread(participants))
}

// directPairMessages serves GET /threads/{a}/{b}/messages, the two-party
// form. Addresses contain '#', so path segments arrive percent-encoded.
func directPairMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeThread(w, r, store.DirectThread([]string{vars["a"], vars["b"]}))
}

// writeThread renders the ordered log records of one thread, optionally
// truncated to the most recent ?limit=n entries.
func writeThread(w http.ResponseWriter, r *http.Request, threadKey string) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	raws, err := store.ListMessages(threadKey, limit)
	if err != nil {
		logger.Error("thread_read_failed", "thread", threadKey, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msgs := make([]json.RawMessage, 0, len(raws))
	for _, b := range raws {
		msgs = append(msgs, json.RawMessage(b))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string            `json:"thread"`
		Messages []json.RawMessage `json:"messages"`
	}{Thread: threadKey, Messages: msgs})
}
