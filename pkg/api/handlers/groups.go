package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"esmpd/pkg/canonical"
	"esmpd/pkg/engine"
	"esmpd/pkg/logger"
	"esmpd/pkg/models"
	"esmpd/pkg/sign"
	"esmpd/pkg/store"
	"esmpd/pkg/utils"
)

// RegisterGroups registers the group metadata endpoints onto the router.
func RegisterGroups(r *mux.Router, eng *engine.Engine) {
	g := &groupHandlers{eng: eng}
	r.HandleFunc("/groups/{id}", g.get).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", g.put).Methods(http.MethodPut)
	r.HandleFunc("/groups/{id}/messages", g.messages).Methods(http.MethodGet)
}

type groupHandlers struct {
	eng *engine.Engine
}

func (g *groupHandlers) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := g.eng.Groups.Get(id)
	if err == store.ErrNotFound {
		utils.JSONError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		logger.Error("group_get_failed", "group", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, meta)
}

// groupPut is the PUT body: an admin's metadata changes, signed over the
// canonical encoding of the body minus signature and sender_pubkey.
type groupPut struct {
	Actor        string `json:"actor"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	DpURL        string `json:"dp_url,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	Signature    string `json:"signature"`
	SenderPubkey string `json:"sender_pubkey"`
}

// put serves PUT /groups/{id}: each changed metadata field is applied as
// its own system message through the state machine, so the group log
// stays the single source of truth for metadata history.
func (g *groupHandlers) put(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var req groupPut
	if err := json.Unmarshal(body, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !models.ValidAddress(req.Actor) {
		utils.JSONError(w, http.StatusBadRequest, "actor must be localpart#domain")
		return
	}

	canon, cerr := canonical.Envelope(body)
	if cerr != nil {
		utils.JSONError(w, http.StatusBadRequest, cerr.Error())
		return
	}
	if !sign.VerifyWire(req.SenderPubkey, req.Signature, canon) {
		utils.JSONError(w, http.StatusForbidden, "invalid signature")
		return
	}

	meta, err := g.eng.Groups.Get(id)
	if err == store.ErrNotFound {
		utils.JSONError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		logger.Error("group_get_failed", "group", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !meta.HasAdmin(req.Actor) {
		utils.JSONError(w, http.StatusForbidden, "only group administrators can modify group settings")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, perr := time.Parse(time.RFC3339, req.Timestamp)
		if perr != nil {
			utils.JSONError(w, http.StatusBadRequest, "timestamp must be an RFC3339 instant")
			return
		}
		ts = parsed
	}

	type change struct {
		subtype string
		set     func(env *models.Envelope)
	}
	var changes []change
	if req.Name != "" {
		changes = append(changes, change{models.SubGroupRenamed, func(e *models.Envelope) { e.NewName = req.Name }})
	}
	if req.Description != "" {
		changes = append(changes, change{models.SubDescriptionUpdated, func(e *models.Envelope) { e.NewDescription = req.Description }})
	}
	if req.DpURL != "" {
		changes = append(changes, change{models.SubDpUpdated, func(e *models.Envelope) { e.NewDpURL = req.DpURL }})
	}
	if len(changes) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "no changes requested")
		return
	}

	for i, c := range changes {
		// Each successive message needs a strictly newer timestamp.
		env := models.Envelope{
			To:           meta.Members,
			GroupID:      id,
			Type:         models.TypeSystem,
			Subtype:      c.subtype,
			Actor:        req.Actor,
			Timestamp:    ts.Add(time.Duration(i) * time.Nanosecond).Format(time.RFC3339Nano),
			Signature:    req.Signature,
			SenderPubkey: req.SenderPubkey,
		}
		c.set(&env)
		raw, merr := json.Marshal(&env)
		if merr != nil {
			logger.Error("group_record_failed", "group", id, "error", merr)
			utils.JSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if _, aerr := g.eng.Groups.Apply(&env, raw); aerr != nil {
			writeProtocolErr(w, aerr)
			return
		}
	}

	updated, err := g.eng.Groups.Get(id)
	if err != nil {
		logger.Error("group_get_failed", "group", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, updated)
}

func (g *groupHandlers) messages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := g.eng.Groups.Get(id); err == store.ErrNotFound {
		utils.JSONError(w, http.StatusNotFound, "group not found")
		return
	} else if err != nil {
		logger.Error("group_get_failed", "group", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeThread(w, r, store.GroupThread(id))
}
