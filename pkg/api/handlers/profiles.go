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
	"esmpd/pkg/profiles"
	"esmpd/pkg/protocol"
	"esmpd/pkg/sign"
	"esmpd/pkg/store"
	"esmpd/pkg/utils"
)

// RegisterProfiles registers the profile endpoints onto the router.
func RegisterProfiles(r *mux.Router, eng *engine.Engine) {
	p := &profileHandlers{eng: eng}
	r.HandleFunc("/users/{pubkey}/profile", p.get).Methods(http.MethodGet)
	r.HandleFunc("/users/{pubkey}/profile", p.put).Methods(http.MethodPut)
}

type profileHandlers struct {
	eng *engine.Engine
}

// get serves GET /users/{pubkey}/profile[?as=requester]. Non-owner
// requesters see public fields only and never the address.
func (p *profileHandlers) get(w http.ResponseWriter, r *http.Request) {
	pubkey := mux.Vars(r)["pubkey"]
	requester := r.URL.Query().Get("as")

	view, err := p.eng.Profiles.View(pubkey, requester)
	if err == store.ErrNotFound {
		utils.JSONError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		logger.Error("profile_view_failed", "pubkey", pubkey, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, view)
}

// profilePut is the PUT body: requested field changes plus the owner's
// signature over the canonical encoding of the body minus the signature
// field itself.
type profilePut struct {
	Fields    profiles.Update `json:"fields"`
	Timestamp string          `json:"timestamp,omitempty"`
	Signature string          `json:"signature"`
}

// put serves PUT /users/{pubkey}/profile. The signature must verify
// against the pubkey in the path; profile updates cannot be authored by
// any other key.
func (p *profileHandlers) put(w http.ResponseWriter, r *http.Request) {
	pubkey := mux.Vars(r)["pubkey"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var req profilePut
	if err := json.Unmarshal(body, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	canon, cerr := canonical.Document(body, "signature")
	if cerr != nil {
		utils.JSONError(w, http.StatusBadRequest, cerr.Error())
		return
	}
	if !sign.VerifyWire(pubkey, req.Signature, canon) {
		utils.JSONError(w, http.StatusForbidden, "signature does not match profile key")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "timestamp must be an RFC3339 instant")
			return
		}
		ts = parsed
	}

	record, err := profileRecord(pubkey, req, ts)
	if err != nil {
		logger.Error("profile_record_failed", "pubkey", pubkey, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	prof, _, err := p.eng.Profiles.Apply(pubkey, req.Fields, ts, record)
	if err != nil {
		writeProtocolErr(w, err)
		return
	}

	// Respond with the owner view: address decrypted, every field shown.
	view, verr := p.eng.Profiles.View(prof.Pubkey, prof.Pubkey)
	if verr != nil {
		logger.Error("profile_view_failed", "pubkey", pubkey, "error", verr)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, view)
}

// profileRecord builds the profile_updated audit record appended to the
// owner's thread alongside the stored profile. The address value never
// appears in it.
func profileRecord(pubkey string, req profilePut, ts time.Time) ([]byte, error) {
	changes := &models.ProfileChanges{}
	if f := req.Fields.FirstName; f != nil {
		changes.FirstName = f.Value
	}
	if f := req.Fields.MiddleName; f != nil {
		changes.MiddleName = f.Value
	}
	if f := req.Fields.LastName; f != nil {
		changes.LastName = f.Value
	}
	if f := req.Fields.DisplayPicture; f != nil {
		changes.DisplayPicture = f.Value
	}
	env := models.Envelope{
		Type:         models.TypeSystem,
		Subtype:      models.SubProfileUpdated,
		Actor:        pubkey,
		Timestamp:    ts.Format(time.RFC3339Nano),
		Changes:      changes,
		Signature:    req.Signature,
		SenderPubkey: pubkey,
	}
	return json.Marshal(&env)
}

func writeProtocolErr(w http.ResponseWriter, err error) {
	var pe *protocol.Error
	if ok := asProtocol(err, &pe); ok {
		utils.JSONError(w, pe.HTTPStatus(), pe.Error())
		return
	}
	utils.JSONError(w, http.StatusInternalServerError, "internal error")
}

func asProtocol(err error, target **protocol.Error) bool {
	pe, ok := err.(*protocol.Error)
	if !ok {
		return false
	}
	*target = pe
	return true
}
