// Package engine runs the ESMP pipeline: parse, canonicalize, verify,
// validate, apply, persist. An envelope either fully applies (state
// updated and logged) or is fully rejected with no effect.
package engine

import (
	"encoding/json"

	"esmpd/pkg/canonical"
	"esmpd/pkg/groups"
	"esmpd/pkg/logger"
	"esmpd/pkg/models"
	"esmpd/pkg/profiles"
	"esmpd/pkg/protocol"
	"esmpd/pkg/sign"
	"esmpd/pkg/store"
	"esmpd/pkg/telemetry"
	"esmpd/pkg/validation"
)

// Engine wires the state machines together. Safe for concurrent use:
// serialization happens per group and per pubkey inside the stores.
type Engine struct {
	Groups   *groups.Store
	Profiles *profiles.Store
}

// New returns an engine over fresh group and profile stores.
func New() *Engine {
	return &Engine{Groups: groups.NewStore(), Profiles: profiles.NewStore()}
}

// Accepted describes where an accepted envelope landed.
type Accepted struct {
	Thread string `json:"thread"`
	Seq    uint64 `json:"seq"`
}

// Handle processes one wire line through the full pipeline.
func (e *Engine) Handle(line []byte) (*Accepted, error) {
	acc, envType, err := e.handle(line)
	if err != nil {
		if k, ok := protocol.KindOf(err); ok {
			telemetry.Rejected(string(k))
			logger.Debug("envelope_rejected", "kind", string(k), "error", err)
		} else {
			logger.Error("envelope_infra_error", "error", err)
		}
		return nil, err
	}
	telemetry.Accepted(envType)
	return acc, nil
}

func (e *Engine) handle(line []byte) (*Accepted, string, error) {
	var env models.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, "", protocol.Errf(protocol.KindMalformedInput, "invalid json: %v", err)
	}

	canon, err := canonical.Envelope(line)
	if err != nil {
		return nil, "", err
	}
	if !sign.VerifyWire(env.SenderPubkey, env.Signature, canon) {
		return nil, "", protocol.Errf(protocol.KindSignatureInvalid, "signature does not verify against sender_pubkey")
	}
	if perr := validation.Envelope(&env); perr != nil {
		return nil, "", perr
	}

	if env.IsSystem() {
		acc, err := e.applySystem(&env, line)
		return acc, models.TypeSystem, err
	}
	acc, err := e.appendText(&env, line)
	return acc, models.TypeText, err
}

func (e *Engine) applySystem(env *models.Envelope, raw []byte) (*Accepted, error) {
	if env.Subtype == models.SubProfileUpdated {
		ts, err := env.Time()
		if err != nil {
			return nil, protocol.FieldErr(protocol.KindSchemaViolation, "timestamp", "must be an RFC3339 instant")
		}
		_, seq, err := e.Profiles.Apply(env.SenderPubkey, profiles.FromChanges(env.Changes), ts, raw)
		if err != nil {
			return nil, err
		}
		return &Accepted{Thread: store.ProfileThread(env.SenderPubkey), Seq: seq}, nil
	}

	seq, err := e.Groups.Apply(env, raw)
	if err != nil {
		return nil, err
	}
	return &Accepted{Thread: store.GroupThread(env.GroupID), Seq: seq}, nil
}

// appendText persists an accepted text message. Group messages need their
// group to exist; direct messages are keyed by the sorted recipient set
// and are accepted even when recipients are unknown to this server
// (queued for future delivery).
func (e *Engine) appendText(env *models.Envelope, raw []byte) (*Accepted, error) {
	var threadKey string
	if env.GroupID != "" {
		if _, err := e.Groups.Get(env.GroupID); err != nil {
			if err == store.ErrNotFound {
				return nil, protocol.Errf(protocol.KindUnknownGroup, "group %s does not exist", env.GroupID)
			}
			return nil, err
		}
		threadKey = store.GroupThread(env.GroupID)
	} else {
		threadKey = store.DirectThread(env.To)
	}
	seq, err := store.AppendMessage(threadKey, raw)
	if err != nil {
		return nil, err
	}
	return &Accepted{Thread: threadKey, Seq: seq}, nil
}
