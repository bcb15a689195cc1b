// Package validation enforces the required-field schema of an envelope
// against its declared kind. It runs after signature verification and
// before any state is touched; checks here are purely a function of the
// envelope (the timestamp-ordering check against group state lives in the
// group state machine, which owns that read).
package validation

import (
	"esmpd/pkg/models"
	"esmpd/pkg/protocol"
)

// subtypes that operate on a target member.
var targetRequired = map[string]bool{
	models.SubRemoved:       true,
	models.SubAdminAssigned: true,
	models.SubAdminRevoked:  true,
}

// Envelope checks the shape of a signature-verified envelope. Returns a
// schema_violation naming the missing or invalid field.
func Envelope(env *models.Envelope) *protocol.Error {
	switch env.Type {
	case models.TypeText:
		return textEnvelope(env)
	case models.TypeSystem:
		return systemEnvelope(env)
	case "":
		return protocol.FieldErr(protocol.KindSchemaViolation, "type", "required")
	default:
		return protocol.FieldErr(protocol.KindSchemaViolation, "type", "must be text or system")
	}
}

// textEnvelope requires a resolvable thread target: explicit recipients
// or a group id. The body stays opaque.
func textEnvelope(env *models.Envelope) *protocol.Error {
	if len(env.To) == 0 && env.GroupID == "" {
		return protocol.FieldErr(protocol.KindSchemaViolation, "to", "text message needs recipients or a group_id")
	}
	for _, a := range env.To {
		if !models.ValidAddress(a) {
			return protocol.FieldErr(protocol.KindSchemaViolation, "to", "address must be localpart#domain")
		}
	}
	for _, a := range env.Cc {
		if !models.ValidAddress(a) {
			return protocol.FieldErr(protocol.KindSchemaViolation, "cc", "address must be localpart#domain")
		}
	}
	return nil
}

func systemEnvelope(env *models.Envelope) *protocol.Error {
	if env.Subtype == "" {
		return protocol.FieldErr(protocol.KindSchemaViolation, "subtype", "required")
	}
	if !models.KnownSubtype(env.Subtype) {
		return protocol.FieldErr(protocol.KindSchemaViolation, "subtype", "unknown subtype "+env.Subtype)
	}
	if env.Actor == "" {
		return protocol.FieldErr(protocol.KindSchemaViolation, "actor", "required")
	}
	if env.Subtype != models.SubProfileUpdated && !models.ValidAddress(env.Actor) {
		return protocol.FieldErr(protocol.KindSchemaViolation, "actor", "address must be localpart#domain")
	}
	if env.Timestamp == "" {
		return protocol.FieldErr(protocol.KindSchemaViolation, "timestamp", "required")
	}
	if _, err := env.Time(); err != nil {
		return protocol.FieldErr(protocol.KindSchemaViolation, "timestamp", "must be an RFC3339 instant")
	}
	if targetRequired[env.Subtype] {
		if env.Target == "" {
			return protocol.FieldErr(protocol.KindSchemaViolation, "target", "required for "+env.Subtype)
		}
		if !models.ValidAddress(env.Target) {
			return protocol.FieldErr(protocol.KindSchemaViolation, "target", "address must be localpart#domain")
		}
	}

	// Subtype-specific metadata.
	switch env.Subtype {
	case models.SubGroupRenamed:
		if env.NewName == "" {
			return protocol.FieldErr(protocol.KindSchemaViolation, "new_name", "required for group_renamed")
		}
	case models.SubDescriptionUpdated:
		if env.NewDescription == "" {
			return protocol.FieldErr(protocol.KindSchemaViolation, "new_description", "required for description_updated")
		}
	case models.SubDpUpdated:
		if env.NewDpURL == "" {
			return protocol.FieldErr(protocol.KindSchemaViolation, "new_dp_url", "required for dp_updated")
		}
	case models.SubProfileUpdated:
		if env.Changes == nil {
			return protocol.FieldErr(protocol.KindSchemaViolation, "changes", "required for profile_updated")
		}
	}

	// Every group-affecting subtype needs its group thread.
	if env.Subtype != models.SubProfileUpdated && env.GroupID == "" {
		return protocol.FieldErr(protocol.KindSchemaViolation, "group_id", "required for "+env.Subtype)
	}
	return nil
}
