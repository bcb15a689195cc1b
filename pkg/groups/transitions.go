package groups

import (
	"esmpd/pkg/models"
	"esmpd/pkg/protocol"
)

// Transition is one group mutation: a value per system subtype carrying
// exactly the fields that subtype needs. apply checks the transition's
// preconditions against the current metadata and mutates it in place.
type Transition interface {
	apply(g *models.GroupMetadata) *protocol.Error
}

// Join adds the actor to the member set.
type Join struct{ Actor string }

// Leave removes the actor from members (and admins, if present).
type Leave struct{ Actor string }

// Remove evicts a target member; admin only.
type Remove struct{ Actor, Target string }

// AssignAdmin promotes a member; admin only.
type AssignAdmin struct{ Actor, Target string }

// RevokeAdmin demotes an admin; admin only.
type RevokeAdmin struct{ Actor, Target string }

// Rename updates the group name; admin only.
type Rename struct{ Actor, Name string }

// SetDescription updates the description; admin only.
type SetDescription struct{ Actor, Description string }

// SetDpURL updates the display picture URL; admin only.
type SetDpURL struct{ Actor, URL string }

func (t Join) apply(g *models.GroupMetadata) *protocol.Error {
	if g.HasMember(t.Actor) {
		return protocol.Errf(protocol.KindForbidden, "%s is already a member", t.Actor)
	}
	g.AddMember(t.Actor)
	return nil
}

func (t Leave) apply(g *models.GroupMetadata) *protocol.Error {
	if !g.HasMember(t.Actor) {
		return protocol.Errf(protocol.KindForbidden, "%s is not a member", t.Actor)
	}
	g.RemoveMember(t.Actor)
	return nil
}

func (t Remove) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	if !g.HasMember(t.Target) {
		return protocol.Errf(protocol.KindForbidden, "target %s is not a member", t.Target)
	}
	g.RemoveMember(t.Target)
	return nil
}

func (t AssignAdmin) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	if !g.HasMember(t.Target) {
		return protocol.Errf(protocol.KindForbidden, "target %s is not a member", t.Target)
	}
	g.AddAdmin(t.Target)
	return nil
}

func (t RevokeAdmin) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	if !g.HasAdmin(t.Target) {
		return protocol.Errf(protocol.KindForbidden, "target %s is not an admin", t.Target)
	}
	g.RemoveAdmin(t.Target)
	return nil
}

func (t Rename) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	g.GroupName = t.Name
	return nil
}

func (t SetDescription) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	g.GroupDescription = t.Description
	return nil
}

func (t SetDpURL) apply(g *models.GroupMetadata) *protocol.Error {
	if err := requireAdmin(g, t.Actor); err != nil {
		return err
	}
	g.GroupDpURL = t.URL
	return nil
}

func requireAdmin(g *models.GroupMetadata, actor string) *protocol.Error {
	if !g.HasAdmin(actor) {
		return protocol.Errf(protocol.KindForbidden, "%s is not a group admin", actor)
	}
	return nil
}

// transitionFor maps a validated system envelope onto its transition
// value. group_created is flagged separately since it creates the
// metadata rather than mutating it.
func transitionFor(env *models.Envelope) (Transition, bool, *protocol.Error) {
	switch env.Subtype {
	case models.SubGroupCreated:
		return nil, true, nil
	case models.SubJoined:
		return Join{Actor: env.Actor}, false, nil
	case models.SubLeft:
		return Leave{Actor: env.Actor}, false, nil
	case models.SubRemoved:
		return Remove{Actor: env.Actor, Target: env.Target}, false, nil
	case models.SubAdminAssigned:
		return AssignAdmin{Actor: env.Actor, Target: env.Target}, false, nil
	case models.SubAdminRevoked:
		return RevokeAdmin{Actor: env.Actor, Target: env.Target}, false, nil
	case models.SubGroupRenamed:
		return Rename{Actor: env.Actor, Name: env.NewName}, false, nil
	case models.SubDescriptionUpdated:
		return SetDescription{Actor: env.Actor, Description: env.NewDescription}, false, nil
	case models.SubDpUpdated:
		return SetDpURL{Actor: env.Actor, URL: env.NewDpURL}, false, nil
	}
	return nil, false, protocol.FieldErr(protocol.KindSchemaViolation, "subtype", "unknown subtype "+env.Subtype)
}
