package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"esmpd/pkg/models"
	"esmpd/pkg/protocol"
)

func TestEnvelopeSchema(t *testing.T) {
	cases := []struct {
		name  string
		env   models.Envelope
		field string // empty means accepted
	}{
		{
			name: "text with recipients",
			env:  models.Envelope{Type: models.TypeText, To: []string{"alice#example.org"}},
		},
		{
			name: "text with group only",
			env:  models.Envelope{Type: models.TypeText, GroupID: "g1"},
		},
		{
			name:  "text without thread target",
			env:   models.Envelope{Type: models.TypeText},
			field: "to",
		},
		{
			name:  "text with bare recipient address",
			env:   models.Envelope{Type: models.TypeText, To: []string{"alice"}},
			field: "to",
		},
		{
			name:  "text with bad cc address",
			env:   models.Envelope{Type: models.TypeText, To: []string{"a#x"}, Cc: []string{"#nolocal"}},
			field: "cc",
		},
		{
			name:  "missing type",
			env:   models.Envelope{To: []string{"a#x"}},
			field: "type",
		},
		{
			name:  "unknown type",
			env:   models.Envelope{Type: "broadcast"},
			field: "type",
		},
		{
			name: "joined",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubJoined,
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
		},
		{
			name: "unknown subtype",
			env: models.Envelope{Type: models.TypeSystem, Subtype: "promoted",
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
			field: "subtype",
		},
		{
			name: "missing actor",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubJoined,
				GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
			field: "actor",
		},
		{
			name: "bad timestamp",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubJoined,
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "yesterday"},
			field: "timestamp",
		},
		{
			name: "removed without target",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubRemoved,
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
			field: "target",
		},
		{
			name: "admin_assigned with target",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubAdminAssigned,
				Actor: "bob#remote.net", Target: "carol#example.org",
				GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
		},
		{
			name: "group_renamed without new_name",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubGroupRenamed,
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
			field: "new_name",
		},
		{
			name: "dp_updated without url",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubDpUpdated,
				Actor: "bob#remote.net", GroupID: "g1", Timestamp: "2026-05-01T10:00:00Z"},
			field: "new_dp_url",
		},
		{
			name: "joined without group_id",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubJoined,
				Actor: "bob#remote.net", Timestamp: "2026-05-01T10:00:00Z"},
			field: "group_id",
		},
		{
			name: "profile_updated without changes",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubProfileUpdated,
				Actor: "cGs=", Timestamp: "2026-05-01T10:00:00Z"},
			field: "changes",
		},
		{
			name: "profile_updated",
			env: models.Envelope{Type: models.TypeSystem, Subtype: models.SubProfileUpdated,
				Actor: "cGs=", Timestamp: "2026-05-01T10:00:00Z",
				Changes: &models.ProfileChanges{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Envelope(&tc.env)
			if tc.field == "" {
				require.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			require.Equal(t, protocol.KindSchemaViolation, err.Kind)
			require.Equal(t, tc.field, err.Field)
		})
	}
}
