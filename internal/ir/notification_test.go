package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationLinks(t *testing.T) {
	first := RepeatByte(0xAA)

	created := RecordCreated{FirstEvent: first}
	assert.Equal(t, ChainLink{EventHash: first, Head: first, Count: 1}, created.Link())

	n := Notification{Payload: RecordApproved{}}
	_, ok := n.Link()
	assert.False(t, ok, "approval adds no chain link")

	n = Notification{Payload: EventAppended{EventHash: RepeatByte(0xBB), NewHead: RepeatByte(0xCC), EventCount: 2}}
	link, ok := n.Link()
	require.True(t, ok)
	assert.Equal(t, uint32(2), link.Count)
	assert.Equal(t, KindEventAppended, n.Kind())
}

func TestNotificationCanonical(t *testing.T) {
	n := Notification{
		ID:         "n-1",
		IncidentID: 42,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		Payload: EventAppended{
			EventHash:  RepeatByte(0xBB),
			NewHead:    RepeatByte(0xCC),
			EventCount: 2,
		},
	}

	data, err := n.Canonical()
	require.NoError(t, err)

	want := `{"id":"n-1","incident_id":42,"kind":"event_appended","payload":{` +
		`"event_count":2,"event_hash":"` + RepeatByte(0xBB).String() + `",` +
		`"new_head":"` + RepeatByte(0xCC).String() + `"},"timestamp":1700000000}`
	assert.Equal(t, want, string(data))
}

func TestArtifactsUpdatedCanonicalListsChangedKinds(t *testing.T) {
	n := Notification{
		ID:      "n-2",
		Payload: ArtifactsUpdated{Changed: []ArtifactKind{ArtifactEvidence, ArtifactTimeline}},
	}

	data, err := n.Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"changed":["evidence","timeline"]`)
	assert.Equal(t, KindArtifactsUpdated, n.Kind())
}
