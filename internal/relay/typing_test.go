package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTyping_BroadcastsToOtherRoomMembersOnly(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b, c, outsider := connect(h), connect(h), connect(h), connect(h)
	for _, cl := range []*Client{a, b, c} {
		req.NoError(emit(t, h, cl, EventJoinRoom, "c1"))
	}
	req.NoError(emit(t, h, outsider, EventJoinRoom, "c2"))

	req.NoError(emit(t, h, a, EventTyping, "c1"))
	req.NoError(emit(t, h, a, EventTypingStopped, "c1"))

	req.Empty(drain(t, a))
	req.Empty(drain(t, outsider))
	for _, cl := range []*Client{b, c} {
		got := drain(t, cl)
		req.Equal([]string{EventTyping, EventTypingStopped}, events(got))
		var room string
		req.NoError(json.Unmarshal(got[0].Data, &room))
		req.Equal("c1", room)
	}
}

func TestTyping_DuplicatesAreRedundantBroadcasts(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	req.NoError(emit(t, h, a, EventJoinRoom, "c1"))
	req.NoError(emit(t, h, b, EventJoinRoom, "c1"))

	req.NoError(emit(t, h, a, EventTyping, "c1"))
	req.NoError(emit(t, h, a, EventTyping, "c1"))

	req.Equal([]string{EventTyping, EventTyping}, events(drain(t, b)))
}

func TestTyping_EmptyRoomIsSilentlyDropped(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a := connect(h)
	req.NoError(emit(t, h, a, EventJoinRoom, "c1"))

	req.NoError(emit(t, h, a, EventTyping, "c1"))
	req.NoError(emit(t, h, a, EventTypingStopped, "nobody-here"))

	req.Empty(drain(t, a))
}

func TestTyping_DoesNotReachIdentityRooms(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, b, "c1")
	drain(t, b)

	req.NoError(emit(t, h, a, EventTyping, "c1"))

	req.Empty(drain(t, b))
}

func TestTyping_MalformedRoom(t *testing.T) {
	h := newTestHub(t)
	a := connect(h)

	require.ErrorIs(t, emit(t, h, a, EventTyping, nil), ErrMalformedPayload)
}
