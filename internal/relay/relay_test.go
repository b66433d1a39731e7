package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func chatMessage(id, senderID, chatID string, members ...string) json.RawMessage {
	users := make([]map[string]string, 0, len(members))
	for _, m := range members {
		users = append(users, map[string]string{"_id": m, "name": "user " + m})
	}
	raw, _ := json.Marshal(map[string]any{
		"_id":     id,
		"content": "hi",
		"sender":  map[string]string{"_id": senderID},
		"chat":    map[string]any{"_id": chatID, "users": users},
	})
	return raw
}

func TestRelay_DeliversOnceToEachOtherMember(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b, c := connect(h), connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	setup(t, h, c, "u3")
	drain(t, a)
	drain(t, b)
	drain(t, c)

	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "g1", "u1", "u2", "u3")))

	req.Empty(drain(t, a))
	for _, target := range []*Client{b, c} {
		got := drain(t, target)
		req.Len(got, 1)
		req.Equal(EventMessageReceived, got[0].Event)
		req.JSONEq(string(chatMessage("m1", "u1", "g1", "u1", "u2", "u3")), string(got[0].Data))
	}
}

func TestRelay_ScenarioBothInConversationRoom(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	req.NoError(emit(t, h, a, EventJoinRoom, "c1"))
	req.NoError(emit(t, h, b, EventJoinRoom, "c1"))
	drain(t, a)
	drain(t, b)

	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Empty(drain(t, a))
	got := drain(t, b)
	req.Len(got, 1)
	var msg struct {
		Content string `json:"content"`
	}
	req.NoError(json.Unmarshal(got[0].Data, &msg))
	req.Equal("hi", msg.Content)
}

func TestRelay_ReachesMembersOutsideConversationRoom(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	req.NoError(emit(t, h, a, EventJoinRoom, "c1"))
	drain(t, b)

	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Equal([]string{EventMessageReceived}, events(drain(t, b)))
}

func TestRelay_DisconnectedMemberIsSilentlySkipped(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	req.NoError(emit(t, h, a, EventJoinRoom, "c1"))
	req.NoError(emit(t, h, b, EventJoinRoom, "c1"))
	h.process(inbound{kind: opDisconnect, client: b})
	drain(t, a)

	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Empty(drain(t, a))
	req.Nil(h.Registry().MembersOf(IdentityRoomOf("u2")))
}

func TestRelay_EveryDeviceOfRecipientReceivesOnce(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, phone, laptop := connect(h), connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, phone, "u2")
	setup(t, h, laptop, "u2")
	drain(t, phone)
	drain(t, laptop)

	// u2 listed twice must still produce one delivery per device
	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2", "u2")))

	req.Len(drain(t, phone), 1)
	req.Len(drain(t, laptop), 1)
}

func TestRelay_SenderOtherDevicesAreSuppressedByDefault(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	desk, phone, b := connect(h), connect(h), connect(h)
	setup(t, h, desk, "u1")
	setup(t, h, phone, "u1")
	setup(t, h, b, "u2")
	drain(t, desk)
	drain(t, phone)
	drain(t, b)

	req.NoError(emit(t, h, desk, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Empty(drain(t, desk))
	req.Empty(drain(t, phone))
	req.Len(drain(t, b), 1)
}

func TestRelay_EchoSenderDevicesDeliversToOtherDevicesOnly(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, func(o *Options) { o.EchoSenderDevices = true })
	desk, phone, b := connect(h), connect(h), connect(h)
	setup(t, h, desk, "u1")
	setup(t, h, phone, "u1")
	setup(t, h, b, "u2")
	drain(t, desk)
	drain(t, phone)
	drain(t, b)

	req.NoError(emit(t, h, desk, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Empty(drain(t, desk))
	req.Equal([]string{EventMessageReceived}, events(drain(t, phone)))
	req.Len(drain(t, b), 1)
}

func TestRelay_OriginatingConnectionNeverReceivesItsMessage(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a := connect(h)
	setup(t, h, a, "u2")
	drain(t, a)

	// The payload names another sender; a is still the originating connection.
	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Empty(drain(t, a))
}

func TestRelay_IsNotIdempotent(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	drain(t, b)
	msg := chatMessage("m1", "u1", "c1", "u1", "u2")

	req.NoError(emit(t, h, a, EventNewMessage, msg))
	req.NoError(emit(t, h, a, EventNewMessage, msg))

	req.Len(drain(t, b), 2)
}

func TestRelay_MalformedMessagesAreDroppedWhole(t *testing.T) {
	cases := map[string]string{
		"no chat":            `{"sender":{"_id":"u1"}}`,
		"no users":           `{"sender":{"_id":"u1"},"chat":{"_id":"c1"}}`,
		"empty users":        `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":[]}}`,
		"member without id":  `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":[{"_id":"u2"},{"name":"x"}]}}`,
		"no sender":          `{"chat":{"_id":"c1","users":[{"_id":"u2"}]}}`,
		"no chat id":         `{"sender":{"_id":"u1"},"chat":{"users":[{"_id":"u2"}]}}`,
		"users not an array": `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":"u2"}}`,
		"not an object":      `"hello"`,
		"blank sender":       `{"sender":{"_id":"  "},"chat":{"_id":"c1","users":[{"_id":"u1"},{"_id":"u2"}]}}`,
		"blank member":       `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":[{"_id":"u2"},{"_id":" "}]}}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			h := newTestHub(t)
			a, b := connect(h), connect(h)
			setup(t, h, a, "u1")
			setup(t, h, b, "u2")
			drain(t, b)

			err := h.handleEvent(a, Envelope{Event: EventNewMessage, Data: json.RawMessage(payload)})

			req.ErrorIs(err, ErrMalformedPayload)
			req.Empty(drain(t, b))
		})
	}
}

func TestRelay_BeforeSetupRoutesOnSenderID(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zap.WarnLevel)
	h := newTestHub(t, func(o *Options) { o.Logger = zap.New(core) })
	anonymous, a, b := connect(h), connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2")
	drain(t, a)
	drain(t, b)

	req.NoError(emit(t, h, anonymous, EventNewMessage, chatMessage("m1", "u1", "c1", "u1", "u2")))

	req.Equal([]string{EventMessageReceived}, events(drain(t, b)))
	req.Empty(drain(t, a))
	req.Equal(1, logs.FilterMessage("message announced before setup; routing on sender id").Len())
}

func TestRelay_IdentitiesAreNormalized(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)
	a, b := connect(h), connect(h)
	setup(t, h, a, "u1")
	setup(t, h, b, "u2 ")
	drain(t, a)
	drain(t, b)

	req.NoError(emit(t, h, a, EventNewMessage, chatMessage("m1", " u1", "c1", "u1", " u2 ")))

	req.Equal([]string{EventMessageReceived}, events(drain(t, b)))
	req.Empty(drain(t, a))
}
