package telegram

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gotd/td/tg"

	"ex-mimic/pkg/otogi"
)

func newGroupEnvelope(message *tg.Message) gotdUpdateEnvelope {
	user := &tg.User{ID: 42, AccessHash: 4}
	user.SetFirstName("Mika")
	user.SetUsername("mika")

	return gotdUpdateEnvelope{
		message:     message,
		usersByID:   map[int64]*tg.User{42: user},
		chatsByID:   map[int64]gotdChatInfo{9: {title: "den", kind: otogi.ConversationTypeGroup, inputPeer: &tg.InputPeerChannel{ChannelID: 9, AccessHash: 77}}},
		updateClass: "updateNewChannelMessage",
	}
}

func TestDefaultGotdUpdateMapperMapMessage(t *testing.T) {
	t.Parallel()

	peers := NewPeerCache()
	sent := NewSentLog(8)
	sent.Record("9", "100")
	mapper := NewDefaultGotdUpdateMapper(WithPeerCache(peers), WithSentLog(sent))

	message := &tg.Message{
		ID:        101,
		Mentioned: true,
		PeerID:    &tg.PeerChannel{ChannelID: 9},
		Date:      1_700_000_000,
		Message:   "@echo look https://x.y",
	}
	message.SetFromID(&tg.PeerUser{UserID: 42})
	message.SetReplyTo(&tg.MessageReplyHeader{ReplyToMsgID: 100})
	message.SetEntities([]tg.MessageEntityClass{
		&tg.MessageEntityMention{Offset: 0, Length: 5},
		&tg.MessageEntityURL{Offset: 11, Length: 11},
		&tg.MessageEntityMentionName{Offset: 6, Length: 4, UserID: 7},
		&tg.MessageEntityBold{Offset: 0, Length: 1},
	})

	update, accepted, err := mapper.Map(context.Background(), newGroupEnvelope(message))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if !accepted {
		t.Fatal("expected message to be accepted")
	}
	if update.ID != "tg:message:9:101" {
		t.Fatalf("update id = %q, want tg:message:9:101", update.ID)
	}
	if update.Chat != (ChatRef{ID: "9", Title: "den", Type: otogi.ConversationTypeGroup}) {
		t.Fatalf("chat = %+v", update.Chat)
	}
	if update.Actor.ID != "42" || update.Actor.DisplayName != "Mika" {
		t.Fatalf("actor = %+v, want 42/Mika", update.Actor)
	}

	want := &MessagePayload{
		ID:           "101",
		ReplyToID:    "100",
		ReplyToSelf:  true,
		MentionsSelf: true,
		Text:         "@echo look https://x.y",
		Entities: []otogi.TextEntity{
			{Type: otogi.TextEntityTypeMention, Offset: 0, Length: 5},
			{Type: otogi.TextEntityTypeURL, Offset: 11, Length: 11},
			{Type: otogi.TextEntityTypeMentionName, Offset: 6, Length: 4, UserID: "7"},
			{Type: otogi.TextEntityTypeOther, Offset: 0, Length: 1},
		},
	}
	if diff := cmp.Diff(want, update.Message); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	peer, err := peers.Resolve(otogi.Conversation{ID: "9", Type: otogi.ConversationTypeGroup})
	if err != nil {
		t.Fatalf("resolve peer failed: %v", err)
	}
	if channel, ok := peer.(*tg.InputPeerChannel); !ok || channel.AccessHash != 77 {
		t.Fatalf("peer = %#v, want channel 9 with access hash", peer)
	}
}

func TestDefaultGotdUpdateMapperDropsSelfAuthored(t *testing.T) {
	t.Parallel()

	sent := NewSentLog(8)
	mapper := NewDefaultGotdUpdateMapper(WithSentLog(sent))

	outgoing := &tg.Message{ID: 5, Out: true, PeerID: &tg.PeerChannel{ChannelID: 9}, Message: "typed elsewhere"}
	if _, accepted, err := mapper.Map(context.Background(), newGroupEnvelope(outgoing)); err != nil || accepted {
		t.Fatalf("outgoing map = (%v, %v), want dropped", accepted, err)
	}
	if !sent.Contains("9", "5") {
		t.Fatal("expected outgoing message id to be recorded")
	}

	sent.Record("9", "6")
	echoed := &tg.Message{ID: 6, PeerID: &tg.PeerChannel{ChannelID: 9}, Message: "echo"}
	if _, accepted, err := mapper.Map(context.Background(), newGroupEnvelope(echoed)); err != nil || accepted {
		t.Fatalf("recorded map = (%v, %v), want dropped", accepted, err)
	}
}

func TestDefaultGotdUpdateMapperSkipsNonMessages(t *testing.T) {
	t.Parallel()

	mapper := NewDefaultGotdUpdateMapper()
	_, accepted, err := mapper.Map(context.Background(), gotdUpdateEnvelope{message: &tg.MessageService{ID: 3}})
	if err != nil || accepted {
		t.Fatalf("service message = (%v, %v), want skipped", accepted, err)
	}
	if _, _, err := mapper.Map(context.Background(), "raw"); err == nil {
		t.Fatal("expected unsupported raw type error")
	}
}
