package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"ex-mimic/pkg/otogi"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	source     otogi.EventSource
}

// WithOutboundTimeout bounds each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger enables debug logging of outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSource sets the driver identity reported in outbound errors.
func WithSource(source otogi.EventSource) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.source = source
		if cfg.source.Platform == "" {
			cfg.source.Platform = DriverPlatform
		}
	}
}

// SinkDispatcher performs neutral outbound operations through Telegram RPC.
//
// It also implements otogi.ReactionCatalog.
type SinkDispatcher struct {
	cfg       outboundConfig
	peers     *PeerCache
	sent      *SentLog
	telegram  outboundRPC
	reactions *ReactionCatalog
}

// NewOutboundDispatcher creates a dispatcher backed by a gotd client.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	sent *SentLog,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}
	reactions, err := NewReactionCatalog(client.API())
	if err != nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: %w", err)
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), reactions, peers, sent, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	reactions *ReactionCatalog,
	peers *PeerCache,
	sent *SentLog,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	switch {
	case rpc == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	case reactions == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil reaction catalog")
	case peers == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	case sent == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil sent log")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		source:     otogi.EventSource{Platform: DriverPlatform, ID: DriverType},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, peers: peers, sent: sent, telegram: rpc, reactions: reactions}, nil
}

// SendMessage posts text and records the new message as self-authored.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	replyTo := 0
	if request.ReplyToMessageID != "" {
		if replyTo, err = parseMessageID(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message parse reply id: %w", err)
		}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	id, err := d.telegram.SendText(rpcCtx, peer, request.Text, replyTo, request.Silent)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w",
			request.Target.Conversation.ID, mapTelegramOutboundError(otogi.OutboundOperationSendMessage, d.cfg.source, err))
	}
	messageID := strconv.Itoa(id)
	d.sent.Record(request.Target.Conversation.ID, messageID)
	d.logOutbound(ctx, otogi.OutboundOperationSendMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", messageID,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &otogi.OutboundMessage{ID: messageID, Target: request.Target}, nil
}

// SetReaction adds one emoji reaction to an existing message.
func (d *SinkDispatcher) SetReaction(ctx context.Context, request otogi.SetReactionRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("set reaction validate: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("set reaction parse id: %w", err)
	}
	reaction, err := parseReaction(request.Emoji)
	if err != nil {
		return fmt.Errorf("set reaction parse emoji: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := d.telegram.SetReaction(rpcCtx, peer, messageID, reaction); err != nil {
		return fmt.Errorf("set reaction on message %s: %w",
			request.MessageID, mapTelegramOutboundError(otogi.OutboundOperationSetReaction, d.cfg.source, err))
	}
	d.logOutbound(ctx, otogi.OutboundOperationSetReaction,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"emoji", request.Emoji,
	)

	return nil
}

// SendTyping shows the typing indicator once; Telegram expires it after a few seconds.
func (d *SinkDispatcher) SendTyping(ctx context.Context, request otogi.SendTypingRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("send typing validate: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("send typing: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := d.telegram.SetTyping(rpcCtx, peer); err != nil {
		return fmt.Errorf("send typing to %s: %w",
			request.Target.Conversation.ID, mapTelegramOutboundError(otogi.OutboundOperationSendTyping, d.cfg.source, err))
	}

	return nil
}

// ListReactions returns the plain emoji reactions allowed in target.
func (d *SinkDispatcher) ListReactions(ctx context.Context, target otogi.OutboundTarget) ([]string, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("list reactions validate: %w", err)
	}
	peer, err := d.resolvePeer(target)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	reactions, err := d.reactions.Available(rpcCtx, target.Conversation.ID, peer)
	if err != nil {
		return nil, fmt.Errorf("list reactions for %s: %w",
			target.Conversation.ID, mapTelegramOutboundError(otogi.OutboundOperationListReactions, d.cfg.source, err))
	}

	return reactions, nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) resolvePeer(target otogi.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Source.Platform != "" && target.Source.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", otogi.ErrOutboundUnsupported, target.Source.Platform)
	}
	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", otogi.ErrInvalidOutboundRequest, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation otogi.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}
	values := append([]any{"operation", operation, "sink_id", d.cfg.source.ID}, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", otogi.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %d", otogi.ErrInvalidOutboundRequest, value)
	}

	return value, nil
}

// parseReaction accepts a plain emoji or a "custom:<document id>" token.
func parseReaction(emoji string) (tg.ReactionClass, error) {
	trimmed := strings.TrimSpace(emoji)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty emoji", otogi.ErrInvalidOutboundRequest)
	}
	if documentID, ok := strings.CutPrefix(trimmed, "custom:"); ok {
		id, err := strconv.ParseInt(documentID, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid custom reaction id", otogi.ErrInvalidOutboundRequest)
		}
		return &tg.ReactionCustomEmoji{DocumentID: id}, nil
	}

	return &tg.ReactionEmoji{Emoticon: trimmed}, nil
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int, silent bool) (int, error)
	SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reaction tg.ReactionClass) error
	SetTyping(ctx context.Context, peer tg.InputPeerClass) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()
	return gotdOutboundRPC{raw: raw, rand: crypto.DefaultRand(), sender: message.NewSender(raw)}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	text string,
	replyTo int,
	silent bool,
) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		Silent:   silent,
		RandomID: randomID,
	}
	if replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("messages.sendMessage: %w", err)
	}
	id, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return id, nil
}

func (r gotdOutboundRPC) SetReaction(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	reaction tg.ReactionClass,
) error {
	if _, err := r.sender.To(peer).Reaction(ctx, messageID, reaction); err != nil {
		return fmt.Errorf("messages.sendReaction: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SetTyping(ctx context.Context, peer tg.InputPeerClass) error {
	if _, err := r.raw.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
		Peer:   peer,
		Action: &tg.SendMessageTypingAction{},
	}); err != nil {
		return fmt.Errorf("messages.setTyping: %w", err)
	}

	return nil
}
