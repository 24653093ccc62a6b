package telegram

import (
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"ex-mimic/pkg/otogi"
)

// mapTelegramOutboundError wraps err in an otogi.OutboundError classified by Telegram RPC code.
func mapTelegramOutboundError(operation otogi.OutboundOperation, source otogi.EventSource, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, otogi.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &otogi.OutboundError{
		Operation: operation,
		Kind:      otogi.OutboundErrorKindUnknown,
		Platform:  source.Platform,
		SinkID:    source.ID,
		Cause:     err,
	}
	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = otogi.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}
	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	if outboundErr.Kind == otogi.OutboundErrorKindUnknown {
		outboundErr.Kind = classifyTelegramRPCError(rpcErr)
	}

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) otogi.OutboundErrorKind {
	errorType := strings.ToUpper(rpcErr.Type)
	switch {
	case rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD"):
		return otogi.OutboundErrorKindRateLimited
	case rpcErr.Code == 303 || rpcErr.Code >= 500:
		return otogi.OutboundErrorKindTemporary
	case rpcErr.Code >= 400 && rpcErr.Code <= 406:
		return otogi.OutboundErrorKindPermanent
	default:
		return otogi.OutboundErrorKindUnknown
	}
}
