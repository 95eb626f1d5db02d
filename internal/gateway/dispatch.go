package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/model"
)

// Handle runs one client request and returns the reply for it. Errors are
// always rendered as error replies; they never end the connection.
func (o *Orchestrator) Handle(ctx context.Context, c Client, req Request) Reply {
	reply := o.dispatch(ctx, c, req)
	reply.ID = req.ID
	reply.Event = req.Event

	if reply.Type == "error" {
		level := zap.DebugLevel
		if reply.Status >= 500 {
			level = zap.ErrorLevel
		}
		o.logger.Log(level, "ws_request_failed",
			zap.String("conn_id", c.ID()),
			zap.String("event", req.Event),
			zap.Int("status", reply.Status),
			zap.Any("data", reply.Data),
		)
	}
	return reply
}

func (o *Orchestrator) dispatch(ctx context.Context, c Client, req Request) Reply {
	switch req.Event {
	case EventAuth:
		var in phoneData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		info, err := o.RequestCode(ctx, c, in.Phone)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", info)

	case EventAuthRetry:
		info, err := o.ResendCode(ctx, c)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", info)

	case EventAuthCancel:
		if err := o.Cancel(ctx, c); err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", detailsView{Details: "Phone cleaned"})

	case EventAuthConfirm:
		var in codeData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		res, err := o.Confirm(ctx, c, in.Code)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", LoginView{User: ProfileOf(res.User), Auth: TokensOf(res.Tokens)})

	case EventLogout:
		if err := o.Logout(ctx, c); err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", detailsView{Details: "Logged out"})

	case EventSetName:
		var in nameData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		profile, err := o.SetName(ctx, c, in.Name)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "info", profile)

	case EventGetMessages:
		var in rangeData
		if err := decodeOptional(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		start := 0
		if in.Start != nil {
			start = *in.Start
		}
		views, err := o.Messages(ctx, c, start, in.End)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "message", messagesView{Messages: views})

	case EventAddMessage:
		var in textData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		views, err := o.AddMessage(ctx, c, in.Text)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "message", messagesView{Messages: views})

	case EventDeleteMessage:
		var in idData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		id, err := o.DeleteMessage(ctx, c, in.ID)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "message", deletedView{ID: id})

	case EventRefresh:
		var in refreshData
		if err := decode(req.Data, &in); err != nil {
			return ErrorReply(req.Event, err)
		}
		pair, err := o.Refresh(ctx, c, in.RefreshToken)
		if err != nil {
			return ErrorReply(req.Event, err)
		}
		return OK(req.Event, "auth", TokensOf(pair))

	default:
		return ErrorReply(req.Event, apperr.ValidationError("unknown event"))
	}
}

// ConnectReply builds the frame sent right after a connection opens.
func ConnectReply(user *model.User) Reply {
	if user == nil {
		return OK(EventConnect, "info", map[string]any{"authenticated": false})
	}
	return OK(EventConnect, "info", ProfileOf(*user))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return apperr.ValidationError("incorrect data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.ValidationError("incorrect data")
	}
	return nil
}

func decodeOptional(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return decode(raw, v)
}
