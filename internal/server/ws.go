package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/realtime"
	"github.com/buenosos/buenosos-server-go/internal/repository"
)

const actionTimeout = 10 * time.Second

// serveWS upgrades /ws/games/{gameId}?token=... and binds the connection to
// the token's player. Authentication failures are reported as an ERROR
// message on the socket, which browsers can read, before it is closed.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}

	player, authErr := a.manager.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if authErr == nil {
		authErr = a.manager.Authorize(player, gameID)
	}
	client := realtime.NewClient(a.hub, conn, gameID, player.ID)
	if authErr != nil {
		_, code, message := classify(authErr)
		_ = client.Send(realtime.NewErrorMessage(code, message))
		a.hub.Unsubscribe(client)
		client.WritePump()
		return
	}

	state, err := a.manager.GetGame(r.Context(), gameID)
	if err != nil {
		_, code, message := classify(err)
		_ = client.Send(realtime.NewErrorMessage(code, message))
		a.hub.Unsubscribe(client)
		client.WritePump()
		return
	}

	a.hub.Subscribe(client)
	_ = client.Send(realtime.NewGameStateMessage(state))

	a.logger.Info("player connected",
		zap.String("game_id", gameID),
		zap.String("player_id", player.ID),
		zap.String("seat", string(player.Seat)),
	)
	go client.WritePump()
	client.ReadPump(a.messageHandler(player))
	a.logger.Info("player disconnected",
		zap.String("game_id", gameID),
		zap.String("player_id", player.ID),
	)
}

// messageHandler dispatches client messages to the coordinator. The
// coordinator publishes the resulting GAME_STATE to the whole room.
func (a *API) messageHandler(player repository.Player) func(*realtime.Client, []byte) {
	return func(c *realtime.Client, data []byte) {
		var msg realtime.Incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.Send(realtime.NewErrorMessage(CodeBadRequest, "invalid JSON message"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var err error
		switch msg.Type {
		case realtime.TypePlayCard:
			res, playErr := a.manager.PlayCard(ctx, player, msg.Side, msg.CardID, msg.Targets)
			if playErr != nil {
				err = playErr
				break
			}
			_ = c.Send(realtime.ActionResultMessage{
				Type:     realtime.TypeActionResult,
				LogEntry: res.LogEntry,
				Diff:     res.Diff,
			})
		case realtime.TypeUseBasicAction:
			_, err = a.manager.UseBasicAction(ctx, player, msg.Side, msg.Target)
		case realtime.TypeAdvancePhase:
			_, err = a.manager.AdvancePhase(ctx, player, msg.RequestedPhase)
		default:
			_ = c.Send(realtime.NewErrorMessage(CodeBadRequest, "unknown message type "+msg.Type))
			return
		}

		if err != nil {
			_, code, message := classify(err)
			if code == CodeInternalError {
				a.logger.Error("websocket action failed",
					zap.String("game_id", player.GameID),
					zap.String("type", msg.Type),
					zap.Error(err),
				)
			}
			_ = c.Send(realtime.NewErrorMessage(code, message))
		}
	}
}
