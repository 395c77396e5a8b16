package gateway

import (
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/internal/coordinator"
	"github.com/moleworks/burrow/protocol"
)

// Router decodes client envelopes, drives the coordinator, and sends replies
// back to the requesting connection only. Room membership on the transport
// side is maintained here: a connection enters its room's pool when a create
// or join succeeds and leaves it on leave-game.
type Router struct {
	coord *coordinator.Coordinator
	cm    *ConnectionManager
}

// NewRouter wires a router between the connection manager and coordinator.
func NewRouter(coord *coordinator.Coordinator, cm *ConnectionManager) *Router {
	return &Router{coord: coord, cm: cm}
}

// HandleMessage dispatches one inbound envelope.
func (r *Router) HandleMessage(connID string, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCreateGame:
		r.handleCreate(connID)

	case protocol.TypeJoinGame:
		req, err := protocol.DecodePayload[protocol.JoinGameRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed join-game payload")
			return
		}
		r.handleJoin(connID, req.Code)

	case protocol.TypeStartGame:
		req, err := protocol.DecodePayload[protocol.StartGameRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed start-game payload")
			return
		}
		if err := r.coord.StartGame(connID, req.Code); err != nil {
			r.sendError(connID, req.Code, err.Error())
		}

	case protocol.TypeEndGame:
		req, err := protocol.DecodePayload[protocol.EndGameRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed end-game payload")
			return
		}
		if err := r.coord.EndGame(connID, req.Code); err != nil {
			r.sendError(connID, req.Code, err.Error())
		}

	case protocol.TypeUpdateGameState:
		req, err := protocol.DecodePayload[protocol.UpdateGameStateRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed update-game-state payload")
			return
		}
		if err := r.coord.UpdateGameState(connID, req.Code, req.Updates); err != nil {
			r.sendError(connID, req.Code, err.Error())
		}

	case protocol.TypeMoleHit:
		req, err := protocol.DecodePayload[protocol.MoleHitRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed mole-hit payload")
			return
		}
		if err := r.coord.HitMole(connID, req.Code, req.MoleIndex, req.Score); err != nil {
			r.sendError(connID, req.Code, err.Error())
		}

	case protocol.TypeLeaveGame:
		req, err := protocol.DecodePayload[protocol.LeaveGameRequest](env)
		if err != nil {
			r.sendError(connID, env.Code, "malformed leave-game payload")
			return
		}
		r.coord.LeaveGame(connID, req.Code)
		r.cm.LeaveRoom(connID, req.Code)

	default:
		log.Warn().Str("type", string(env.Type)).Str("conn_id", connID).Msg("unknown message type, ignoring")
	}
}

// HandleDisconnect maps transport teardown onto the coordinator's disconnect
// transition. The connection is already out of every pool by this point.
func (r *Router) HandleDisconnect(connID string) {
	r.coord.Disconnected(connID)
}

func (r *Router) handleCreate(connID string) {
	code, err := r.coord.CreateGame(connID)
	if err != nil {
		r.cm.Send(connID, protocol.New("", protocol.TypeGameCreated, protocol.CreateGameResponse{
			Success: false,
			Error:   err.Error(),
		}))
		return
	}

	r.cm.JoinRoom(connID, code)
	r.cm.Send(connID, protocol.New(code, protocol.TypeGameCreated, protocol.CreateGameResponse{
		Success: true,
		Code:    code,
		Role:    protocol.RoleHost,
	}))
}

func (r *Router) handleJoin(connID, code string) {
	state, err := r.coord.JoinGame(connID, code)
	if err != nil {
		r.cm.Send(connID, protocol.New(code, protocol.TypeGameJoined, protocol.JoinGameResponse{
			Success: false,
			Error:   err.Error(),
		}))
		return
	}

	r.cm.JoinRoom(connID, code)
	r.cm.Send(connID, protocol.New(code, protocol.TypeGameJoined, protocol.JoinGameResponse{
		Success:   true,
		Code:      code,
		Role:      protocol.RoleGuest,
		GameState: &state,
	}))
}

func (r *Router) sendError(connID, code, message string) {
	r.cm.Send(connID, protocol.New(code, protocol.TypeError, protocol.ErrorPayload{Message: message}))
}
