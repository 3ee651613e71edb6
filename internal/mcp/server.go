// Package mcp exposes the game coordinator as MCP tools so an assistant can
// run or facilitate a game over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

const (
	serverName    = "BuenOsos Tabletop"
	serverVersion = "0.1.0"
)

// Server hosts the MCP tools. Games created through new_game are driven
// with their facilitator seat; any other game needs a player token.
type Server struct {
	mcpServer *server.MCPServer
	manager   *table.Manager
	catalog   *catalog.Catalog
	logger    *zap.Logger

	mu           sync.Mutex
	facilitators map[string]repository.Player
}

// GameInput selects a game and optionally the token of the acting player.
type GameInput struct {
	GameID string `json:"gameId"`
	Token  string `json:"token,omitempty"`
}

// NewGameInput holds the settings of new_game. Zero values take defaults.
type NewGameInput struct {
	DisplayName       string `json:"displayName,omitempty"`
	TurnLimit         int    `json:"turnLimit,omitempty"`
	BudgetPerTurn     int    `json:"budgetPerTurn,omitempty"`
	IntermittenceMode string `json:"intermittenceMode,omitempty"`
}

// PlayCardInput plays a card from a seat's hand.
type PlayCardInput struct {
	GameInput
	Side    rules.Seat `json:"side"`
	CardID  string     `json:"cardId"`
	Targets []string   `json:"targets,omitempty"`
}

// BasicActionInput uses a seat's free action for the turn.
type BasicActionInput struct {
	GameInput
	Side   rules.Seat `json:"side"`
	Target string     `json:"target,omitempty"`
}

// AdvancePhaseInput advances the turn, optionally to a named phase.
type AdvancePhaseInput struct {
	GameInput
	RequestedPhase string `json:"requestedPhase,omitempty"`
}

// ListCardsInput filters the catalog by deck.
type ListCardsInput struct {
	Side string `json:"side,omitempty"`
}

// New creates the MCP server over manager.
func New(manager *table.Manager, cat *catalog.Catalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(false),
		),
		manager:      manager,
		catalog:      cat,
		logger:       logger,
		facilitators: make(map[string]repository.Player),
	}

	s.mcpServer.AddTool(listCardsTool(), s.handleListCards)
	s.mcpServer.AddTool(newGameTool(), s.handleNewGame)
	s.mcpServer.AddTool(lifecycleTool("start_game", "Deal opening hands and start a lobby game."), s.lifecycle(manager.StartGame))
	s.mcpServer.AddTool(lifecycleTool("pause_game", "Pause a running game."), s.lifecycle(manager.PauseGame))
	s.mcpServer.AddTool(lifecycleTool("resume_game", "Resume a paused game."), s.lifecycle(manager.ResumeGame))
	s.mcpServer.AddTool(getStateTool(), s.handleGetState)
	s.mcpServer.AddTool(playCardTool(), s.handlePlayCard)
	s.mcpServer.AddTool(basicActionTool(), s.handleBasicAction)
	s.mcpServer.AddTool(advancePhaseTool(), s.handleAdvancePhase)
	s.mcpServer.AddTool(exportGameTool(), s.handleExportGame)

	return s
}

// Serve runs the MCP server on stdio until the client disconnects.
func (s *Server) Serve() error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// --- Tool definitions ---

func listCardsTool() mcp.Tool {
	return mcp.NewTool("list_cards",
		mcp.WithDescription("List catalog cards. side filters by deck: MALOSOS, BUENOSOS or EVENT."),
		mcp.WithInputSchema[ListCardsInput](),
	)
}

func newGameTool() mcp.Tool {
	return mcp.NewTool("new_game",
		mcp.WithDescription("Create a lobby game seated by this session as facilitator. Returns the game id, the facilitator token and the state."),
		mcp.WithInputSchema[NewGameInput](),
	)
}

func lifecycleTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithInputSchema[GameInput](),
	)
}

func getStateTool() mcp.Tool {
	return mcp.NewTool("get_state",
		mcp.WithDescription("Get the full state of a game. Read-only."),
		mcp.WithInputSchema[GameInput](),
	)
}

func playCardTool() mcp.Tool {
	return mcp.NewTool("play_card",
		mcp.WithDescription("Play a card from a seat's hand. MALOSOS plays during MALOSOS_PREP and MALOSOS_ATTACK, BUENOSOS during BUENOSOS_RESPONSE. Returns the log entry and the state diff."),
		mcp.WithInputSchema[PlayCardInput](),
	)
}

func basicActionTool() mcp.Tool {
	return mcp.NewTool("basic_action",
		mcp.WithDescription("Use the seat's free basic action: reconnaissance for MALOSOS, monitoring of target for BUENOSOS. Once per turn."),
		mcp.WithInputSchema[BasicActionInput](),
	)
}

func advancePhaseTool() mcp.Tool {
	return mcp.NewTool("advance_phase",
		mcp.WithDescription("Process the current automatic phase, or move to the next phase (or requestedPhase) from a player phase."),
		mcp.WithInputSchema[AdvancePhaseInput](),
	)
}

func exportGameTool() mcp.Tool {
	return mcp.NewTool("export_game",
		mcp.WithDescription("Export the final record of a game: markers, services, players, checksum and the persisted log."),
		mcp.WithInputSchema[GameInput](),
	)
}

// --- Tool handlers ---

func (s *Server) handleListCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ListCardsInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid list_cards arguments", err), nil
	}
	side := rules.Side(strings.ToUpper(strings.TrimSpace(input.Side)))

	cards := make([]*catalog.Card, 0)
	for _, card := range s.catalog.Cards() {
		if side == "" || card.Side == side {
			cards = append(cards, card)
		}
	}
	if side != "" && len(cards) == 0 {
		return mcp.NewToolResultErrorf("unknown side %q", input.Side), nil
	}
	return respondJSON(map[string]any{"cards": cards})
}

func (s *Server) handleNewGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input NewGameInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid new_game arguments", err), nil
	}

	res, err := s.manager.CreateGame(ctx, table.CreateGameRequest{
		DisplayName: input.DisplayName,
		Seat:        rules.RoleFacilitator,
		Config: game.Config{
			TurnLimit:         input.TurnLimit,
			BudgetPerTurn:     input.BudgetPerTurn,
			IntermittenceMode: game.IntermittenceMode(input.IntermittenceMode),
		},
	})
	if err != nil {
		return toolError("create game", err), nil
	}

	s.mu.Lock()
	s.facilitators[res.GameID] = res.Player
	s.mu.Unlock()

	s.logger.Info("game created over MCP", zap.String("game_id", res.GameID))
	return respondJSON(res)
}

func (s *Server) lifecycle(op func(context.Context, string) (*game.GameState, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input GameInput
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
		if _, err := s.player(ctx, input); err != nil {
			return toolError(request.Params.Name, err), nil
		}
		state, err := op(ctx, input.GameID)
		if err != nil {
			return toolError(request.Params.Name, err), nil
		}
		return respondJSON(map[string]any{"state": state})
	}
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GameInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid get_state arguments", err), nil
	}
	if _, err := s.player(ctx, input); err != nil {
		return toolError("get state", err), nil
	}
	state, err := s.manager.GetGame(ctx, input.GameID)
	if err != nil {
		return toolError("get state", err), nil
	}
	return respondJSON(map[string]any{"state": state})
}

func (s *Server) handlePlayCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input PlayCardInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid play_card arguments", err), nil
	}
	player, err := s.player(ctx, input.GameInput)
	if err != nil {
		return toolError("play card", err), nil
	}
	res, err := s.manager.PlayCard(ctx, player, input.Side, input.CardID, input.Targets)
	if err != nil {
		return toolError("play card", err), nil
	}
	return respondJSON(map[string]any{
		"logEntry": res.LogEntry,
		"diff":     res.Diff,
		"markers":  res.State.Markers,
	})
}

func (s *Server) handleBasicAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input BasicActionInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid basic_action arguments", err), nil
	}
	player, err := s.player(ctx, input.GameInput)
	if err != nil {
		return toolError("basic action", err), nil
	}
	state, err := s.manager.UseBasicAction(ctx, player, input.Side, input.Target)
	if err != nil {
		return toolError("basic action", err), nil
	}
	return respondJSON(map[string]any{"state": state})
}

func (s *Server) handleAdvancePhase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AdvancePhaseInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid advance_phase arguments", err), nil
	}
	var requested *rules.Phase
	if input.RequestedPhase != "" {
		var phase rules.Phase
		if err := phase.UnmarshalText([]byte(input.RequestedPhase)); err != nil {
			return mcp.NewToolResultErrorf("%s: unknown phase %q", game.CodeInvalidPhase, input.RequestedPhase), nil
		}
		requested = &phase
	}

	player, err := s.player(ctx, input.GameInput)
	if err != nil {
		return toolError("advance phase", err), nil
	}
	state, err := s.manager.AdvancePhase(ctx, player, requested)
	if err != nil {
		return toolError("advance phase", err), nil
	}
	return respondJSON(map[string]any{"state": state})
}

func (s *Server) handleExportGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GameInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid export_game arguments", err), nil
	}
	if _, err := s.player(ctx, input); err != nil {
		return toolError("export game", err), nil
	}
	export, err := s.manager.ExportGame(ctx, input.GameID)
	if err != nil {
		return toolError("export game", err), nil
	}
	return respondJSON(export)
}

// player resolves who acts for input: the token's player when one is
// given, otherwise the facilitator seated by new_game.
func (s *Server) player(ctx context.Context, input GameInput) (repository.Player, error) {
	if strings.TrimSpace(input.GameID) == "" {
		return repository.Player{}, fmt.Errorf("%w: gameId is required", table.ErrBadRequest)
	}
	if input.Token != "" {
		player, err := s.manager.Authenticate(ctx, input.Token)
		if err != nil {
			return repository.Player{}, err
		}
		if err := s.manager.Authorize(player, input.GameID); err != nil {
			return repository.Player{}, err
		}
		return player, nil
	}

	s.mu.Lock()
	player, ok := s.facilitators[input.GameID]
	s.mu.Unlock()
	if !ok {
		return repository.Player{}, fmt.Errorf("%w: game %s was not created in this session; pass a token", table.ErrForbidden, input.GameID)
	}
	return player, nil
}

// toolError reports err as a tool failure, prefixed with the engine code
// when there is one.
func toolError(action string, err error) *mcp.CallToolResult {
	var gameErr *game.Error
	if errors.As(err, &gameErr) {
		return mcp.NewToolResultErrorf("%s: %s", gameErr.Code, gameErr.Message)
	}
	return mcp.NewToolResultErrorf("%s failed: %v", action, err)
}

func respondJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
