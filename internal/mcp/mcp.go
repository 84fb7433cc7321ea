// Package mcp exposes the food log as tool calls for agent clients. Each
// call carries a tool name and JSON arguments and gets back the same JSON
// the REST API would return, wrapped as text content.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/dukerupert/mealmood/internal/auth"
	"github.com/dukerupert/mealmood/internal/foodlog"
	"github.com/dukerupert/mealmood/internal/handler"
	"github.com/dukerupert/mealmood/internal/model"
)

const maxRequestBytes = 1 << 20

// Tool names.
const (
	ToolLogMeal    = "log_meal"
	ToolGetHistory = "get_history"
	ToolEditText   = "edit_text"
	ToolEditMacros = "edit_macros"
	ToolEditItems  = "edit_items"
	ToolReanalyze  = "reanalyze"
	ToolDelete     = "delete_entry"
)

type LogMealParams struct {
	RawText  string `json:"raw_text"`
	ImageRef string `json:"image_ref,omitempty"`
}

type GetHistoryParams struct {
	Query string `json:"q,omitempty"`
	Mood  string `json:"mood,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type EntryParams struct {
	ID string `json:"id"`
}

type EditTextParams struct {
	ID      string  `json:"id"`
	RawText *string `json:"raw_text"`
}

type EditMacrosParams struct {
	ID string `json:"id"`
	model.MacroTotals
}

type EditItemsParams struct {
	ID          string           `json:"id"`
	Items       []model.FoodItem `json:"items"`
	Recalculate bool             `json:"recalculate"`
}

type Handler struct {
	log    *foodlog.Reconciler
	logger *slog.Logger
}

func NewHandler(rec *foodlog.Reconciler, logger *slog.Logger) *Handler {
	return &Handler{log: rec, logger: logger.With("component", "mcp")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// extractParams decodes the call's argument map into target.
func extractParams(req *protocol.CallToolRequest, target any) error {
	raw, err := json.Marshal(req.Arguments)
	if err != nil {
		return model.Invalid("arguments", "must be a JSON object")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return model.Invalid("arguments", fmt.Sprintf("invalid: %v", err))
	}
	return nil
}

func textResult(v any) (*protocol.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(raw),
			},
		},
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req protocol.CallToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		handler.WriteError(w, h.logger, model.Invalid("", fmt.Sprintf("invalid JSON: %v", err)))
		return
	}

	result, err := h.Call(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		handler.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Call runs one tool for owner.
func (h *Handler) Call(ctx context.Context, owner int64, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	h.logger.Debug("tool call", "tool", req.Name, "user_id", owner)

	switch strings.TrimSpace(req.Name) {
	case ToolLogMeal:
		var p LogMealParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		return result(h.log.LogMeal(ctx, owner, p.RawText, p.ImageRef))

	case ToolGetHistory:
		var p GetHistoryParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		from, to, err := foodlog.DayRange(p.From, p.To, h.log.Location())
		if err != nil {
			return nil, err
		}
		return result(h.log.ListHistory(ctx, owner, foodlog.HistoryFilter{
			Query: p.Query,
			Mood:  p.Mood,
			From:  from,
			To:    to,
			Limit: p.Limit,
		}))

	case ToolEditText:
		var p EditTextParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		if p.RawText == nil {
			return nil, model.Invalid("raw_text", "is required")
		}
		return result(h.log.EditText(ctx, owner, p.ID, *p.RawText))

	case ToolEditMacros:
		var p EditMacrosParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		return result(h.log.EditMacros(ctx, owner, p.ID, p.MacroTotals))

	case ToolEditItems:
		var p EditItemsParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		if p.Items == nil {
			return nil, model.Invalid("items", "is required")
		}
		return result(h.log.EditItems(ctx, owner, p.ID, p.Items, p.Recalculate))

	case ToolReanalyze:
		var p EntryParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		return result(h.log.Reanalyze(ctx, owner, p.ID))

	case ToolDelete:
		var p EntryParams
		if err := extractParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.log.DeleteEntry(ctx, owner, p.ID); err != nil {
			return nil, err
		}
		return textResult(map[string]string{"deleted": p.ID})

	default:
		return nil, model.Invalid("name", fmt.Sprintf("unknown tool %q", req.Name))
	}
}

func result[T any](v T, err error) (*protocol.CallToolResult, error) {
	if err != nil {
		return nil, err
	}
	return textResult(v)
}
