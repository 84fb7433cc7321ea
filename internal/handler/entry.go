package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/mealmood/internal/auth"
	"github.com/dukerupert/mealmood/internal/foodlog"
	"github.com/dukerupert/mealmood/internal/model"
	"github.com/dukerupert/mealmood/internal/photo"
)

// PhotoStore keeps uploaded meal photos. Delete only removes owner's own
// uploads.
type PhotoStore interface {
	Save(ctx context.Context, owner int64, dataURL string) (string, error)
	Delete(ctx context.Context, owner int64, ref string) error
}

type EntryHandler struct {
	log    *foodlog.Reconciler
	photos PhotoStore
	logger *slog.Logger
}

func NewEntryHandler(rec *foodlog.Reconciler, photos PhotoStore, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{log: rec, photos: photos, logger: logger.With("component", "entry_handler")}
}

type logMealRequest struct {
	RawText   string `json:"raw_text"`
	ImageRef  string `json:"image_ref"`
	ImageData string `json:"image_data"`
}

type editTextRequest struct {
	RawText *string `json:"raw_text"`
}

type editItemsRequest struct {
	Items       []model.FoodItem `json:"items"`
	Recalculate bool             `json:"recalculate"`
}

func (h *EntryHandler) fail(w http.ResponseWriter, err error) {
	WriteError(w, h.logger, err)
}

// historyFilter reads the q, mood, from, to and limit query parameters.
func historyFilter(r *http.Request, loc *time.Location) (foodlog.HistoryFilter, error) {
	q := r.URL.Query()
	f := foodlog.HistoryFilter{
		Query: q.Get("q"),
		Mood:  q.Get("mood"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.Invalid("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}
	from, to, err := foodlog.DayRange(q.Get("from"), q.Get("to"), loc)
	if err != nil {
		return f, err
	}
	f.From, f.To = from, to
	return f, nil
}

func (h *EntryHandler) filter(r *http.Request) (foodlog.HistoryFilter, error) {
	return historyFilter(r, h.log.Location())
}

func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	entries, err := h.log.ListHistory(r.Context(), auth.UserID(r.Context()), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *EntryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	s, err := h.log.Summary(r.Context(), auth.UserID(r.Context()), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req logMealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	ctx := r.Context()
	owner := auth.UserID(ctx)

	imageRef := strings.TrimSpace(req.ImageRef)
	uploaded := false
	if data := strings.TrimSpace(req.ImageData); data != "" {
		if imageRef != "" {
			h.fail(w, model.Invalid("image_data", "cannot be combined with image_ref"))
			return
		}
		ref, err := h.photos.Save(ctx, owner, data)
		if err != nil {
			h.fail(w, photoErr(err))
			return
		}
		imageRef, uploaded = ref, true
	}

	entry, err := h.log.LogMeal(ctx, owner, req.RawText, imageRef)
	if err != nil {
		if uploaded {
			if derr := h.photos.Delete(context.WithoutCancel(ctx), owner, imageRef); derr != nil {
				h.logger.Warn("discard photo", "ref", imageRef, "error", derr)
			}
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func photoErr(err error) error {
	if errors.Is(err, photo.ErrBadDataURL) || errors.Is(err, photo.ErrTooLarge) {
		return model.Invalid("image_data", err.Error())
	}
	return err
}

func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.log.GetEntry(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) EditText(w http.ResponseWriter, r *http.Request) {
	var req editTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.RawText == nil {
		h.fail(w, model.Invalid("raw_text", "is required"))
		return
	}
	entry, err := h.log.EditText(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), *req.RawText)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) EditMacros(w http.ResponseWriter, r *http.Request) {
	var totals model.MacroTotals
	if err := decodeJSON(w, r, &totals); err != nil {
		h.fail(w, err)
		return
	}
	entry, err := h.log.EditMacros(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), totals)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) EditItems(w http.ResponseWriter, r *http.Request) {
	var req editItemsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Items == nil {
		h.fail(w, model.Invalid("items", "is required"))
		return
	}
	entry, err := h.log.EditItems(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), req.Items, req.Recalculate)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	entry, err := h.log.Reanalyze(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.log.DeleteEntry(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
