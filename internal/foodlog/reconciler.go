// Package foodlog owns meal entries: logging them through the analysis
// provider and applying the text, macro, item and reanalysis edits while
// keeping each entry's facets consistent.
package foodlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mealmood/internal/analysis"
	"github.com/dukerupert/mealmood/internal/macros"
	"github.com/dukerupert/mealmood/internal/model"
)

// DefaultProviderTimeout bounds a single analysis call.
const DefaultProviderTimeout = 45 * time.Second

// Operation names, used for metrics and logs.
const (
	OpLogMeal    = "log_meal"
	OpEditText   = "edit_text"
	OpEditMacros = "edit_macros"
	OpEditItems  = "edit_items"
	OpReanalyze  = "reanalyze"
	OpDelete     = "delete_entry"
)

// Actions reported to a Listener after a successful write.
const (
	ActionCreated         = "entry_created"
	ActionTextEdited      = "text_edited"
	ActionMacrosEdited    = "macros_edited"
	ActionItemsEdited     = "items_edited"
	ActionReanalyzing     = "reanalyzing"
	ActionReanalyzed      = "reanalyzed"
	ActionReanalyzeFailed = "reanalyze_failed"
	ActionDeleted         = "deleted"
)

// Store persists entries. Every method is scoped by owner and reports a
// foreign or missing entry as model.ErrNotFound. Put replaces the whole
// entry only if e.Version still matches, returning model.ErrConflict
// otherwise.
type Store interface {
	Create(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error)
	Get(ctx context.Context, owner int64, id string) (*model.Entry, error)
	ListByOwner(ctx context.Context, owner int64) ([]*model.Entry, error)
	Put(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error)
	Delete(ctx context.Context, owner int64, id string) error
}

// StaleResetter is implemented by stores that can release abandoned
// reanalysis leases in bulk.
type StaleResetter interface {
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer receives operation and provider timings.
type Observer interface {
	OperationDone(op, outcome string, d time.Duration)
	ProviderDone(op, outcome string, d time.Duration)
}

// Listener is told about every successful write.
type Listener interface {
	EntryChanged(owner int64, action string, e *model.Entry)
}

// ImageChecker decides whether owner may attach an image reference.
type ImageChecker interface {
	CheckImageRef(owner int64, ref string) error
}

type Options struct {
	Logger          *slog.Logger
	Observer        Observer
	Listener        Listener
	Images          ImageChecker
	ProviderTimeout time.Duration
	// Lease defaults to ProviderTimeout + LeaseGrace.
	Lease    time.Duration
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

type Reconciler struct {
	store     Store
	provider  analysis.Provider
	logger    *slog.Logger
	observer  Observer
	listener  Listener
	images    ImageChecker
	lifecycle *lifecycle
	loc       *time.Location
	now       func() time.Time
	newID     func() string
}

func New(store Store, provider analysis.Provider, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.Lease <= 0 {
		opts.Lease = opts.ProviderTimeout + LeaseGrace
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Reconciler{
		store:     store,
		provider:  analysis.WithTimeout(provider, opts.ProviderTimeout),
		logger:    opts.Logger.With("component", "foodlog"),
		observer:  opts.Observer,
		listener:  opts.Listener,
		images:    opts.Images,
		lifecycle: newLifecycle(opts.Lease),
		loc:       opts.Location,
		now:       func() time.Time { return opts.Now().UTC() },
		newID:     opts.NewID,
	}
}

// storeErr classifies a store error. NotFound and Conflict pass through;
// anything else becomes a store failure.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStoreFailure, err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.ErrorCode(err)
}

func (r *Reconciler) record(op string, start time.Time, err error) {
	if r.observer != nil {
		r.observer.OperationDone(op, outcome(err), time.Since(start))
	}
	switch {
	case err == nil:
		r.logger.Debug("operation done", "op", op, "duration", time.Since(start))
	case errors.Is(err, model.ErrStoreFailure):
		r.logger.Error("operation failed", "op", op, "error", err)
	case errors.Is(err, model.ErrProviderFailure):
		r.logger.Warn("operation failed", "op", op, "error", err)
	default:
		r.logger.Debug("operation rejected", "op", op, "error", err)
	}
}

func (r *Reconciler) notify(owner int64, action string, e *model.Entry) {
	if r.listener != nil && e != nil {
		r.listener.EntryChanged(owner, action, e.Clone())
	}
}

// analyze calls the provider and checks its result before anything is
// written. Every failure wraps model.ErrProviderFailure.
func (r *Reconciler) analyze(ctx context.Context, op string, req analysis.Request) (*analysis.Result, error) {
	start := time.Now()
	res, err := r.provider.Analyze(ctx, req)
	if err == nil && res == nil {
		err = analysis.ErrUnparseable
	}
	if err == nil {
		if verr := ValidateItems(res.Items); verr != nil {
			err = fmt.Errorf("%w: %v", analysis.ErrUnparseable, verr)
		} else if verr := ValidateTotals(res.Totals); verr != nil {
			err = fmt.Errorf("%w: %v", analysis.ErrUnparseable, verr)
		}
	}
	if r.observer != nil {
		r.observer.ProviderDone(op, outcome(err), time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrProviderFailure, err)
	}
	if !res.Confidence.Valid() {
		res.Confidence = model.MediumConfidence
	}
	return res, nil
}

// LogMeal analyzes a new meal and stores it. A provider failure stores
// nothing.
func (r *Reconciler) LogMeal(ctx context.Context, owner int64, rawText, imageRef string) (out *model.Entry, err error) {
	start := time.Now()
	defer func() { r.record(OpLogMeal, start, err) }()

	req := analysis.Request{Owner: owner, RawText: strings.TrimSpace(rawText), ImageRef: strings.TrimSpace(imageRef)}
	if req.Empty() {
		return nil, model.Invalid("", "raw_text or image_ref is required")
	}
	if r.images != nil && req.ImageRef != "" {
		if err := r.images.CheckImageRef(owner, req.ImageRef); err != nil {
			return nil, model.Invalid("image_ref", err.Error())
		}
	}

	res, err := r.analyze(ctx, OpLogMeal, req)
	if err != nil {
		return nil, err
	}

	now := r.now()
	e := &model.Entry{
		ID:             r.newID(),
		CreatedAt:      now,
		UpdatedAt:      now,
		RawText:        req.RawText,
		ImageRef:       req.ImageRef,
		MoodAnalysis:   res.MoodAnalysis,
		Confidence:     res.Confidence,
		Totals:         res.Totals,
		TotalsSource:   model.TotalsFromAI,
		Items:          model.CloneItems(res.Items),
		State:          model.StateIdle,
		StateChangedAt: now,
		Version:        1,
	}
	created, err := r.store.Create(ctx, owner, e)
	if err != nil {
		return nil, storeErr(err)
	}
	r.notify(owner, ActionCreated, created)
	return created, nil
}

func (r *Reconciler) GetEntry(ctx context.Context, owner int64, id string) (*model.Entry, error) {
	e, err := r.store.Get(ctx, owner, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return e, nil
}

// mutate runs one synchronous edit under the entry token: load, check the
// lifecycle, apply, write back in a single Put.
func (r *Reconciler) mutate(ctx context.Context, op, action string, owner int64, id string, apply func(e *model.Entry)) (*model.Entry, error) {
	release, err := r.lifecycle.begin(owner, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := r.store.Get(ctx, owner, id)
	if err != nil {
		return nil, storeErr(err)
	}
	now := r.now()
	if err := r.lifecycle.checkIdle(cur, now); err != nil {
		return nil, err
	}

	next := cur.Clone()
	apply(next)
	next.UpdatedAt = now
	if next.State != model.StateIdle {
		r.logger.Warn("taking over abandoned reanalysis", "op", op, "entry", id, "since", cur.StateChangedAt)
		next.State = model.StateIdle
		next.StateChangedAt = now
	}

	saved, err := r.store.Put(ctx, owner, next)
	if err != nil {
		return nil, storeErr(err)
	}
	r.notify(owner, action, saved)
	return saved, nil
}

// EditText replaces the raw text only. Mood, totals and items are untouched.
func (r *Reconciler) EditText(ctx context.Context, owner int64, id, text string) (out *model.Entry, err error) {
	start := time.Now()
	defer func() { r.record(OpEditText, start, err) }()

	if err := ValidateText(text); err != nil {
		return nil, err
	}
	return r.mutate(ctx, OpEditText, ActionTextEdited, owner, id, func(e *model.Entry) {
		e.RawText = text
	})
}

// EditMacros replaces totals verbatim and leaves items alone, so the two
// may disagree afterwards.
func (r *Reconciler) EditMacros(ctx context.Context, owner int64, id string, totals model.MacroTotals) (out *model.Entry, err error) {
	start := time.Now()
	defer func() { r.record(OpEditMacros, start, err) }()

	if err := ValidateTotals(totals); err != nil {
		return nil, err
	}
	return r.mutate(ctx, OpEditMacros, ActionMacrosEdited, owner, id, func(e *model.Entry) {
		e.Totals = totals
		e.TotalsSource = model.TotalsFromManual
	})
}

// EditItems replaces the item list wholesale. With recalculate the totals
// become the sum of the new items; without it they stay exactly as they were.
func (r *Reconciler) EditItems(ctx context.Context, owner int64, id string, items []model.FoodItem, recalculate bool) (out *model.Entry, err error) {
	start := time.Now()
	defer func() { r.record(OpEditItems, start, err) }()

	if err := ValidateItems(items); err != nil {
		return nil, err
	}
	items = model.CloneItems(items)
	return r.mutate(ctx, OpEditItems, ActionItemsEdited, owner, id, func(e *model.Entry) {
		e.Items = items
		if recalculate {
			e.Totals = macros.Aggregate(items)
			e.TotalsSource = model.TotalsFromItems
		}
	})
}

// Reanalyze sends the entry's text and image back through the provider and
// replaces mood, confidence, totals and items together. The entry is marked
// reanalyzing for the duration of the call. On provider failure the entry
// is written back exactly as it was and the failure is returned.
func (r *Reconciler) Reanalyze(ctx context.Context, owner int64, id string) (out *model.Entry, err error) {
	start := time.Now()
	defer func() { r.record(OpReanalyze, start, err) }()

	release, err := r.lifecycle.begin(owner, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := r.store.Get(ctx, owner, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := r.lifecycle.checkIdle(cur, r.now()); err != nil {
		return nil, err
	}
	req := analysis.Request{Owner: owner, RawText: cur.RawText, ImageRef: cur.ImageRef}
	if req.Empty() {
		return nil, model.Invalid("", "entry has neither text nor image to analyze")
	}

	// The pre-call snapshot restored on failure. A taken-over lease is
	// restored as idle.
	before := cur.Clone()
	before.State = model.StateIdle

	marked := cur.Clone()
	marked.State = model.StateReanalyzing
	marked.StateChangedAt = r.now()
	held, err := r.store.Put(ctx, owner, marked)
	if err != nil {
		return nil, storeErr(err)
	}
	r.notify(owner, ActionReanalyzing, held)

	res, perr := r.analyze(ctx, OpReanalyze, req)

	// The entry must leave reanalyzing even if the caller has gone away.
	wctx := context.WithoutCancel(ctx)
	now := r.now()

	if perr != nil {
		restore := before
		restore.Version = held.Version
		restore.StateChangedAt = now
		saved, serr := r.store.Put(wctx, owner, restore)
		if serr != nil {
			r.logger.Error("restore after failed reanalysis", "entry", id, "error", serr)
			return nil, fmt.Errorf("%w (restore failed: %v)", perr, serr)
		}
		r.notify(owner, ActionReanalyzeFailed, saved)
		return nil, perr
	}

	next := held.Clone()
	next.MoodAnalysis = res.MoodAnalysis
	next.Confidence = res.Confidence
	next.Totals = res.Totals
	next.TotalsSource = model.TotalsFromAI
	next.Items = model.CloneItems(res.Items)
	next.State = model.StateIdle
	next.StateChangedAt = now
	next.UpdatedAt = now

	saved, err := r.store.Put(wctx, owner, next)
	if err != nil {
		r.logger.Error("write reanalysis result", "entry", id, "error", err)
		return nil, storeErr(err)
	}
	r.notify(owner, ActionReanalyzed, saved)
	return saved, nil
}

// DeleteEntry removes the entry for good. An entry being reanalyzed cannot
// be deleted.
func (r *Reconciler) DeleteEntry(ctx context.Context, owner int64, id string) (err error) {
	start := time.Now()
	defer func() { r.record(OpDelete, start, err) }()

	release, err := r.lifecycle.begin(owner, id)
	if err != nil {
		return err
	}
	defer release()

	cur, err := r.store.Get(ctx, owner, id)
	if err != nil {
		return storeErr(err)
	}
	if err := r.lifecycle.checkIdle(cur, r.now()); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, owner, id); err != nil {
		return storeErr(err)
	}
	r.notify(owner, ActionDeleted, cur)
	return nil
}

// RecoverStale returns entries abandoned in reanalyzing to idle. Stores that
// cannot do this report zero.
func (r *Reconciler) RecoverStale(ctx context.Context) (int64, error) {
	rs, ok := r.store.(StaleResetter)
	if !ok {
		return 0, nil
	}
	n, err := rs.ResetStale(ctx, r.now().Add(-r.lifecycle.lease))
	if err != nil {
		return n, storeErr(err)
	}
	if n > 0 {
		r.logger.Info("recovered abandoned reanalyses", "count", n)
	}
	return n, nil
}
