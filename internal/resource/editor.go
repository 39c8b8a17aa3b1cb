// Package resource edits the small admin collections (topics, rules).
//
// Only create and delete are ever sent; editing an entry stages it in a
// buffer and resubmits it through create. A successful create or delete
// re-fetches the whole list.
package resource

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Collection is one named backend collection.
type Collection[T any] interface {
	Name() string
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, entry T) error
	Delete(ctx context.Context, id int64) error
	ID(entry T) int64
	Label(entry T) string
	// Prepare fills the defaults the backend would apply.
	Prepare(entry T) T
}

type Options struct {
	Session *session.Manager
	Status  *status.Board
	Logger  *zap.Logger
}

type Editor[T any] struct {
	coll    Collection[T]
	session *session.Manager
	status  *status.Board
	logger  *zap.Logger

	mu     sync.Mutex
	items  []T
	buffer *T
}

func NewEditor[T any](coll Collection[T], opts Options) *Editor[T] {
	board := opts.Status
	if board == nil {
		board = status.NewBoard()
	}
	return &Editor[T]{
		coll:    coll,
		session: opts.Session,
		status:  board,
		logger:  logging.OrNop(opts.Logger).Named(coll.Name()),
	}
}

func (e *Editor[T]) Name() string { return e.coll.Name() }

// Items returns the last fetched list.
func (e *Editor[T]) Items() []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]T(nil), e.items...)
}

// List fetches the collection and replaces the displayed list.
func (e *Editor[T]) List(ctx context.Context) ([]T, error) {
	t, ok := e.session.Begin()
	if !ok {
		e.Clear()
		return nil, session.ErrSignedOut
	}
	items, err := e.coll.List(ctx)
	if err = e.session.Settle(t, err); err != nil {
		e.status.Error("loading " + e.coll.Name() + " failed: " + err.Error())
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.Valid(t) {
		return nil, session.ErrSignedOut
	}
	e.items = items
	return append([]T(nil), items...), nil
}

// Create validates entry, submits it and re-fetches the list. The edit
// buffer is cleared once the backend accepted the entry.
func (e *Editor[T]) Create(ctx context.Context, entry T) error {
	entry = e.coll.Prepare(entry)
	if err := validateEntry(entry); err != nil {
		e.status.Error(err.Error())
		return err
	}
	t, ok := e.session.Begin()
	if !ok {
		return session.ErrSignedOut
	}
	if err := e.session.Settle(t, e.coll.Create(ctx, entry)); err != nil {
		e.status.Error("saving " + e.coll.Label(entry) + " failed: " + err.Error())
		return err
	}

	e.mu.Lock()
	e.buffer = nil
	e.mu.Unlock()
	e.logger.Info("created", zap.String("entry", e.coll.Label(entry)))
	e.status.Info("saved " + e.coll.Label(entry))

	_, err := e.List(ctx)
	return err
}

// Delete removes the entry with id and re-fetches the list.
func (e *Editor[T]) Delete(ctx context.Context, id int64) error {
	t, ok := e.session.Begin()
	if !ok {
		return session.ErrSignedOut
	}
	if err := e.session.Settle(t, e.coll.Delete(ctx, id)); err != nil {
		e.status.Error("deleting from " + e.coll.Name() + " failed: " + err.Error())
		return err
	}
	e.logger.Info("deleted", zap.Int64("id", id))
	e.status.Info("deleted " + strconv.FormatInt(id, 10))

	_, err := e.List(ctx)
	return err
}

// Edit stages the displayed entry with id in the buffer, replacing any
// previous one.
func (e *Editor[T]) Edit(id int64) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, it := range e.items {
		if e.coll.ID(it) == id {
			cp := it
			e.buffer = &cp
			return cp, true
		}
	}
	var zero T
	return zero, false
}

// Buffer returns the staged entry.
func (e *Editor[T]) Buffer() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		var zero T
		return zero, false
	}
	return *e.buffer, true
}

// Find selects a displayed entry by id or by fuzzy match on its label.
func (e *Editor[T]) Find(query string) (T, bool) {
	items := e.Items()
	var zero T

	query = strings.TrimSpace(query)
	if query == "" {
		return zero, false
	}
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		for _, it := range items {
			if e.coll.ID(it) == id {
				return it, true
			}
		}
	}

	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = e.coll.Label(it)
	}
	matches := fuzzy.Find(query, labels)
	if len(matches) == 0 {
		return zero, false
	}
	return items[matches[0].Index], true
}

// Clear drops the list and the buffer, e.g. after the session ended.
func (e *Editor[T]) Clear() {
	e.mu.Lock()
	e.items = nil
	e.buffer = nil
	e.mu.Unlock()
}

func validateEntry(entry any) error {
	err := validate.Struct(entry)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return api.Validation(strings.ToLower(verrs[0].Field()) + " is required")
	}
	return api.Validation(err.Error())
}
