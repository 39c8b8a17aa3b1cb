package store

import (
	"net/http"
	"time"

	"github.com/luxzg/discoverctl/internal/constants"
)

// Cookie is a persisted backend session cookie.
type Cookie struct {
	Scope    string
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
}

func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

func (c Cookie) HTTP() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
}

// ActionRecord is one journaled action attempt.
type ActionRecord struct {
	ID        int
	Identity  string
	ItemID    int64
	Kind      string
	Pattern   string
	Penalty   float64
	OK        bool
	Message   string
	CreatedAt time.Time
}

type Store interface {
	// SaveCookies replaces every cookie stored for scope.
	SaveCookies(scope string, cookies []Cookie) error
	LoadCookies(scope string) ([]Cookie, error)
	ClearCookies(scope string) error
	RecordAction(rec *ActionRecord) error
	// GetActions returns at most limit records, all of them when limit <= 0.
	GetActions(ordering constants.Ordering, limit int) ([]ActionRecord, error)
	CountActions() (int, error)
	Close() error
}
