// Package model defines the data exchanged with the discover backend.
package model

import "time"

// Item is one ranked entry of a feed page.
type Item struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	SourceDomain string    `json:"source_domain"`
	Score        float64   `json:"score"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}

// Topic is an interest query whose weight boosts matching items.
type Topic struct {
	ID      int64   `json:"id"`
	Query   string  `json:"query" validate:"required"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

// Rule is a negative pattern whose penalty down-ranks matching items.
type Rule struct {
	ID      int64   `json:"id"`
	Pattern string  `json:"pattern" validate:"required"`
	Penalty float64 `json:"penalty"`
	Enabled bool    `json:"enabled"`
}

type TopicStats struct {
	Unread int `json:"unread"`
	Total  int `json:"total"`
}

// SessionInfo is returned by login and session probe endpoints.
type SessionInfo struct {
	OK             bool    `json:"ok"`
	CSRFToken      string  `json:"csrf_token"`
	DefaultPenalty float64 `json:"hide_rule_default_penalty"`
}

// IngestState mirrors the backend scheduler snapshot.
type IngestState struct {
	Running         bool      `json:"running"`
	CurrentSource   string    `json:"current_source"`
	StartedAt       time.Time `json:"started_at"`
	LastCompletedAt time.Time `json:"last_completed_at"`
	LastDurationMS  int64     `json:"last_duration_ms"`
	LastError       string    `json:"last_error"`
	LastSource      string    `json:"last_source"`
}

// Source is the running source, or the last one when idle.
func (s IngestState) Source() string {
	if s.CurrentSource != "" {
		return s.CurrentSource
	}
	return s.LastSource
}

type Ingest struct {
	State         IngestState `json:"state"`
	LastMessage   string      `json:"last_message"`
	LastMessageAt time.Time   `json:"last_message_at"`
}

// Counts holds the number of items per status.
type Counts struct {
	Unread int `json:"unread"`
	Seen   int `json:"seen"`
	Read   int `json:"read"`
	Useful int `json:"useful"`
	Hidden int `json:"hidden"`
}

type Status struct {
	Ingest            Ingest `json:"ingest"`
	Counts            Counts `json:"counts"`
	DedupeHiddenTotal int    `json:"dedupe_hidden_total"`
}

type DedupeStats struct {
	SameRunHidden    int64 `json:"same_run_hidden"`
	HistoricalHidden int64 `json:"historical_hidden"`
}

type DedupeResult struct {
	Stats             DedupeStats `json:"stats"`
	DedupeHiddenTotal int         `json:"dedupe_hidden_total"`
}

// Action is a per-item moderation or feedback kind.
type Action string

const (
	ActionUseful         Action = "useful"
	ActionHide           Action = "hide"
	ActionSuppressItem   Action = "suppress-item"
	ActionSuppressDomain Action = "suppress-domain"
)

// Suppress reports whether the action submits a penalty rule.
func (a Action) Suppress() bool {
	return a == ActionSuppressItem || a == ActionSuppressDomain
}

// Wire is the value the action endpoint expects.
func (a Action) Wire() string {
	switch a {
	case ActionUseful:
		return "up"
	case ActionHide:
		return "down"
	}
	return string(a)
}

// ParseAction accepts the action names and the backend's short forms.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "useful", "up":
		return ActionUseful, true
	case "hide", "down":
		return ActionHide, true
	case "suppress-item", "dont":
		return ActionSuppressItem, true
	case "suppress-domain":
		return ActionSuppressDomain, true
	}
	return "", false
}
