// Package status holds the single human readable status line shown by the
// controllers.
package status

import (
	"sync"
	"time"
)

type Level int

const (
	Info Level = iota
	// Notice is informational but rendered distinctly, e.g. an ingest
	// cooldown.
	Notice
	Error
)

func (l Level) String() string {
	switch l {
	case Notice:
		return "notice"
	case Error:
		return "error"
	}
	return "info"
}

type Line struct {
	Level Level
	Text  string
	At    time.Time
}

// Board keeps the latest line. Controllers sharing a board overwrite each
// other's lines.
type Board struct {
	mu   sync.Mutex
	line Line
	now  func() time.Time
}

func NewBoard() *Board {
	return &Board{now: time.Now}
}

func (b *Board) Set(level Level, text string) {
	b.mu.Lock()
	b.line = Line{Level: level, Text: text, At: b.now()}
	b.mu.Unlock()
}

func (b *Board) Info(text string)   { b.Set(Info, text) }
func (b *Board) Notice(text string) { b.Set(Notice, text) }
func (b *Board) Error(text string)  { b.Set(Error, text) }

func (b *Board) Clear() { b.Set(Info, "") }

func (b *Board) Current() Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.line
}
