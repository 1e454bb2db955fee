package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidItem = errors.New("invalid todo item")

type Importance string

const (
	ImportanceLow       Importance = "low"
	ImportanceBasic     Importance = "basic"
	ImportanceImportant Importance = "important"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceBasic, ImportanceImportant:
		return true
	}
	return false
}

// TodoItem — одна запись списка дел. Локально и на бэкенде хранится в одинаковом виде.
type TodoItem struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	Importance    Importance `json:"importance"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Done          bool       `json:"done"`
	Color         *string    `json:"color,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ChangedAt     time.Time  `json:"changed_at"`
	LastUpdatedBy string     `json:"last_updated_by"`
}

func (t TodoItem) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidItem)
	}
	if !t.Importance.Valid() {
		return fmt.Errorf("%w: unknown importance %q", ErrInvalidItem, t.Importance)
	}
	return nil
}

type Stats struct {
	Total    int   `json:"total"`
	Done     int   `json:"done"`
	Revision int64 `json:"revision"`
}
