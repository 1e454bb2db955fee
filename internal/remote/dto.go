package remote

import (
	"time"

	"github.com/BuzzLyutic/todo-sync/internal/model"
)

// element — формат задачи на бэкенде: время в unix-секундах.
type element struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	Importance    string  `json:"importance"`
	Deadline      *int64  `json:"deadline,omitempty"`
	Done          bool    `json:"done"`
	Color         *string `json:"color,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	ChangedAt     int64   `json:"changed_at"`
	LastUpdatedBy string  `json:"last_updated_by"`
}

type elementRequest struct {
	Element element `json:"element"`
}

type listRequest struct {
	List []element `json:"list"`
}

type response struct {
	Status   string    `json:"status"`
	Element  *element  `json:"element,omitempty"`
	List     []element `json:"list,omitempty"`
	Revision int64     `json:"revision"`
}

func toElement(item model.TodoItem) element {
	e := element{
		ID:            item.ID,
		Text:          item.Text,
		Importance:    string(item.Importance),
		Done:          item.Done,
		Color:         item.Color,
		CreatedAt:     item.CreatedAt.Unix(),
		ChangedAt:     item.ChangedAt.Unix(),
		LastUpdatedBy: item.LastUpdatedBy,
	}
	if item.Deadline != nil {
		d := item.Deadline.Unix()
		e.Deadline = &d
	}
	return e
}

func (e element) toItem() model.TodoItem {
	item := model.TodoItem{
		ID:            e.ID,
		Text:          e.Text,
		Importance:    model.Importance(e.Importance),
		Done:          e.Done,
		Color:         e.Color,
		CreatedAt:     time.Unix(e.CreatedAt, 0).UTC(),
		ChangedAt:     time.Unix(e.ChangedAt, 0).UTC(),
		LastUpdatedBy: e.LastUpdatedBy,
	}
	if e.Deadline != nil {
		d := time.Unix(*e.Deadline, 0).UTC()
		item.Deadline = &d
	}
	return item
}

func toElements(items []model.TodoItem) []element {
	out := make([]element, 0, len(items))
	for _, item := range items {
		out = append(out, toElement(item))
	}
	return out
}

func toItems(elements []element) []model.TodoItem {
	out := make([]model.TodoItem, 0, len(elements))
	for _, e := range elements {
		out = append(out, e.toItem())
	}
	return out
}
