package feed

import "github.com/luxzg/discoverctl/internal/model"

// View is the displayed page. It is immutable: the displayed items and the
// ids awaiting mark-seen are the same slice, so they can never disagree.
type View struct {
	items []model.Item
}

func NewView(items []model.Item) View {
	return View{items: append([]model.Item(nil), items...)}
}

func (v View) Len() int { return len(v.items) }

func (v View) Items() []model.Item {
	return append([]model.Item(nil), v.items...)
}

// Pending returns the ids still displayed, in page order.
func (v View) Pending() []int64 {
	ids := make([]int64, len(v.items))
	for i, it := range v.items {
		ids[i] = it.ID
	}
	return ids
}

func (v View) Has(id int64) bool {
	_, ok := v.Item(id)
	return ok
}

func (v View) Item(id int64) (model.Item, bool) {
	for _, it := range v.items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Item{}, false
}

func (v View) without(id int64) View {
	out := make([]model.Item, 0, len(v.items))
	for _, it := range v.items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return View{items: out}
}

// Result is the outcome of one action call.
type Result struct {
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// Reduce applies an action outcome: the item leaves the view only when its
// call succeeded and it is still displayed.
func Reduce(v View, id int64, r Result) View {
	if !r.OK() || !v.Has(id) {
		return v
	}
	return v.without(id)
}
