// Package dispatch sends invoice requests: it groups the selected cost items
// by counterparty and emits one message per group.
package dispatch

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/normalize"
)

// NoCounterparty is the group key of items without a counterparty name.
const NoCounterparty = "no counterparty"

// Line is one selected item with the job it belongs to.
type Line struct {
	Item     models.CostItem
	JobCode  string
	JobTitle string
}

// Group is the set of lines sent to one counterparty.
type Group struct {
	Key   string
	Name  string
	Email string
	Lines []Line
	Total decimal.Decimal
}

// CostItemIDs returns the ids of the group's items in selection order.
func (g *Group) CostItemIDs() []string {
	ids := make([]string, len(g.Lines))
	for i, l := range g.Lines {
		ids[i] = l.Item.ID
	}
	return ids
}

// GroupKey is the normalized counterparty name, so that "Luz & Câmera Ltda."
// and "LUZ CAMERA LTDA" land in the same group.
func GroupKey(cp models.CounterpartySnapshot) string {
	if key := normalize.Name(cp.Name); key != "" {
		return key
	}
	return NoCounterparty
}

// GroupByCounterparty splits lines into groups ordered by key. Lines keep
// their relative order. The first non-empty name and email of a group win.
func GroupByCounterparty(lines []Line) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, l := range lines {
		cp := l.Item.Counterparty
		key := GroupKey(cp)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key, Total: decimal.Zero})
		}
		g := &groups[i]
		if g.Name == "" {
			g.Name = cp.Name
		}
		if g.Email == "" {
			g.Email = normalize.Email(cp.Email)
		}
		g.Lines = append(g.Lines, l)
		g.Total = g.Total.Add(l.Item.TotalWithOvertime)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}
