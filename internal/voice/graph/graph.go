// Package graph decides which survey questions are currently reachable.
//
// Questions form a forest keyed by id: a child question is shown only when
// its parent is shown and the parent's canonical answer is one of the
// child's trigger categories. Visibility is computed top-down from the roots,
// so a malformed subtree (dangling parent, cycle) is simply never reached.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"voicesurvey/internal/model"
)

var (
	ErrDuplicateID    = errors.New("duplicate question id")
	ErrDanglingParent = errors.New("question references unknown parent")
	ErrCycle          = errors.New("question parent chain forms a cycle")
	ErrInvalidID      = errors.New("question id is empty or contains '.' or a leading '$'")
)

// Tree indexes a question list by parent id
type Tree struct {
	children map[string][]int
	roots    []int
	all      []model.Question
}

// NewTree builds a tree over qs. The slice is not copied; callers must not
// mutate it while the tree is in use.
func NewTree(qs []model.Question) *Tree {
	t := &Tree{
		children: make(map[string][]int),
		all:      qs,
	}
	for i := range qs {
		q := &qs[i]
		if q.IsTopLevel() {
			t.roots = append(t.roots, i)
			continue
		}
		t.children[q.ParentID] = append(t.children[q.ParentID], i)
	}
	return t
}

// Visible walks the tree from the roots and returns every visible question
// ordered by Order, ties kept in input order.
func (t *Tree) Visible() []model.Question {
	seen := make(map[int]bool, len(t.all))
	var hits []int

	var walk func(i int)
	walk = func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		hits = append(hits, i)
		q := &t.all[i]
		for _, c := range t.children[q.ID] {
			if t.all[c].Triggers(q.CanonicalAnswer) {
				walk(c)
			}
		}
	}
	for _, r := range t.roots {
		walk(r)
	}

	sort.Slice(hits, func(a, b int) bool {
		qa, qb := &t.all[hits[a]], &t.all[hits[b]]
		if qa.Order != qb.Order {
			return qa.Order < qb.Order
		}
		return hits[a] < hits[b]
	})
	out := make([]model.Question, len(hits))
	for i, h := range hits {
		out[i] = t.all[h]
	}
	return out
}

// Resolve returns the visible subset of all, ordered by Order.
// It is pure: the same input always yields the same output.
func Resolve(all []model.Question) []model.Question {
	return NewTree(all).Visible()
}

// Validate rejects question sets that the resolver would silently hide:
// invalid or duplicate ids, dangling parents and parent cycles.
func Validate(all []model.Question) error {
	ids := make(map[string]string, len(all)) // id -> parent
	for _, q := range all {
		if !model.ValidQuestionID(q.ID) {
			return fmt.Errorf("%w: %q", ErrInvalidID, q.ID)
		}
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, q.ID)
		}
		ids[q.ID] = q.ParentID
	}
	for _, q := range all {
		if q.ParentID == "" {
			continue
		}
		if _, ok := ids[q.ParentID]; !ok {
			return fmt.Errorf("%w: %q -> %q", ErrDanglingParent, q.ID, q.ParentID)
		}
	}
	for _, q := range all {
		steps := 0
		for cur := q.ParentID; cur != ""; cur = ids[cur] {
			if cur == q.ID || steps > len(all) {
				return fmt.Errorf("%w: %q", ErrCycle, q.ID)
			}
			steps++
		}
	}
	return nil
}

// NeedsAnswer reports whether q still requires a spoken answer. The caller
// passes a question from the visible set.
func NeedsAnswer(q model.Question) bool {
	return !q.IsPreAnswered() && q.RawAnswer == ""
}

// FirstNeedingAnswer returns the index of the first visible question at or
// after from that still needs an answer, or -1.
func FirstNeedingAnswer(visible []model.Question, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(visible); i++ {
		if NeedsAnswer(visible[i]) {
			return i
		}
	}
	return -1
}

// Revealed returns the questions of after that were not in before,
// ordered by Order.
func Revealed(before, after []model.Question) []model.Question {
	prev := make(map[string]struct{}, len(before))
	for _, q := range before {
		prev[q.ID] = struct{}{}
	}
	var out []model.Question
	for _, q := range after {
		if _, ok := prev[q.ID]; !ok {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Order < out[b].Order })
	return out
}

// IndexOf returns the position of the question with the given id, or -1
func IndexOf(qs []model.Question, id string) int {
	for i := range qs {
		if qs[i].ID == id {
			return i
		}
	}
	return -1
}
