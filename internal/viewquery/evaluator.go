package viewquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corestack/taskpipe/internal/model"
)

// Predicate reports whether t satisfies a compiled filter expression.
type Predicate func(t *model.Task) bool

// Evaluator compiles a parsed AST into a Predicate against model.Task.
// now anchors duration-relative comparisons (due_date<7d, updated_at>30d)
// so a compiled filter is deterministic for a given instant, matching
// spec.md P5's requirement that a view be a pure function of its inputs.
type Evaluator struct {
	now time.Time
}

// NewEvaluator returns an Evaluator anchored at now.
func NewEvaluator(now time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Compile turns node into a Predicate, or an error if it references an
// unknown field or a value of the wrong shape for that field.
func (e *Evaluator) Compile(node Node) (Predicate, error) {
	switch n := node.(type) {
	case *ComparisonNode:
		return e.compileComparison(n)
	case *AndNode:
		left, err := e.Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return func(t *model.Task) bool { return left(t) && right(t) }, nil
	case *OrNode:
		left, err := e.Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return func(t *model.Task) bool { return left(t) || right(t) }, nil
	case *NotNode:
		inner, err := e.Compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return func(t *model.Task) bool { return !inner(t) }, nil
	default:
		return nil, fmt.Errorf("viewquery: unhandled node type %T", node)
	}
}

func (e *Evaluator) compileComparison(n *ComparisonNode) (Predicate, error) {
	if !KnownFields[n.Field] {
		return nil, fmt.Errorf("viewquery: unknown field %q", n.Field)
	}

	switch n.Field {
	case "id":
		return compareString(func(t *model.Task) string { return t.ID.String() }, n)
	case "title":
		return compareString(func(t *model.Task) string { return t.Title }, n)
	case "notes":
		return compareString(func(t *model.Task) string { return t.Notes }, n)
	case "is_completed", "completed":
		want, err := parseBool(n.Value)
		if err != nil {
			return nil, err
		}
		return boolPredicate(func(t *model.Task) bool { return t.IsCompleted }, n.Op, want)
	case "archived":
		want, err := parseBool(n.Value)
		if err != nil {
			return nil, err
		}
		return boolPredicate(func(t *model.Task) bool { return t.Archived }, n.Op, want)
	case "deleted":
		want, err := parseBool(n.Value)
		if err != nil {
			return nil, err
		}
		return boolPredicate(func(t *model.Task) bool { return t.IsDeleted }, n.Op, want)
	case "area", "area_id":
		return compareString(func(t *model.Task) string { return t.AreaID.String() }, n)
	case "project", "project_id":
		return compareString(func(t *model.Task) string { return t.ProjectID.String() }, n)
	case "section_id":
		return compareString(func(t *model.Task) string { return t.SectionID.String() }, n)
	case "recurrence_id":
		return compareString(func(t *model.Task) string { return t.RecurrenceID.String() }, n)
	case "due_date":
		return e.compareDate(func(t *model.Task) time.Time { return t.DueDate }, n)
	case "completed_at":
		return e.compareDate(func(t *model.Task) time.Time { return t.CompletedAt }, n)
	case "updated_at":
		return e.compareDate(func(t *model.Task) time.Time { return t.UpdatedAt }, n)
	case "scheduled_date":
		return e.compareScheduledDate(n)
	default:
		return nil, fmt.Errorf("viewquery: field %q has no evaluator", n.Field)
	}
}

func compareString(get func(*model.Task) string, n *ComparisonNode) (Predicate, error) {
	want := n.Value
	switch n.Op {
	case OpEquals:
		return func(t *model.Task) bool { return strings.EqualFold(get(t), want) }, nil
	case OpNotEquals:
		return func(t *model.Task) bool { return !strings.EqualFold(get(t), want) }, nil
	default:
		return nil, fmt.Errorf("viewquery: field %q only supports = and !=", n.Field)
	}
}

func boolPredicate(get func(*model.Task) bool, op ComparisonOp, want bool) (Predicate, error) {
	switch op {
	case OpEquals:
		return func(t *model.Task) bool { return get(t) == want }, nil
	case OpNotEquals:
		return func(t *model.Task) bool { return get(t) != want }, nil
	default:
		return nil, fmt.Errorf("viewquery: boolean fields only support = and !=")
	}
}

func parseBool(value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("viewquery: %q is not a boolean", value)
	}
	return b, nil
}

// compareDate handles both an absolute RFC3339 value and a
// duration-relative one (due_date<7d means "due before now plus 7
// days", overdue dates included; due_date>7d means "more than 7 days
// out").
func (e *Evaluator) compareDate(get func(*model.Task) time.Time, n *ComparisonNode) (Predicate, error) {
	if n.ValueType == TokenDuration {
		d, err := parseViewDuration(n.Value)
		if err != nil {
			return nil, err
		}
		target := e.now.Add(d)
		return dateOpPredicate(get, n.Op, target), nil
	}

	target, err := time.Parse(time.RFC3339, n.Value)
	if err != nil {
		if t2, err2 := time.Parse("2006-01-02", n.Value); err2 == nil {
			target = t2
		} else {
			return nil, fmt.Errorf("viewquery: field %q expects a date or duration, got %q", n.Field, n.Value)
		}
	}
	return dateOpPredicate(get, n.Op, target), nil
}

func dateOpPredicate(get func(*model.Task) time.Time, op ComparisonOp, target time.Time) Predicate {
	switch op {
	case OpEquals:
		return func(t *model.Task) bool { return get(t).Equal(target) }
	case OpNotEquals:
		return func(t *model.Task) bool { return !get(t).Equal(target) }
	case OpLess, OpLessEq:
		return func(t *model.Task) bool {
			d := get(t)
			if d.IsZero() {
				return false
			}
			return d.Before(target) || (op == OpLessEq && d.Equal(target))
		}
	case OpGreater, OpGreaterEq:
		return func(t *model.Task) bool {
			d := get(t)
			if d.IsZero() {
				return false
			}
			return d.After(target) || (op == OpGreaterEq && d.Equal(target))
		}
	default:
		return func(t *model.Task) bool { return false }
	}
}

// compareScheduledDate handles Task.ScheduledDate, which is a bare
// "YYYY-MM-DD" string rather than a time.Time (spec.md §3: "" means
// staging).
func (e *Evaluator) compareScheduledDate(n *ComparisonNode) (Predicate, error) {
	if n.Value == "" || strings.EqualFold(n.Value, "staging") {
		switch n.Op {
		case OpEquals:
			return func(t *model.Task) bool { return t.ScheduledDate == "" }, nil
		case OpNotEquals:
			return func(t *model.Task) bool { return t.ScheduledDate != "" }, nil
		default:
			return nil, fmt.Errorf("viewquery: scheduled_date=staging only supports = and !=")
		}
	}

	get := func(t *model.Task) time.Time {
		if t.ScheduledDate == "" {
			return time.Time{}
		}
		parsed, err := time.Parse("2006-01-02", t.ScheduledDate)
		if err != nil {
			return time.Time{}
		}
		return parsed
	}
	return e.compareDate(get, &ComparisonNode{Field: n.Field, Op: n.Op, Value: n.Value, ValueType: n.ValueType})
}

// parseViewDuration converts a lexer TokenDuration value (e.g. "7d",
// "24h") into a time.Duration. Day/week/month/year suffixes are
// expanded in calendar-approximate terms since time.ParseDuration only
// understands h/m/s.
func parseViewDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("viewquery: empty duration")
	}
	suffix := value[len(value)-1]
	numPart := value[:len(value)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, fmt.Errorf("viewquery: invalid duration %q", value)
	}

	switch suffix {
	case 'h', 'H':
		return time.Duration(n) * time.Hour, nil
	case 'd', 'D':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w', 'W':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm', 'M':
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	case 'y', 'Y':
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("viewquery: unknown duration suffix %q", string(suffix))
	}
}
