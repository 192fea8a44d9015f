package view

import (
	"fmt"

	"github.com/corestack/taskpipe/internal/model"
)

// Well-known view_key values for the parameter-free built-in views.
const (
	KeyStaging   = "staging"
	KeyPlanned   = "planned"
	KeyCompleted = "completed"
	KeyArchived  = "archived"
	KeyDeadline  = "deadline"
)

// builtinDefinitions returns the view_key-identified, parameter-free
// built-ins a fresh Layer registers up front (spec.md §4.G).
func builtinDefinitions() []Definition {
	return []Definition{
		Staging(),
		Planned(),
		Completed(),
		Archived(),
		Deadline(),
	}
}

// Staging: tasks with no scheduled date. The date is not compared with
// today, so a task scheduled only in the past is not staged.
func Staging() Definition {
	return Definition{
		Key:    KeyStaging,
		Filter: func(t *model.Task) bool { return t.ScheduledDate == "" },
	}
}

// Planned: tasks with any scheduled date. The date is not compared with
// today, so a task scheduled only in the past also counts as planned.
func Planned() Definition {
	return Definition{
		Key:    KeyPlanned,
		Filter: func(t *model.Task) bool { return t.ScheduledDate != "" },
	}
}

// Completed: tasks marked done.
func Completed() Definition {
	return Definition{
		Key:    KeyCompleted,
		Filter: func(t *model.Task) bool { return t.IsCompleted },
	}
}

// Archived: tasks removed from active views without being deleted.
func Archived() Definition {
	return Definition{
		Key:    KeyArchived,
		Filter: func(t *model.Task) bool { return t.Archived },
	}
}

// Deadline: tasks with a due date, not archived, not completed; sorted
// ascending by due date, with recurring-task dedup applied.
func Deadline() Definition {
	return Definition{
		Key: KeyDeadline,
		Filter: func(t *model.Task) bool {
			return !t.DueDate.IsZero() && !t.Archived && !t.IsCompleted
		},
		Dedup:         true,
		SortByDueDate: true,
	}
}

// Daily returns the view_key-identified projection of tasks scheduled
// on date (an RFC3339-date string, matching model.Task.ScheduledDate).
func Daily(date string) Definition {
	return Definition{
		Key:    fmt.Sprintf("daily:%s", date),
		Filter: func(t *model.Task) bool { return t.ScheduledDate == date },
	}
}

// Area returns the view_key-identified projection of tasks belonging
// to areaID.
func Area(areaID model.ID) Definition {
	return Definition{
		Key:    fmt.Sprintf("area:%s", areaID.String()),
		Filter: func(t *model.Task) bool { return t.AreaID == areaID },
	}
}

// Project returns the view_key-identified projection of tasks under
// projectID, optionally narrowed to a single sectionID.
func Project(projectID model.ID, sectionID *model.ID) Definition {
	key := fmt.Sprintf("project:%s", projectID.String())
	if sectionID != nil {
		key = fmt.Sprintf("%s:%s", key, sectionID.String())
	}
	return Definition{
		Key: key,
		Filter: func(t *model.Task) bool {
			if t.ProjectID != projectID {
				return false
			}
			if sectionID != nil && t.SectionID != *sectionID {
				return false
			}
			return true
		},
	}
}
