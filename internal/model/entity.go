package model

import "time"

// Kind names one of the entity collections the Entity Store keeps.
// New kinds can be introduced by a caller without touching the pipeline
// (spec.md §3: "An implementer may add more without changing the
// pipeline").
type Kind string

const (
	KindTask           Kind = "task"
	KindTimeBlock      Kind = "time_block"
	KindArea           Kind = "area"
	KindProject        Kind = "project"
	KindProjectSection Kind = "project_section"
	KindTemplate       Kind = "template"
	KindRecurrence     Kind = "recurrence"
	KindViewPreference Kind = "view_preference"
	KindSetting        Kind = "setting"
)

// Entity is implemented by every record kept in the Entity Store. It is
// intentionally minimal: the store never inspects anything beyond the id
// and the soft-delete flag (spec.md I2, I3).
type Entity interface {
	EntityID() ID
	Deleted() bool
}

// Task is the central work-item entity.
type Task struct {
	ID                    ID        `json:"id"`
	Title                 string    `json:"title"`
	Notes                 string    `json:"notes,omitempty"`
	IsCompleted           bool      `json:"is_completed"`
	CompletedAt           time.Time `json:"completed_at,omitempty"`
	DueDate               time.Time `json:"due_date,omitempty"`
	AreaID                ID        `json:"area_id,omitempty"`
	ProjectID             ID        `json:"project_id,omitempty"`
	SectionID             ID        `json:"section_id,omitempty"`
	RecurrenceID          ID        `json:"recurrence_id,omitempty"`
	RecurrenceOriginalDate string   `json:"recurrence_original_date,omitempty"`
	ScheduledDate         string    `json:"scheduled_date,omitempty"` // "" = staging; RFC3339 date for daily views
	Archived              bool      `json:"archived"`
	IsDeleted             bool      `json:"deleted"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (t *Task) EntityID() ID   { return t.ID }
func (t *Task) Deleted() bool  { return t.IsDeleted }

// TimeBlock pins a task (or a free-standing block) to a calendar slot.
type TimeBlock struct {
	ID        ID        `json:"id"`
	TaskID    ID        `json:"task_id,omitempty"`
	Date      string    `json:"date"` // RFC3339 date, e.g. "2025-01-05"
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	IsDeleted bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *TimeBlock) EntityID() ID  { return b.ID }
func (b *TimeBlock) Deleted() bool { return b.IsDeleted }

// Area groups projects and tasks into a life domain (e.g. "Work", "Health").
type Area struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"deleted"`
}

func (a *Area) EntityID() ID  { return a.ID }
func (a *Area) Deleted() bool { return a.IsDeleted }

// Project groups tasks (optionally via ProjectSections) under an Area.
type Project struct {
	ID        ID     `json:"id"`
	AreaID    ID     `json:"area_id,omitempty"`
	Name      string `json:"name"`
	Archived  bool   `json:"archived"`
	IsDeleted bool   `json:"deleted"`
}

func (p *Project) EntityID() ID  { return p.ID }
func (p *Project) Deleted() bool { return p.IsDeleted }

// ProjectSection subdivides a Project.
type ProjectSection struct {
	ID        ID     `json:"id"`
	ProjectID ID     `json:"project_id"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"deleted"`
}

func (s *ProjectSection) EntityID() ID  { return s.ID }
func (s *ProjectSection) Deleted() bool { return s.IsDeleted }

// Template captures a reusable task/project shape.
type Template struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Body      []byte `json:"body,omitempty"` // opaque to the pipeline
	IsDeleted bool   `json:"deleted"`
}

func (t *Template) EntityID() ID  { return t.ID }
func (t *Template) Deleted() bool { return t.IsDeleted }

// Recurrence describes how a recurring Task's instances are generated.
type Recurrence struct {
	ID        ID     `json:"id"`
	Rule      string `json:"rule"` // opaque recurrence rule string (e.g. RRULE)
	IsDeleted bool   `json:"deleted"`
}

func (r *Recurrence) EntityID() ID  { return r.ID }
func (r *Recurrence) Deleted() bool { return r.IsDeleted }

// ViewPreference is the sort overlay described in spec.md §3/§4.G.
type ViewPreference struct {
	ID        ID       `json:"id"`
	ViewKey   string   `json:"view_key"`
	OrderedID []ID     `json:"ordered_ids"`
	IsDeleted bool     `json:"deleted"`
}

func (v *ViewPreference) EntityID() ID  { return v.ID }
func (v *ViewPreference) Deleted() bool { return v.IsDeleted }

// Setting is a single opaque key/value application setting.
type Setting struct {
	ID        ID     `json:"id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	IsDeleted bool   `json:"deleted"`
}

func (s *Setting) EntityID() ID  { return s.ID }
func (s *Setting) Deleted() bool { return s.IsDeleted }
