package isa

import (
	"fmt"
	"time"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/timeparsing"
)

// RegisterBuiltins installs the built-in instruction types:
// task.complete, task.reopen, task.update, task.delete,
// schedule.create/delete, time_block.create_from_task. Every one of
// these declares a Request template; the pipeline's transport issues it
// at EX, so isa itself never needs a transport handle.
func RegisterBuiltins(r *Registry) {
	r.Register("task.complete", taskComplete())
	r.Register("task.reopen", taskReopen())
	r.Register("task.update", taskUpdate())
	r.Register("task.delete", taskDelete())
	r.Register("schedule.create", scheduleCreate())
	r.Register("schedule.delete", scheduleDelete())
	r.Register("time_block.create_from_task", timeBlockCreateFromTask())
}

// TaskCompletePayload is task.complete's payload.
type TaskCompletePayload struct {
	ID model.ID
}

func taskComplete() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				p := payload.(TaskCompletePayload)
				return []string{"task:" + p.ID.String()}
			},
			EntityKind: model.KindTask,
		},
		Validate: func(payload any, ctx *Context) error {
			p := payload.(TaskCompletePayload)
			if _, ok := ctx.Store.Get(model.KindTask, p.ID); !ok {
				return fmt.Errorf("task.complete: unknown task %s", p.ID)
			}
			return nil
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(TaskCompletePayload)
				rec, _ := ctx.Store.Get(model.KindTask, p.ID)
				prior := *rec.(*model.Task)
				updated := prior
				updated.IsCompleted = true
				updated.CompletedAt = time.Now()
				updated.UpdatedAt = time.Now()
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "POST",
			Path:   func(payload any) string { return "/tasks/" + payload.(TaskCompletePayload).ID.String() + "/complete" },
		},
	}
}

func taskReopen() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				return []string{"task:" + payload.(TaskCompletePayload).ID.String()}
			},
			EntityKind: model.KindTask,
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(TaskCompletePayload)
				rec, ok := ctx.Store.Get(model.KindTask, p.ID)
				if !ok {
					return nil, fmt.Errorf("task.reopen: unknown task %s", p.ID)
				}
				prior := *rec.(*model.Task)
				updated := prior
				updated.IsCompleted = false
				updated.CompletedAt = time.Time{}
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "POST",
			Path:   func(payload any) string { return "/tasks/" + payload.(TaskCompletePayload).ID.String() + "/reopen" },
		},
	}
}

// TaskUpdatePayload is task.update's payload: a sparse patch.
type TaskUpdatePayload struct {
	ID    model.ID
	Title *string
	Notes *string
}

func taskUpdate() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				return []string{"task:" + payload.(TaskUpdatePayload).ID.String()}
			},
			EntityKind: model.KindTask,
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(TaskUpdatePayload)
				rec, ok := ctx.Store.Get(model.KindTask, p.ID)
				if !ok {
					return nil, fmt.Errorf("task.update: unknown task %s", p.ID)
				}
				prior := *rec.(*model.Task)
				updated := prior
				if p.Title != nil {
					updated.Title = *p.Title
				}
				if p.Notes != nil {
					updated.Notes = *p.Notes
				}
				updated.UpdatedAt = time.Now()
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "PATCH",
			Path:   func(payload any) string { return "/tasks/" + payload.(TaskUpdatePayload).ID.String() },
			Body:   func(payload any) any { return payload },
		},
	}
}

// TaskDeletePayload is task.delete's payload.
type TaskDeletePayload struct {
	ID model.ID
}

func taskDelete() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				return []string{"task:" + payload.(TaskDeletePayload).ID.String()}
			},
			EntityKind: model.KindTask,
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(TaskDeletePayload)
				rec, ok := ctx.Store.Get(model.KindTask, p.ID)
				if !ok {
					return nil, fmt.Errorf("task.delete: unknown task %s", p.ID)
				}
				prior := *rec.(*model.Task)
				updated := prior
				updated.IsDeleted = true
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "DELETE",
			Path:   func(payload any) string { return "/tasks/" + payload.(TaskDeletePayload).ID.String() },
		},
	}
}

// ScheduleCreatePayload is schedule.create's payload. When Date is empty,
// the date is resolved from When's natural language via
// internal/timeparsing during the optimistic apply.
type ScheduleCreatePayload struct {
	TaskID model.ID
	Date   string // RFC3339 date; resolved from When if empty
	When   string // natural-language fallback, e.g. "tomorrow"
}

func scheduleCreate() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				p := payload.(ScheduleCreatePayload)
				return []string{"schedule:" + p.TaskID.String() + ":" + p.Date}
			},
			EntityKind: model.KindTask,
		},
		Validate: func(payload any, ctx *Context) error {
			p := payload.(ScheduleCreatePayload)
			if p.Date == "" && p.When == "" {
				return fmt.Errorf("schedule.create: one of date or when is required")
			}
			return nil
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(ScheduleCreatePayload)
				date := p.Date
				if date == "" {
					resolved, err := timeparsing.ParseNaturalLanguage(p.When, time.Now())
					if err != nil {
						return nil, fmt.Errorf("schedule.create: %w", err)
					}
					date = resolved.Format("2006-01-02")
				}
				rec, ok := ctx.Store.Get(model.KindTask, p.TaskID)
				if !ok {
					return nil, fmt.Errorf("schedule.create: unknown task %s", p.TaskID)
				}
				prior := *rec.(*model.Task)
				updated := prior
				updated.ScheduledDate = date
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "POST",
			Path:   func(payload any) string { return "/tasks/" + payload.(ScheduleCreatePayload).TaskID.String() + "/schedule" },
			Body:   func(payload any) any { return payload },
		},
	}
}

// ScheduleDeletePayload is schedule.delete's payload.
type ScheduleDeletePayload struct {
	TaskID model.ID
	Date   string
}

func scheduleDelete() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				p := payload.(ScheduleDeletePayload)
				return []string{"schedule:" + p.TaskID.String() + ":" + p.Date}
			},
			EntityKind: model.KindTask,
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(ScheduleDeletePayload)
				rec, ok := ctx.Store.Get(model.KindTask, p.TaskID)
				if !ok {
					return nil, fmt.Errorf("schedule.delete: unknown task %s", p.TaskID)
				}
				prior := *rec.(*model.Task)
				updated := prior
				updated.ScheduledDate = ""
				ctx.Store.AddOrUpdate(model.KindTask, &updated)
				return prior, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				prior := snapshot.(model.Task)
				ctx.Store.AddOrUpdate(model.KindTask, &prior)
			},
		},
		Request: &RequestTemplate{
			Method: "DELETE",
			Path: func(payload any) string {
				p := payload.(ScheduleDeletePayload)
				return "/tasks/" + p.TaskID.String() + "/schedule/" + p.Date
			},
		},
	}
}

// TimeBlockCreateFromTaskPayload is time_block.create_from_task's payload.
type TimeBlockCreateFromTaskPayload struct {
	TaskID    model.ID
	Date      string
	StartTime string
	EndTime   string
	When      string // natural-language fallback for Date
}

func timeBlockCreateFromTask() Definition {
	return Definition{
		Meta: Meta{
			ResourceIdentifier: func(payload any) []string {
				p := payload.(TimeBlockCreateFromTaskPayload)
				return []string{"task:" + p.TaskID.String()}
			},
			EntityKind: model.KindTimeBlock,
		},
		Optimistic: &Optimistic{
			Apply: func(payload any, ctx *Context) (any, error) {
				p := payload.(TimeBlockCreateFromTaskPayload)
				date := p.Date
				if date == "" && p.When != "" {
					resolved, err := timeparsing.ParseNaturalLanguage(p.When, time.Now())
					if err != nil {
						return nil, fmt.Errorf("time_block.create_from_task: %w", err)
					}
					date = resolved.Format("2006-01-02")
				}
				block := &model.TimeBlock{
					ID:        model.NewID(),
					TaskID:    p.TaskID,
					Date:      date,
					StartTime: p.StartTime,
					EndTime:   p.EndTime,
					UpdatedAt: time.Now(),
				}
				ctx.Store.AddOrUpdate(model.KindTimeBlock, block)
				return block.ID, nil
			},
			Revert: func(snapshot any, ctx *Context) {
				id := snapshot.(model.ID)
				ctx.Store.Remove(model.KindTimeBlock, id)
			},
		},
		Request: &RequestTemplate{
			Method: "POST",
			Path:   func(payload any) string { return "/time_blocks" },
			Body:   func(payload any) any { return payload },
		},
	}
}
