package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/db"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/models"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.EventType
}

func (b *recordingBus) Publish(eventType events.EventType, payload events.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBus) published(eventType events.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// changeLog returns the stored change log rows, oldest first.
func changeLog(t *testing.T, database *gorm.DB) []models.ChangeLog {
	t.Helper()
	var entries []models.ChangeLog
	if err := database.Order("timestamp ASC").Find(&entries).Error; err != nil {
		t.Fatalf("load change log: %v", err)
	}
	return entries
}

func actions(t *testing.T, database *gorm.DB) []string {
	t.Helper()
	entries := changeLog(t, database)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Action))
	}
	return out
}

func countActions(t *testing.T, database *gorm.DB, action models.ChangeAction) int {
	t.Helper()
	var count int64
	if err := database.Model(&models.ChangeLog{}).Where("action = ?", action).Count(&count).Error; err != nil {
		t.Fatalf("count change log: %v", err)
	}
	return int(count)
}

func newTestService(t *testing.T) (*Service, *recordingBus, *gorm.DB) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := &recordingBus{}
	return NewService(database, bus, zerolog.Nop()), bus, database
}

func ptr[T any](v T) *T { return &v }

func TestCreateAppliesDefaults(t *testing.T) {
	svc, bus, database := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "  Write report  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Title != "Write report" {
		t.Fatalf("title = %q", task.Title)
	}
	if task.EstimatedDuration != models.DefaultEstimatedMinutes {
		t.Fatalf("estimated duration = %d", task.EstimatedDuration)
	}
	if got := actions(t, database); len(got) != 1 || got[0] != "create" {
		t.Fatalf("change log actions = %v", got)
	}
	if bus.published(events.EventTaskCreated) != 1 {
		t.Fatalf("published events = %v", bus.events)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty title", CreateInput{Title: "   "}},
		{"negative duration", CreateInput{Title: "x", EstimatedDuration: -5}},
		{"unknown space", CreateInput{Title: "x", SpaceID: ptr("missing")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateManyIsAtomic(t *testing.T) {
	svc, _, database := newTestService(t)

	_, err := svc.CreateMany(context.Background(), []CreateInput{{Title: "ok"}, {Title: ""}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var count int64
	database.Model(&models.Task{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rollback, found %d tasks", count)
	}
	if got := actions(t, database); len(got) != 0 {
		t.Fatalf("change log kept rolled back entries: %v", got)
	}
}

func TestListOrdersAndFiltersCompleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	soon := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	later := soon.Add(48 * time.Hour)

	low, _ := svc.Create(ctx, CreateInput{Title: "low", Priority: 1})
	_, _ = svc.Create(ctx, CreateInput{Title: "high-later", Priority: 5, Deadline: &later})
	_, _ = svc.Create(ctx, CreateInput{Title: "high-soon", Priority: 5, Deadline: &soon})
	if _, err := svc.Update(ctx, low.ID, UpdateInput{Completed: Some(true)}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	open, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 || open[0].Title != "high-soon" || open[1].Title != "high-later" {
		t.Fatalf("unexpected order: %+v", titles(open))
	}

	all, _ := svc.List(ctx, true)
	if len(all) != 3 || all[2].Title != "low" {
		t.Fatalf("unexpected list with completed: %v", titles(all))
	}
}

func TestUpdatePartial(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()

	space, err := svc.CreateSpace(ctx, SpaceInput{Name: "work"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	deadline := time.Date(2025, 2, 1, 23, 59, 0, 0, time.UTC)
	task, _ := svc.Create(ctx, CreateInput{Title: "t", Description: "keep", Deadline: &deadline})

	updated, err := svc.Update(ctx, task.ID, UpdateInput{
		Priority: Some(7),
		SpaceID:  Some(space.ID),
		Deadline: Null[time.Time](),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != 7 || updated.Description != "keep" || updated.Deadline != nil {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if updated.SpaceName() != "work" {
		t.Fatalf("space = %q", updated.SpaceName())
	}

	entries := changeLog(t, database)
	last := entries[len(entries)-1]
	if last.Action != models.ChangeActionUpdate || last.EntityID != task.ID {
		t.Fatalf("last entry = %+v", last)
	}
	if last.OldValue["priority"] != float64(0) || last.NewValue["priority"] != float64(7) {
		t.Fatalf("old = %v new = %v", last.OldValue, last.NewValue)
	}
}

func TestUpdateRejectsPartialPlacement(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, CreateInput{Title: "t"})

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	if _, err := svc.Update(ctx, task.ID, UpdateInput{ScheduledStart: Some(start)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Update(ctx, task.ID, UpdateInput{
		ScheduledStart: Some(start),
		ScheduledEnd:   Some(start.Add(-time.Hour)),
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestUpdateInputFromJSON(t *testing.T) {
	var in struct {
		Title    Optional[string] `json:"title"`
		Deadline Optional[string] `json:"deadline"`
		Priority Optional[int]    `json:"priority"`
	}
	if err := json.Unmarshal([]byte(`{"title":"x","deadline":null}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.Title.Set || *in.Title.Value != "x" {
		t.Fatalf("title = %+v", in.Title)
	}
	if !in.Deadline.Set || in.Deadline.Value != nil {
		t.Fatalf("deadline should be an explicit null: %+v", in.Deadline)
	}
	if in.Priority.Set {
		t.Fatal("priority should be absent")
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, CreateInput{Title: "t"})

	if err := svc.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if got := actions(t, database); got[len(got)-1] != "delete" {
		t.Fatalf("actions = %v", got)
	}
}

func TestToggleFreeze(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, CreateInput{Title: "t"})

	frozen, err := svc.ToggleFreeze(ctx, task.ID)
	if err != nil || !frozen.Frozen {
		t.Fatalf("freeze: %v %+v", err, frozen)
	}
	thawed, err := svc.ToggleFreeze(ctx, task.ID)
	if err != nil || thawed.Frozen {
		t.Fatalf("unfreeze: %v %+v", err, thawed)
	}
	got := actions(t, database)
	if got[len(got)-2] != "freeze" || got[len(got)-1] != "unfreeze" {
		t.Fatalf("actions = %v", got)
	}
}

func TestFreezeDayToggles(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	place := func(title string, start time.Time) *models.Task {
		task, _ := svc.Create(ctx, CreateInput{Title: title})
		end := start.Add(time.Hour)
		updated, err := svc.Update(ctx, task.ID, UpdateInput{ScheduledStart: Some(start), ScheduledEnd: Some(end)})
		if err != nil {
			t.Fatalf("place %s: %v", title, err)
		}
		return updated
	}
	a := place("a", day.Add(9*time.Hour))
	place("b", day.Add(14*time.Hour))
	other := place("other", day.Add(33*time.Hour))

	// One frozen task on the day means not all are frozen: freeze all.
	if _, err := svc.ToggleFreeze(ctx, a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	res, err := svc.FreezeDay(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("freeze day: %v", err)
	}
	if res.Count != 2 || !res.Frozen {
		t.Fatalf("first pass = %+v", res)
	}

	if got := countActions(t, database, models.ChangeActionFreeze); got != 3 {
		t.Fatalf("freeze entries = %d, want 3", got)
	}

	res, _ = svc.FreezeDay(ctx, day)
	if res.Count != 2 || res.Frozen {
		t.Fatalf("second pass = %+v", res)
	}
	if got := countActions(t, database, models.ChangeActionUnfreeze); got != 2 {
		t.Fatalf("unfreeze entries = %d, want 2", got)
	}

	o, _ := svc.Get(ctx, other.ID)
	if o.Frozen {
		t.Fatal("task on another day must not change")
	}

	empty, err := svc.FreezeDay(ctx, day.AddDate(0, 0, 5))
	if err != nil || empty.Count != 0 {
		t.Fatalf("empty day = %+v, %v", empty, err)
	}
}

func TestReorderAssignsDescendingPriorities(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateInput{Title: "a"})
	b, _ := svc.Create(ctx, CreateInput{Title: "b"})
	c, _ := svc.Create(ctx, CreateInput{Title: "c"})

	n, err := svc.Reorder(ctx, []string{c.ID, "missing", a.ID, b.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if n != 3 {
		t.Fatalf("reordered %d tasks, want 3", n)
	}

	want := map[string]int{c.ID: 3, a.ID: 1, b.ID: 0}
	for id, priority := range want {
		task, _ := svc.Get(ctx, id)
		if task.Priority != priority {
			t.Errorf("task %s priority = %d, want %d", task.Title, task.Priority, priority)
		}
	}

	if reorders := countActions(t, database, models.ChangeActionReorder); reorders != 3 {
		t.Fatalf("reorder log entries = %d", reorders)
	}
}

func TestBulkOperationsLogEveryTask(t *testing.T) {
	svc, bus, database := newTestService(t)
	ctx := context.Background()

	const n = 150
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	inputs := make([]CreateInput, n)
	for i := range inputs {
		inputs[i] = CreateInput{Title: fmt.Sprintf("task %d", i)}
	}
	created, err := svc.CreateMany(ctx, inputs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids := make([]string, n)
	for i := range created {
		ids[i] = created[i].ID
		start := day.Add(time.Duration(i) * time.Minute)
		err := database.Model(&models.Task{}).Where("id = ?", created[i].ID).Updates(map[string]any{
			"scheduled_start": start,
			"scheduled_end":   start.Add(time.Minute),
		}).Error
		if err != nil {
			t.Fatalf("place: %v", err)
		}
	}

	reordered, err := svc.Reorder(ctx, ids)
	if err != nil || reordered != n {
		t.Fatalf("reorder = %d, %v", reordered, err)
	}
	res, err := svc.FreezeDay(ctx, day)
	if err != nil || res.Count != n {
		t.Fatalf("freeze day = %+v, %v", res, err)
	}

	tests := map[models.ChangeAction]int{
		models.ChangeActionCreate:  n,
		models.ChangeActionReorder: n,
		models.ChangeActionFreeze:  n,
	}
	for action, want := range tests {
		if got := countActions(t, database, action); got != want {
			t.Errorf("%s entries = %d, want %d", action, got, want)
		}
	}
	if bus.published(events.EventTasksReordered) != 1 || bus.published(events.EventTaskFrozen) != 1 {
		t.Fatalf("published events = %v", bus.events)
	}
}

func titles(tasks []models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}
