package service

import (
	"context"
	"testing"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCopyName(t *testing.T) {
	base, n := splitCopyName("Vaso (3)")
	assert.Equal(t, "Vaso", base)
	assert.Equal(t, 3, n)

	base, n = splitCopyName("Vaso")
	assert.Equal(t, "Vaso", base)
	assert.Equal(t, 0, n)

	assert.Equal(t, 4, nextCopyNumber("Vaso", []string{"Vaso", "Vaso (1)", "Vaso (3)", "Altro (7)"}))
	assert.Equal(t, 1, nextCopyNumber("Vaso", []string{"Vaso"}))
}

func TestBuildQueue(t *testing.T) {
	m1 := entity.Machine{ID: "m1", Name: "MK4"}
	m2 := entity.Machine{ID: "m2", Name: "X1C"}
	tasks := []entity.Task{
		{ID: "t3", MachineID: strPtr("m1"), Status: entity.TaskStatusTodo, QueuePosition: 2, DurationSeconds: 100},
		{ID: "t1", MachineID: strPtr("m1"), Status: entity.TaskStatusTodo, QueuePosition: 0, DurationSeconds: 200},
		{ID: "t2", MachineID: strPtr("m1"), Status: entity.TaskStatusPrinting, QueuePosition: 1, DurationSeconds: 400},
		{ID: "t4", Status: entity.TaskStatusTodo},
		{ID: "t5", MachineID: strPtr("gone"), Status: entity.TaskStatusTodo},
	}

	view := BuildQueue([]entity.Machine{m1, m2}, tasks)
	require.Len(t, view.Machines, 2)

	q := view.Machines[0]
	require.NotNil(t, q.Printing)
	assert.Equal(t, "t2", q.Printing.ID)
	require.Len(t, q.Todo, 2)
	assert.Equal(t, "t1", q.Todo[0].ID)
	assert.Equal(t, "t3", q.Todo[1].ID)
	assert.Equal(t, 300, q.QueuedSeconds)

	assert.Nil(t, view.Machines[1].Printing)
	assert.Empty(t, view.Machines[1].Todo)
	require.Len(t, view.Unassigned, 2)
}

func TestSinglePrintingTaskPerMachine(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 2)
	t1 := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 3600)
	t2 := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 3600)

	got, err := svc.Scheduler.SetTaskStatus(ctx, "alice", t1.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusPrinting, got.Status)
	assert.NotNil(t, got.StartedAt)

	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", t2.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	require.NoError(t, err)

	var printing int64
	require.NoError(t, db.Model(&entity.Task{}).Where("machine_id = ? AND status = ?", m.ID, entity.TaskStatusPrinting).Count(&printing).Error)
	assert.Equal(t, int64(1), printing)

	var first entity.Task
	require.NoError(t, db.First(&first, "id = ?", t1.ID).Error)
	assert.Equal(t, entity.TaskStatusTodo, first.Status)
	assert.Nil(t, first.StartedAt)

	var updated entity.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, entity.JobStatusPrinting, updated.Status)
}

func TestDisplacedTaskResyncsItsOwnJob(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()
	now := fixClock(svc)

	m := testutil.SeedMachine(t, db, "MK4", 200)
	jobA := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	jobB := testutil.SeedJob(t, db, "Lampada", entity.JobStatusTodo, 1)
	taskA := testutil.SeedTask(t, db, jobA.ID, m.ID, entity.TaskStatusTodo, 3600)
	taskB := testutil.SeedTask(t, db, jobB.ID, m.ID, entity.TaskStatusTodo, 3600)

	jobStatus := func(id string) string {
		var j entity.Job
		require.NoError(t, db.First(&j, "id = ?", id).Error)
		return j.Status
	}

	_, err := svc.Scheduler.SetTaskStatus(ctx, "alice", taskA.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPrinting, jobStatus(jobA.ID))

	later := now.Add(time.Hour)
	svc.SetClock(func() time.Time { return later })
	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", taskB.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	require.NoError(t, err)

	var displaced entity.Task
	require.NoError(t, db.First(&displaced, "id = ?", taskA.ID).Error)
	assert.Equal(t, entity.TaskStatusTodo, displaced.Status)
	assert.True(t, displaced.UpdatedAt.Equal(later), "updated_at follows the service clock, got %v", displaced.UpdatedAt)

	assert.Equal(t, entity.JobStatusTodo, jobStatus(jobA.ID))
	assert.Equal(t, entity.JobStatusPrinting, jobStatus(jobB.ID))
}

func TestTaskStatusDrivesJobStatus(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 2)
	t1 := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 3600)
	t2 := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 3600)

	jobStatus := func() string {
		var j entity.Job
		require.NoError(t, db.First(&j, "id = ?", job.ID).Error)
		return j.Status
	}

	done, err := svc.Scheduler.SetTaskStatus(ctx, "alice", t1.ID, &SetTaskStatusInput{Status: entity.TaskStatusDone})
	require.NoError(t, err)
	assert.Equal(t, 1, done.ActualQty)
	assert.NotNil(t, done.FinishedAt)
	assert.Equal(t, entity.JobStatusTodo, jobStatus())

	qty := 3
	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", t2.ID, &SetTaskStatusInput{Status: entity.TaskStatusDone, ActualQty: &qty})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPrinted, jobStatus())

	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", t2.ID, &SetTaskStatusInput{Status: entity.TaskStatusTodo})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusTodo, jobStatus())

	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", t2.ID, &SetTaskStatusInput{Status: entity.TaskStatusTodo, ActualQty: &qty})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", t2.ID, &SetTaskStatusInput{Status: "PAUSED"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuoteJobCannotStartPrinting(t *testing.T) {
	svc, db, _ := newTestServices(t)
	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusQuote, 1)
	task := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 3600)

	_, err := svc.Scheduler.SetTaskStatus(context.Background(), "alice", task.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	unassigned := testutil.SeedTask(t, db, testutil.SeedJob(t, db, "Altro", entity.JobStatusTodo, 1).ID, "", entity.TaskStatusTodo, 60)
	_, err = svc.Scheduler.SetTaskStatus(context.Background(), "alice", unassigned.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFailedTaskWasteAndRestore(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	lotA := testutil.SeedLot(t, db, "", "1000", "25")
	lotB := testutil.SeedLot(t, db, "", "1000", "25")
	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	task, err := svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{
		JobID:     job.ID,
		Name:      "vaso.gcode",
		MachineID: &m.ID,
		Usages:    []UsageInput{{LotID: lotA.ID, Grams: dec("80")}, {LotID: lotB.ID, Grams: dec("20")}},
	})
	require.NoError(t, err)

	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", task.ID, &SetTaskStatusInput{Status: entity.TaskStatusFailed, WastedGrams: decPtr("50")})
	require.NoError(t, err)

	viewA, err := svc.Allocator.GetLot(ctx, lotA.ID)
	require.NoError(t, err)
	viewB, err := svc.Allocator.GetLot(ctx, lotB.ID)
	require.NoError(t, err)
	assert.Equal(t, "960.00", viewA.RemainingGrams.StringFixed(2))
	assert.Equal(t, "990.00", viewB.RemainingGrams.StringFixed(2))

	// 离开失败状态恢复计划用量
	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", task.ID, &SetTaskStatusInput{Status: entity.TaskStatusDone})
	require.NoError(t, err)
	viewA, err = svc.Allocator.GetLot(ctx, lotA.ID)
	require.NoError(t, err)
	assert.Equal(t, "920.00", viewA.RemainingGrams.StringFixed(2))

	_, err = svc.Scheduler.SetTaskStatus(ctx, "alice", task.ID, &SetTaskStatusInput{Status: entity.TaskStatusDone, WastedGrams: decPtr("10")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateTaskAppendsToMachineQueue(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)

	first, err := svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{JobID: job.ID, Name: "a", MachineID: &m.ID})
	require.NoError(t, err)
	second, err := svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{JobID: job.ID, Name: "b", MachineID: &m.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, first.QueuePosition)
	assert.Equal(t, 1, second.QueuePosition)
	assert.Equal(t, 1, second.PerRunQty)

	_, err = svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{JobID: job.ID, Name: "c", MachineID: strPtr("missing")})
	assert.ErrorIs(t, err, ErrMachineNotFound)
	_, err = svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{JobID: job.ID, Name: "c", PlateID: strPtr("p1")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{JobID: "missing", Name: "c"})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReorderIsIdempotent(t *testing.T) {
	svc, db, notifier := newTestServices(t)
	ctx := context.Background()

	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	t1 := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusTodo, 60)
	t2 := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusTodo, 60)

	require.NoError(t, svc.Scheduler.Reorder(ctx, "alice", m.ID, []string{t2.ID, t1.ID}))
	assert.Equal(t, "1", token(t, svc))

	require.NoError(t, svc.Scheduler.Reorder(ctx, "alice", m.ID, []string{t2.ID, t1.ID}))
	assert.Equal(t, "1", token(t, svc), "same order must not bump the version")
	assert.Len(t, notifier.changes, 1)

	queue, err := svc.Scheduler.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue.Machines, 1)
	require.Len(t, queue.Machines[0].Todo, 2)
	assert.Equal(t, t2.ID, queue.Machines[0].Todo[0].ID)
	assert.Equal(t, t1.ID, queue.Machines[0].Todo[1].ID)
	assert.Empty(t, queue.Unassigned)
}

func TestReorderRejections(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m1 := testutil.SeedMachine(t, db, "MK4", 200)
	m2 := testutil.SeedMachine(t, db, "X1C", 300)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusPrinting, 1)
	printing := testutil.SeedTask(t, db, job.ID, m1.ID, entity.TaskStatusPrinting, 60)
	done := testutil.SeedTask(t, db, job.ID, m1.ID, entity.TaskStatusDone, 60)

	assert.ErrorIs(t, svc.Scheduler.Reorder(ctx, "alice", m2.ID, []string{printing.ID}), ErrIllegalTransition)
	assert.ErrorIs(t, svc.Scheduler.Reorder(ctx, "alice", m1.ID, []string{done.ID}), ErrIllegalTransition)
	assert.ErrorIs(t, svc.Scheduler.Reorder(ctx, "alice", m1.ID, []string{printing.ID, printing.ID}), ErrInvalidInput)
	assert.ErrorIs(t, svc.Scheduler.Reorder(ctx, "alice", m1.ID, []string{"missing"}), ErrTaskNotFound)
	assert.ErrorIs(t, svc.Scheduler.Reorder(ctx, "alice", "missing", []string{printing.ID}), ErrMachineNotFound)
	assert.Equal(t, "0", token(t, svc))
}

func TestReorderHonoursJobLease(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	task := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusTodo, 60)

	_, err := svc.Lease.Acquire(ctx, RecordJob, job.ID, "bob")
	require.NoError(t, err)
	before := token(t, svc)

	err = svc.Scheduler.Reorder(ctx, "alice", m.ID, []string{task.ID})
	require.ErrorIs(t, err, ErrLeaseHeld)
	assert.Equal(t, before, token(t, svc))

	var unchanged entity.Task
	require.NoError(t, db.First(&unchanged, "id = ?", task.ID).Error)
	assert.Nil(t, unchanged.MachineID)

	require.NoError(t, svc.Scheduler.Reorder(ctx, "bob", m.ID, []string{task.ID}))
}

func TestCloneTaskNumbersCopies(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	lot := testutil.SeedLot(t, db, "", "1000", "25")
	m := testutil.SeedMachine(t, db, "MK4", 200)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	src, err := svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{
		JobID: job.ID, Name: "Vaso", MachineID: &m.ID, DurationSeconds: 3600,
		Usages: []UsageInput{{LotID: lot.ID, Grams: dec("42")}},
	})
	require.NoError(t, err)

	clones, err := svc.Scheduler.CloneTask(ctx, "alice", src.ID, 2)
	require.NoError(t, err)
	require.Len(t, clones, 2)
	assert.Equal(t, "Vaso (1)", clones[0].Name)
	assert.Equal(t, "Vaso (2)", clones[1].Name)
	assert.Equal(t, 1, clones[0].QueuePosition)
	assert.Equal(t, 2, clones[1].QueuePosition)
	assert.Equal(t, 3600, clones[1].DurationSeconds)
	require.Len(t, clones[0].Usages, 1)
	assert.Equal(t, "42.00", clones[0].Usages[0].PlannedGrams.StringFixed(2))

	again, err := svc.Scheduler.CloneTask(ctx, "alice", clones[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "Vaso (3)", again[0].Name)

	_, err = svc.Scheduler.CloneTask(ctx, "alice", src.ID, maxClones+1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRequeueFailedTask(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	lot := testutil.SeedLot(t, db, "", "1000", "25")
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	failed := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusFailed, 600)
	testutil.SeedUsage(t, db, failed.ID, lot.ID, "30")
	todo := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusTodo, 600)

	task, err := svc.Scheduler.RequeueTask(ctx, "alice", failed.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, failed.Name+" (reprint)", task.Name)
	assert.Equal(t, entity.TaskStatusTodo, task.Status)
	require.Len(t, task.Usages, 1)
	assert.Equal(t, "30.00", task.Usages[0].PlannedGrams.StringFixed(2))

	override, err := svc.Scheduler.RequeueTask(ctx, "alice", failed.ID, []UsageInput{{LotID: lot.ID, Grams: dec("12")}})
	require.NoError(t, err)
	require.Len(t, override.Usages, 1)
	assert.Equal(t, "12.00", override.Usages[0].PlannedGrams.StringFixed(2))

	_, err = svc.Scheduler.RequeueTask(ctx, "alice", todo.ID, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestDoneJobTasksAreFrozen(t *testing.T) {
	svc, db, _ := newTestServices(t)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusDone, 1)
	task := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusDone, 600)

	_, err := svc.Scheduler.SetTaskStatus(context.Background(), "alice", task.ID, &SetTaskStatusInput{Status: entity.TaskStatusTodo})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = svc.Allocator.CommitUsage(context.Background(), "alice", task.ID, &CommitUsageInput{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdateTaskMovesMachineAndReplacesUsages(t *testing.T) {
	svc, db, notifier := newTestServices(t)
	ctx := context.Background()

	lotA := testutil.SeedLot(t, db, "", "1000", "25")
	lotB := testutil.SeedLot(t, db, "", "1000", "25")
	m1 := testutil.SeedMachine(t, db, "MK4", 200)
	m2 := testutil.SeedMachine(t, db, "X1C", 300)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 2)
	testutil.SeedTask(t, db, job.ID, m2.ID, entity.TaskStatusTodo, 600)

	task, err := svc.Scheduler.CreateTask(ctx, "alice", &CreateTaskInput{
		JobID:     job.ID,
		Name:      "vaso.gcode",
		MachineID: &m1.ID,
		Usages:    []UsageInput{{LotID: lotA.ID, Grams: dec("40")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, task.QueuePosition)
	before := len(notifier.changes)

	updated, err := svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{
		Name:            " vaso-v2.gcode ",
		MachineID:       &m2.ID,
		DurationSeconds: 5400,
		PerRunQty:       2,
		Usages:          []UsageInput{{LotID: lotB.ID, Grams: dec("25")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "vaso-v2.gcode", updated.Name)
	require.NotNil(t, updated.MachineID)
	assert.Equal(t, m2.ID, *updated.MachineID)
	assert.Equal(t, 1, updated.QueuePosition)
	assert.Equal(t, 5400, updated.DurationSeconds)
	assert.Equal(t, 2, updated.PerRunQty)
	require.Len(t, updated.Usages, 1)
	assert.Equal(t, lotB.ID, updated.Usages[0].LotID)
	assert.Equal(t, "25.00", updated.Usages[0].PlannedGrams.StringFixed(2))
	require.Len(t, notifier.changes, before+1)

	// 同一机器上编辑不改变队列位置
	same, err := svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{
		Name:      "vaso-v3.gcode",
		MachineID: &m2.ID,
		PerRunQty: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, same.QueuePosition)
	assert.Empty(t, same.Usages)

	_, err = svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{Name: " ", PerRunQty: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{Name: "x", PerRunQty: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{Name: "x", PerRunQty: 1, MachineID: strPtr("missing")})
	assert.ErrorIs(t, err, ErrMachineNotFound)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", task.ID, &UpdateTaskInput{
		Name:      "x",
		PerRunQty: 1,
		Usages:    []UsageInput{{LotID: "missing", Grams: dec("1")}},
	})
	assert.ErrorIs(t, err, ErrLotNotFound)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", "missing", &UpdateTaskInput{Name: "x", PerRunQty: 1})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateFailedTaskKeepsWastedGrams(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	lotA := testutil.SeedLot(t, db, "", "1000", "25")
	lotB := testutil.SeedLot(t, db, "", "1000", "25")
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	failed := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusFailed, 600)
	testutil.SeedUsage(t, db, failed.ID, lotA.ID, "30")

	_, err := svc.Scheduler.UpdateTask(ctx, "alice", failed.ID, &UpdateTaskInput{
		Name:      failed.Name,
		PerRunQty: 1,
		Usages:    []UsageInput{{LotID: lotA.ID, Grams: dec("40")}, {LotID: lotB.ID, Grams: dec("40")}},
	})
	require.NoError(t, err)

	viewA, err := svc.Allocator.GetLot(ctx, lotA.ID)
	require.NoError(t, err)
	viewB, err := svc.Allocator.GetLot(ctx, lotB.ID)
	require.NoError(t, err)
	assert.Equal(t, "985.00", viewA.RemainingGrams.StringFixed(2))
	assert.Equal(t, "985.00", viewB.RemainingGrams.StringFixed(2))
}

func TestUpdateTaskRejections(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	m1 := testutil.SeedMachine(t, db, "MK4", 200)
	m2 := testutil.SeedMachine(t, db, "X1C", 300)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 1)
	printing := testutil.SeedTask(t, db, job.ID, m1.ID, entity.TaskStatusTodo, 600)
	_, err := svc.Scheduler.SetTaskStatus(ctx, "alice", printing.ID, &SetTaskStatusInput{Status: entity.TaskStatusPrinting})
	require.NoError(t, err)
	before := token(t, svc)

	_, err = svc.Scheduler.UpdateTask(ctx, "alice", printing.ID, &UpdateTaskInput{Name: "x", PerRunQty: 1, MachineID: &m2.ID})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.Lease.Acquire(ctx, RecordJob, job.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", printing.ID, &UpdateTaskInput{Name: "x", PerRunQty: 1, MachineID: &m1.ID})
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.ErrorIs(t, svc.Scheduler.DeleteTask(ctx, "alice", printing.ID), ErrLeaseHeld)

	done := testutil.SeedJob(t, db, "Lampada", entity.JobStatusDone, 1)
	frozen := testutil.SeedTask(t, db, done.ID, "", entity.TaskStatusDone, 600)
	_, err = svc.Scheduler.UpdateTask(ctx, "alice", frozen.ID, &UpdateTaskInput{Name: "x", PerRunQty: 1})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.ErrorIs(t, svc.Scheduler.DeleteTask(ctx, "alice", frozen.ID), ErrIllegalTransition)

	// 租约持有者可以编辑，打印中的任务保持在原机器
	renamed, err := svc.Scheduler.UpdateTask(ctx, "bob", printing.ID, &UpdateTaskInput{Name: "renamed", PerRunQty: 1, MachineID: &m1.ID})
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Name)
	assert.Equal(t, entity.TaskStatusPrinting, renamed.Status)
	assert.NotEqual(t, before, token(t, svc))
}

func TestDeleteTaskRestoresLotAndRederivesJob(t *testing.T) {
	svc, db, notifier := newTestServices(t)
	ctx := context.Background()

	lot := testutil.SeedLot(t, db, "", "1000", "25")
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusTodo, 2)
	done := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusDone, 600)
	todo := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusTodo, 600)
	testutil.SeedUsage(t, db, done.ID, lot.ID, "300")
	testutil.SeedUsage(t, db, todo.ID, lot.ID, "100")

	jobStatus := func() string {
		var j entity.Job
		require.NoError(t, db.First(&j, "id = ?", job.ID).Error)
		return j.Status
	}

	require.NoError(t, svc.Scheduler.DeleteTask(ctx, "alice", todo.ID))
	assert.Equal(t, entity.JobStatusPrinted, jobStatus())
	changes := notifier.changes
	require.NotEmpty(t, changes)
	assert.Equal(t, "deleted", changes[len(changes)-1].Action)

	view, err := svc.Allocator.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "700.00", view.RemainingGrams.StringFixed(2))

	require.NoError(t, svc.Scheduler.DeleteTask(ctx, "alice", done.ID))
	view, err = svc.Allocator.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", view.RemainingGrams.StringFixed(2))

	var usages int64
	require.NoError(t, db.Model(&entity.MaterialUsage{}).Where("task_id = ?", done.ID).Count(&usages).Error)
	assert.Zero(t, usages)

	assert.ErrorIs(t, svc.Scheduler.DeleteTask(ctx, "alice", done.ID), ErrTaskNotFound)
}
