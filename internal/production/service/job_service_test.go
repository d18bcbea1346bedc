package service

import (
	"context"
	"testing"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// seedPrintedJob 工单：一个已完成任务，100g × 0.02/g + 1h × 100W
// 全部成本 = 2.00 + 0.025 + 0.10 = 2.125
func seedPrintedJob(t *testing.T, db *gorm.DB, planned int) *entity.Job {
	t.Helper()
	lot := testutil.SeedLot(t, db, "", "1000", "20")
	m := testutil.SeedMachine(t, db, "MK4", 100)
	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusPrinted, planned)
	task := testutil.SeedTask(t, db, job.ID, m.ID, entity.TaskStatusDone, 3600)
	testutil.SeedUsage(t, db, task.ID, lot.ID, "100")
	return job
}

func fixClock(svc *Services) time.Time {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.Local)
	svc.SetClock(func() time.Time { return now })
	return now
}

func TestCreateJobDefaults(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()

	job, err := svc.Job.Create(ctx, "alice", &CreateJobInput{Name: "  Vaso  "})
	require.NoError(t, err)
	assert.Equal(t, "Vaso", job.Name)
	assert.Equal(t, entity.JobStatusQuote, job.Status)
	assert.Equal(t, entity.JobPriorityMedium, job.Priority)
	assert.Equal(t, 1, job.PlannedQty)
	assert.Equal(t, "alice", job.CreatedBy)

	_, err = svc.Job.Create(ctx, "alice", &CreateJobInput{Name: "Vaso", Status: entity.JobStatusDone})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Job.Create(ctx, "alice", &CreateJobInput{Name: "Vaso", Priority: "SOMEDAY"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestJobCostView(t *testing.T) {
	svc, db, _ := newTestServices(t)
	job := seedPrintedJob(t, db, 10)

	view, err := svc.Job.Cost(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, "2.00", view.Tasks[0].Material.StringFixed(2))
	assert.Equal(t, "0.03", view.Tasks[0].Energy.StringFixed(2))
	assert.Equal(t, "0.10", view.Tasks[0].Wear.StringFixed(2))
	assert.Equal(t, "2.13", view.Total.StringFixed(2))
	assert.Equal(t, "0.21", view.PerUnit.StringFixed(2))

	detail, err := svc.Job.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, detail.Progress.Percent)
	assert.Empty(t, detail.Lease.Holder)
}

func TestSetJobStatus(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	quote := testutil.SeedJob(t, db, "Vaso", entity.JobStatusQuote, 1)
	_, err := svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusPrinting)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusDone)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	job, err := svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusTodo)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusTodo, job.Status)

	task := testutil.SeedTask(t, db, quote.ID, "", entity.TaskStatusTodo, 60)
	_, err = svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusDone)
	assert.ErrorIs(t, err, ErrTasksUnfinished)

	require.NoError(t, db.Model(&entity.Task{}).Where("id = ?", task.ID).Update("status", entity.TaskStatusDone).Error)
	job, err = svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusDone)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusDone, job.Status)
	assert.NotNil(t, job.CompletedAt)

	_, err = svc.Job.SetStatus(ctx, "alice", quote.ID, entity.JobStatusTodo)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = svc.Job.SetStatus(ctx, "alice", "missing", entity.JobStatusTodo)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSetJobStatusBackToQuote(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusPrinting, 1)
	task := testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusPrinting, 60)
	_, err := svc.Job.SetStatus(ctx, "alice", job.ID, entity.JobStatusQuote)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, db.Model(&entity.Task{}).Where("id = ?", task.ID).Update("status", entity.TaskStatusTodo).Error)
	got, err := svc.Job.SetStatus(ctx, "alice", job.ID, entity.JobStatusQuote)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusQuote, got.Status)

	before := token(t, svc)
	_, err = svc.Job.SetStatus(ctx, "alice", job.ID, entity.JobStatusQuote)
	require.NoError(t, err)
	assert.Equal(t, before, token(t, svc))
}

func TestCompleteJobDistributesOutputs(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()
	fixClock(svc)
	job := seedPrintedJob(t, db, 10)

	result, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{
		Outputs:   []OutputRequest{{Name: "Vaso rosso", Quantity: 5}, {Name: "Vaso blu", Quantity: 5}},
		LaborCost: dec("10"),
	})
	require.NoError(t, err)

	assert.Equal(t, entity.JobStatusDone, result.Job.Status)
	assert.Equal(t, 10, result.Job.ProducedQty)
	require.NotNil(t, result.Job.SequenceCode)
	assert.Equal(t, "26001", *result.Job.SequenceCode)
	assert.NotNil(t, result.Job.CompletedAt)

	require.Len(t, result.Batches, 2)
	for _, b := range result.Batches {
		assert.Equal(t, entity.BatchStatusPostProd, b.Status)
		assert.Equal(t, 5, b.Quantity)
		assert.Equal(t, "1.06", b.MaterialCost.StringFixed(2))
		assert.Equal(t, "5.00", b.LaborCost.StringFixed(2))
		assert.Equal(t, "1.82", b.SuggestedPrice.StringFixed(2))
		require.NotNil(t, b.SequenceCode)
		assert.Equal(t, "26001", *b.SequenceCode)
	}
}

func TestCompleteJobMergesNormalizedNames(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()
	fixClock(svc)
	job := seedPrintedJob(t, db, 10)

	_, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso  rosso", Quantity: 3}}})
	require.NoError(t, err)
	result, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: " Vaso rosso ", Quantity: 2}}})
	require.NoError(t, err)

	require.Len(t, result.Batches, 1)
	assert.Equal(t, "Vaso rosso", result.Batches[0].Name)
	assert.Equal(t, 5, result.Batches[0].Quantity)
	assert.Equal(t, 5, result.Job.ProducedQty)
	assert.Equal(t, entity.JobStatusPrinted, result.Job.Status)

	other := seedPrintedJob(t, db, 1)
	second, err := svc.Job.Complete(ctx, "alice", other.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Piatto", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "26002", *second.Job.SequenceCode)
}

func TestSequenceCodesAreDrawnFromCounter(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()
	fixClock(svc)

	legacy := testutil.SeedJob(t, db, "Storico", entity.JobStatusDone, 1)
	require.NoError(t, db.Model(&entity.Job{}).Where("id = ?", legacy.ID).Update("sequence_code", "26041").Error)

	jobs := []*entity.Job{seedPrintedJob(t, db, 1), seedPrintedJob(t, db, 1), seedPrintedJob(t, db, 1)}
	codes := make([]string, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			result, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 1}}})
			if err != nil {
				return err
			}
			codes[i] = *result.Job.SequenceCode
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.ElementsMatch(t, []string{"26042", "26043", "26044"}, codes)

	var counter entity.SequenceCounter
	require.NoError(t, db.First(&counter, "period = ?", "26").Error)
	assert.Equal(t, 44, counter.LastNumber)
}

func TestCompleteJobUsesTemplatePrice(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	tpl, err := svc.Job.CreateTemplate(ctx, &CreateTemplateInput{Name: "Vaso", SuggestedPrice: decPtr("9.9")})
	require.NoError(t, err)
	job := seedPrintedJob(t, db, 2)
	require.NoError(t, db.Model(&entity.Job{}).Where("id = ?", job.ID).Update("template_id", tpl.ID).Error)

	result, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 2}}})
	require.NoError(t, err)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, "9.90", result.Batches[0].SuggestedPrice.StringFixed(2))
}

func TestCompleteJobRejections(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	job := seedPrintedJob(t, db, 10)
	_, err := svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 11}}})
	assert.ErrorIs(t, err, ErrOverProduction)
	_, err = svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: " ", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	quote := testutil.SeedJob(t, db, "Preventivo", entity.JobStatusQuote, 1)
	_, err = svc.Job.Complete(ctx, "alice", quote.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// 达到计划数量但仍有未完成任务：整体回滚
	open := testutil.SeedJob(t, db, "Aperto", entity.JobStatusTodo, 2)
	testutil.SeedTask(t, db, open.ID, "", entity.TaskStatusTodo, 60)
	_, err = svc.Job.Complete(ctx, "alice", open.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 2}}})
	assert.ErrorIs(t, err, ErrTasksUnfinished)
	var count int64
	require.NoError(t, db.Model(&entity.Batch{}).Where("job_id = ?", open.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, "0", token(t, svc))

	partial, err := svc.Job.Complete(ctx, "alice", open.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusTodo, partial.Job.Status)
	assert.Equal(t, 1, partial.Job.ProducedQty)
}

func TestReopenJob(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	job := seedPrintedJob(t, db, 2)
	_, err := svc.Job.Reopen(ctx, "alice", job.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.Job.Complete(ctx, "alice", job.ID, &CompleteJobInput{Outputs: []OutputRequest{{Name: "Vaso", Quantity: 2}}})
	require.NoError(t, err)

	reopened, err := svc.Job.Reopen(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPrinted, reopened.Status)
	assert.Zero(t, reopened.ProducedQty)
	assert.Nil(t, reopened.CompletedAt)
	var count int64
	require.NoError(t, db.Model(&entity.Batch{}).Where("job_id = ?", job.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReopenRejectsSoldBatches(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	job := testutil.SeedJob(t, db, "Vaso", entity.JobStatusDone, 2)
	testutil.SeedBatch(t, db, &job.ID, "Vaso", entity.BatchStatusSold, 1, "1", "0")
	testutil.SeedBatch(t, db, &job.ID, "Vaso", entity.BatchStatusInStock, 1, "1", "0")

	_, err := svc.Job.Reopen(ctx, "alice", job.ID)
	assert.ErrorIs(t, err, ErrBatchesSold)
	var count int64
	require.NoError(t, db.Model(&entity.Batch{}).Where("job_id = ?", job.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestReprintCopiesSurvivingTasks(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	job := seedPrintedJob(t, db, 3)
	testutil.SeedTask(t, db, job.ID, "", entity.TaskStatusFailed, 60)

	copyJob, err := svc.Job.Reprint(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vaso (reprint)", copyJob.Name)
	assert.Equal(t, entity.JobStatusTodo, copyJob.Status)
	assert.Equal(t, 3, copyJob.PlannedQty)
	require.Len(t, copyJob.Tasks, 1)
	assert.Equal(t, entity.TaskStatusTodo, copyJob.Tasks[0].Status)
	require.Len(t, copyJob.Tasks[0].Usages, 1)
	assert.Equal(t, "100.00", copyJob.Tasks[0].Usages[0].PlannedGrams.StringFixed(2))
}
