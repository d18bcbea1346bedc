package service

import (
	"context"
	"testing"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTemplateWithFiles(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	lot := testutil.SeedLot(t, db, "", "1000", "25")
	m := testutil.SeedMachine(t, db, "MK4", 200)

	tpl, err := svc.Job.CreateTemplate(ctx, &CreateTemplateInput{
		Name: " Vaso ",
		Files: []TemplateFileInput{
			{Name: "corpo.gcode", MachineID: &m.ID, DurationSeconds: 7200, PerRunQty: 4,
				Usages: []TemplateUsageInput{{MaterialTypeID: lot.MaterialTypeID, Grams: dec("60.004")}}},
			{Name: "tappo.gcode"},
		},
	})
	require.NoError(t, err)

	got, err := svc.Job.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vaso", got.Name)
	assert.False(t, got.SuggestedPrice.Valid)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "corpo.gcode", got.Files[0].Name)
	assert.Equal(t, 4, got.Files[0].PerRunQty)
	require.Len(t, got.Files[0].Usages, 1)
	assert.Equal(t, "60.00", got.Files[0].Usages[0].Grams.StringFixed(2))
	assert.Equal(t, "tappo.gcode", got.Files[1].Name)
	assert.Equal(t, 1, got.Files[1].PerRunQty)

	_, err = svc.Job.CreateTemplate(ctx, &CreateTemplateInput{Name: "x", Files: []TemplateFileInput{{Name: " "}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Job.CreateTemplate(ctx, &CreateTemplateInput{Name: "x", Files: []TemplateFileInput{{Name: "a", MachineID: strPtr("missing")}}})
	assert.ErrorIs(t, err, ErrMachineNotFound)
	_, err = svc.Job.CreateTemplate(ctx, &CreateTemplateInput{Name: "x", Files: []TemplateFileInput{
		{Name: "a", Usages: []TemplateUsageInput{{MaterialTypeID: "missing", Grams: dec("1")}}},
	}})
	assert.ErrorIs(t, err, ErrMaterialTypeNotFound)
	_, err = svc.Job.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCreateJobFromTemplate(t *testing.T) {
	svc, db, notifier := newTestServices(t)
	ctx := context.Background()
	now := fixClock(svc)

	old := testutil.SeedLot(t, db, "", "1000", "25")
	newer := testutil.SeedLot(t, db, old.MaterialTypeID, "1000", "25")
	retired := testutil.SeedLot(t, db, old.MaterialTypeID, "1000", "25")
	require.NoError(t, db.Model(&entity.Lot{}).Where("id = ?", old.ID).Update("purchase_date", now.AddDate(0, -2, 0)).Error)
	require.NoError(t, db.Model(&entity.Lot{}).Where("id = ?", newer.ID).Update("purchase_date", now.AddDate(0, -1, 0)).Error)
	require.NoError(t, db.Model(&entity.Lot{}).Where("id = ?", retired.ID).
		Updates(map[string]interface{}{"purchase_date": now.AddDate(0, -3, 0), "active": false}).Error)

	empty := &entity.MaterialType{ID: uuid.New().String(), Material: "PETG", ColorName: "Rosso", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, db.Create(empty).Error)

	m := testutil.SeedMachine(t, db, "MK4", 200)
	testutil.SeedTask(t, db, testutil.SeedJob(t, db, "Altro", entity.JobStatusTodo, 1).ID, m.ID, entity.TaskStatusTodo, 60)

	tpl, err := svc.Job.CreateTemplate(ctx, &CreateTemplateInput{
		Name: "Vaso",
		Files: []TemplateFileInput{
			{Name: "corpo.gcode", MachineID: &m.ID, DurationSeconds: 7200, PerRunQty: 4,
				Usages: []TemplateUsageInput{
					{MaterialTypeID: old.MaterialTypeID, Grams: dec("60")},
					{MaterialTypeID: empty.ID, Grams: dec("5")},
				}},
			{Name: "tappo.gcode", PerRunQty: 20},
		},
	})
	require.NoError(t, err)
	before := token(t, svc)

	job, err := svc.Job.CreateFromTemplate(ctx, "alice", tpl.ID, &CreateFromTemplateInput{Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, "Vaso", job.Name)
	assert.Equal(t, entity.JobStatusTodo, job.Status)
	assert.Equal(t, entity.JobPriorityMedium, job.Priority)
	assert.Equal(t, 10, job.PlannedQty)
	require.NotNil(t, job.TemplateID)
	assert.Equal(t, tpl.ID, *job.TemplateID)
	assert.NotEqual(t, before, token(t, svc))
	assert.Equal(t, "created", notifier.changes[len(notifier.changes)-1].Action)

	require.Len(t, job.Tasks, 4)
	names := make([]string, 0, len(job.Tasks))
	positions := make([]int, 0, 3)
	for _, task := range job.Tasks {
		names = append(names, task.Name)
		assert.Equal(t, entity.TaskStatusTodo, task.Status)
		if task.Name == "tappo.gcode" {
			assert.Nil(t, task.MachineID)
			assert.Empty(t, task.Usages)
			continue
		}
		assert.Equal(t, 4, task.PerRunQty)
		positions = append(positions, task.QueuePosition)
		// 没有在用批次的耗材类型不写用量
		require.Len(t, task.Usages, 1)
		assert.Equal(t, old.ID, task.Usages[0].LotID)
		assert.Equal(t, "60.00", task.Usages[0].PlannedGrams.StringFixed(2))
	}
	assert.ElementsMatch(t, []string{"corpo.gcode (1)", "corpo.gcode (2)", "corpo.gcode (3)", "tappo.gcode"}, names)
	assert.ElementsMatch(t, []int{1, 2, 3}, positions)

	// 计划用量不计入余量
	view, err := svc.Allocator.GetLot(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", view.RemainingGrams.StringFixed(2))
}

func TestCreateJobFromTemplateRejections(t *testing.T) {
	svc, db, _ := newTestServices(t)
	ctx := context.Background()

	tpl, err := svc.Job.CreateTemplate(ctx, &CreateTemplateInput{Name: "Vaso"})
	require.NoError(t, err)

	_, err = svc.Job.CreateFromTemplate(ctx, "alice", "missing", &CreateFromTemplateInput{})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	_, err = svc.Job.CreateFromTemplate(ctx, "alice", tpl.ID, &CreateFromTemplateInput{Quantity: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Job.CreateFromTemplate(ctx, "alice", tpl.ID, &CreateFromTemplateInput{Priority: "SOMEDAY"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	var jobs int64
	require.NoError(t, db.Model(&entity.Job{}).Count(&jobs).Error)
	assert.Zero(t, jobs)

	job, err := svc.Job.CreateFromTemplate(ctx, "alice", tpl.ID, &CreateFromTemplateInput{Name: " Vaso grande ", Priority: entity.JobPriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "Vaso grande", job.Name)
	assert.Equal(t, 1, job.PlannedQty)
	assert.Empty(t, job.Tasks)
}
