package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDeriveJobStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"no tasks", nil, JobStatusTodo},
		{"all todo", []string{TaskStatusTodo, TaskStatusTodo}, JobStatusTodo},
		{"one printing wins", []string{TaskStatusDone, TaskStatusPrinting, TaskStatusTodo}, JobStatusPrinting},
		{"done and failed", []string{TaskStatusDone, TaskStatusFailed}, JobStatusPrinted},
		{"all failed", []string{TaskStatusFailed}, JobStatusPrinted},
		{"partially done", []string{TaskStatusDone, TaskStatusTodo}, JobStatusTodo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveJobStatus(tc.statuses))
		})
	}
}

func TestLeaseLifecycle(t *testing.T) {
	ttl := 5 * time.Minute
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var l Lease
	assert.False(t, l.Active(now, ttl))
	assert.Empty(t, l.Holder())

	holder, ok := l.TryAcquire("alice", now, ttl)
	assert.True(t, ok)
	assert.Equal(t, "alice", holder)
	assert.True(t, l.HeldByOther("bob", now.Add(time.Minute), ttl))
	assert.False(t, l.HeldByOther("alice", now.Add(time.Minute), ttl))

	holder, ok = l.TryAcquire("bob", now.Add(time.Minute), ttl)
	assert.False(t, ok)
	assert.Equal(t, "alice", holder)

	// 过期后他人可以接管
	holder, ok = l.TryAcquire("bob", now.Add(ttl), ttl)
	assert.True(t, ok)
	assert.Equal(t, "bob", holder)

	assert.False(t, l.Release("alice"))
	assert.True(t, l.Release("bob"))
	assert.Nil(t, l.LockedBy)
	assert.Nil(t, l.LockedAt)
}

func TestLeaseRenewExtendsExpiry(t *testing.T) {
	ttl := 5 * time.Minute
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var l Lease
	l.TryAcquire("alice", now, ttl)
	l.TryAcquire("alice", now.Add(4*time.Minute), ttl)

	exp, ok := l.ExpiresAt(ttl)
	assert.True(t, ok)
	assert.Equal(t, now.Add(9*time.Minute), exp)
}

func TestFeePolicyNet(t *testing.T) {
	gross := decimal.RequireFromString("60")
	assert.True(t, FlatFee().Net(gross).Equal(gross))
	assert.Equal(t, "58.80", PercentageFee(decimal.RequireFromString("0.02")).Net(gross).StringFixed(2))

	ch := &PaymentChannel{FeeKind: FeeKindPercentage, FeeRate: decimal.RequireFromString("0.05")}
	assert.Equal(t, FeeKindPercentage, ch.FeePolicy().Kind)
	ch.FeeKind = "UNKNOWN"
	assert.Equal(t, FeeKindFlat, ch.FeePolicy().Kind)
}

func TestBatchUnitCost(t *testing.T) {
	b := &Batch{
		Quantity:     4,
		MaterialCost: decimal.RequireFromString("10.00"),
		LaborCost:    decimal.RequireFromString("2.00"),
	}
	assert.Equal(t, "3.00", b.UnitCost().StringFixed(2))

	b.Quantity = 0
	assert.True(t, b.UnitCost().IsZero())
}

func TestLotCostPerGram(t *testing.T) {
	lot := &Lot{InitialGrams: decimal.RequireFromString("1000"), Cost: decimal.RequireFromString("25")}
	assert.Equal(t, "0.025", lot.CostPerGram().String())

	lot.InitialGrams = decimal.Zero
	assert.True(t, lot.CostPerGram().IsZero())
}
