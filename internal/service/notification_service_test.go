package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/pkg/jobs"
)

func TestQueueNotifierDeliversFollowUps(t *testing.T) {
	mem := newMemDB()
	queue := jobs.NewQueue("follow_ups", FollowUpHandler(fakeFollowUps{db: mem}, nil), jobs.QueueConfig{Workers: 1, BufferSize: 4})
	queue.Start(context.Background())

	notifier := NewQueueNotifier(queue, nil, nil)
	notifier.ScheduleFollowUp(context.Background(), testTenant, "teacher-1", "Student Ayu enrolled")
	notifier.ScheduleFollowUp(context.Background(), testTenant, "", "nobody to tell")
	queue.Stop()

	require.Len(t, mem.followUps, 1)
	assert.Equal(t, models.FollowUp{TenantID: testTenant, UserID: "teacher-1", Note: "Student Ayu enrolled"}, mem.followUps[0])
}

func TestQueueNotifierDropsWhenQueueClosed(t *testing.T) {
	mem := newMemDB()
	queue := jobs.NewQueue("follow_ups", FollowUpHandler(fakeFollowUps{db: mem}, nil), jobs.QueueConfig{})

	notifier := NewQueueNotifier(queue, nil, nil)
	assert.NotPanics(t, func() {
		notifier.ScheduleFollowUp(context.Background(), testTenant, "teacher-1", "queue never started")
	})
	assert.Empty(t, mem.followUps)
}

func TestFollowUpHandlerRejectsForeignJobs(t *testing.T) {
	handler := FollowUpHandler(fakeFollowUps{db: newMemDB()}, nil)

	assert.Error(t, handler(context.Background(), jobs.Job{Type: "report"}))
	assert.Error(t, handler(context.Background(), jobs.Job{Type: followUpJobType, Payload: "note"}))
}

func TestLedgerBillingInvoiceAndRefund(t *testing.T) {
	ctx := context.Background()
	mem := newMemDB()
	billing := NewLedgerBilling(fakeInvoices{db: mem}, "income:tuition", nil, nil)

	_, err := billing.CreateInvoice(ctx, nil, models.InvoiceRequest{TenantID: testTenant, UnitPrice: 10})
	assert.Error(t, err)

	id, err := billing.CreateInvoice(ctx, nil, models.InvoiceRequest{
		TenantID: testTenant, PayerPartyID: "party-1", Description: "Course Enrollment: Art", UnitPrice: 120,
	})
	require.NoError(t, err)
	inv := mem.invoices[id]
	assert.Equal(t, 1.0, inv.Quantity)
	assert.Equal(t, 120.0, inv.AmountTotal)
	assert.Equal(t, "income:tuition", deref(inv.ProductRef))
	assert.Equal(t, models.InvoiceUnpaid, inv.Status)

	refundID, err := billing.CreateRefund(ctx, nil, testTenant, id)
	require.NoError(t, err)
	refund := mem.invoices[refundID]
	assert.Equal(t, models.InvoiceKindRefund, refund.Kind)
	assert.Equal(t, "Refund: Course Enrollment: Art", refund.Description)
	assert.Equal(t, id, deref(refund.ReversedInvoiceID))
	assert.Equal(t, 120.0, refund.AmountTotal)

	_, err = billing.CreateRefund(ctx, nil, testTenant, refundID)
	assert.Error(t, err)

	_, err = billing.InvoiceStatus(ctx, nil, testTenant, "invoice-ghost")
	assert.Error(t, err)
}
