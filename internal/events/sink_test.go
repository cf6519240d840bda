package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(name string) domain.Event {
	plan := &domain.Plan{ID: uuid.New(), OrganizationID: "org-1"}
	return domain.NewEvent(name, plan, nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	o := NewOutbox(2)
	ctx := context.Background()

	o.Emit(ctx, testEvent(domain.EventOverdue))
	o.Emit(ctx, testEvent(domain.EventReminder))
	o.Emit(ctx, testEvent(domain.EventEscalated))

	assert.Equal(t, int64(1), o.Dropped())

	drained := o.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, domain.EventOverdue, drained[0].Name)
	assert.Equal(t, domain.EventReminder, drained[1].Name)
	assert.Empty(t, o.Drain())
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewOutbox(4), NewOutbox(4)
	Multi{a, nil, b}.Emit(context.Background(), testEvent(domain.EventRetry))

	assert.Len(t, a.Drain(), 1)
	assert.Len(t, b.Drain(), 1)
}

func TestLogSink_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithOutput("info", "json", &buf))

	event := testEvent(domain.EventPlanDefaulted)
	sink.Emit(context.Background(), event)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, domain.EventPlanDefaulted, line["event"])
	assert.Equal(t, event.PlanID.String(), line["plan_id"])
	assert.Equal(t, "org-1", line["organization_id"])
}

func TestStreamValues(t *testing.T) {
	event := testEvent(domain.EventPaymentProcessed)
	event.Payload["amount"] = "100.00"

	values, err := StreamValues(event)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentProcessed, values["name"])

	var decoded domain.Event
	require.NoError(t, json.Unmarshal([]byte(values["event"].(string)), &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "100.00", decoded.Payload["amount"])
}
