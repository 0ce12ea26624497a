package progress

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversInOrder(t *testing.T) {
	broker := NewBroker()
	events, cancel := broker.Subscribe("r1")
	defer cancel()

	broker.Publish(NewEvent("r1", EventStarted, "", nil))
	broker.Publish(NewEvent("r1", EventStepProgress, "step", map[string]any{"attempt": 1}))
	broker.Publish(NewEvent("r1", EventFinished, "", map[string]any{"status": "PASSED"}))

	first := <-events
	second := <-events
	third := <-events
	assert.Equal(t, EventStarted, first.Type)
	assert.Equal(t, EventStepProgress, second.Type)
	assert.Equal(t, "step", second.StepAlias)
	assert.Equal(t, EventFinished, third.Type)
}

func TestBrokerIsolatesReports(t *testing.T) {
	broker := NewBroker()
	mine, cancelMine := broker.Subscribe("mine")
	defer cancelMine()
	other, cancelOther := broker.Subscribe("other")
	defer cancelOther()

	broker.Publish(NewEvent("mine", EventStarted, "", nil))

	event := <-mine
	assert.Equal(t, "mine", event.ReportID)
	select {
	case leaked := <-other:
		t.Fatalf("event leaked across reports: %+v", leaked)
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	broker := NewBroker()
	events, cancel := broker.Subscribe("r1")
	defer cancel()

	for i := 0; i < subscriberBuffer+50; i++ {
		broker.Publish(NewEvent("r1", EventStepProgress, "", map[string]any{"i": i}))
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestCancelIsIdempotent(t *testing.T) {
	broker := NewBroker()
	_, cancel := broker.Subscribe("r1")
	cancel()
	cancel()
	// Publishing after cancel must not panic on the closed channel.
	broker.Publish(NewEvent("r1", EventFinished, "", nil))
}

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", maxStringLen+100)
	event := NewEvent("r1", EventStepProgress, "", map[string]any{"body": long})
	body := event.Payload["body"].(string)
	assert.True(t, strings.HasSuffix(body, truncatedSuffx))
	assert.LessOrEqual(t, len(body), maxStringLen+len(truncatedSuffx))
}

func TestSanitizeCapsCollections(t *testing.T) {
	items := make([]any, maxItems+10)
	for i := range items {
		items[i] = i
	}
	event := NewEvent("r1", EventStepProgress, "", map[string]any{"items": items})
	list := event.Payload["items"].([]any)
	require.Len(t, list, maxItems+1)
	marker := list[maxItems].(map[string]any)
	assert.Equal(t, true, marker["__truncated__"])
	assert.Equal(t, len(items), marker["count"])
}

func TestSanitizeCapsDepth(t *testing.T) {
	nested := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{
					"d": map[string]any{"e": 1},
				},
			},
		},
	}
	event := NewEvent("r1", EventStepProgress, "", nested)
	level := event.Payload
	for _, key := range []string{"a", "b", "c"} {
		next, ok := level[key].(map[string]any)
		require.True(t, ok, "expected map at %q", key)
		level = next
	}
	assert.Equal(t, map[string]any{"__truncated__": true}, level["d"])
}

func TestEnsureSizeMarksOversizedEvents(t *testing.T) {
	payload := map[string]any{}
	for i := 0; i < maxItems; i++ {
		payload[strings.Repeat("k", 2)+string(rune('a'+i))] = strings.Repeat("v", maxStringLen)
	}
	event := NewEvent("r1", EventStepProgress, "", payload)

	encoded, err := json.Marshal(event)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(encoded), maxEventBytes)
	assert.True(t, event.Truncated)
}

func TestEventJSONShape(t *testing.T) {
	event := NewEvent("r1", EventAssertionResult, "login", map[string]any{"passed": true})
	encoded, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, "assertion_result", decoded["type"])
	assert.Equal(t, "r1", decoded["report_id"])
	assert.Equal(t, "login", decoded["step_alias"])
	assert.NotEmpty(t, decoded["timestamp"])
	_, hasTruncated := decoded["truncated"]
	assert.False(t, hasTruncated)
}
