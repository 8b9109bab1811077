package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-backend/internal/registry"
)

type fakeEventBridge struct {
	calls []*eventbridge.PutEventsInput
	fail  map[int]bool
	err   error
}

func (f *fakeEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}

	out := &eventbridge.PutEventsOutput{Entries: make([]types.PutEventsResultEntry, len(in.Entries))}
	for i := range in.Entries {
		if f.fail[i] {
			out.FailedEntryCount++
			out.Entries[i] = types.PutEventsResultEntry{
				ErrorCode:    aws.String("InternalFailure"),
				ErrorMessage: aws.String("try again"),
			}
		} else {
			out.Entries[i] = types.PutEventsResultEntry{EventId: aws.String(strconv.Itoa(i))}
		}
	}
	return out, nil
}

func changeEvents(n int) []registry.ChangeEvent {
	events := make([]registry.ChangeEvent, n)
	for i := range events {
		events[i] = registry.ChangeEvent{
			ID:         "ev-" + strconv.Itoa(i),
			Type:       registry.ChangeNodeUpserted,
			NodeID:     "n" + strconv.Itoa(i),
			OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	}
	return events
}

func TestEventBridgePublisher_Batches(t *testing.T) {
	client := &fakeEventBridge{}
	p := NewEventBridgePublisher(client, "codex-bus", "", nil)

	require.NoError(t, p.Publish(context.Background(), changeEvents(23)))

	require.Len(t, client.calls, 3)
	assert.Len(t, client.calls[0].Entries, 10)
	assert.Len(t, client.calls[1].Entries, 10)
	assert.Len(t, client.calls[2].Entries, 3)

	entry := client.calls[0].Entries[0]
	assert.Equal(t, "codex-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, "codex.graph", aws.ToString(entry.Source))
	assert.Equal(t, "graph.node.upserted", aws.ToString(entry.DetailType))

	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "n0", detail["nodeId"])
	assert.Equal(t, "ev-0", detail["id"])
}

func TestEventBridgePublisher_EmptyIsNoop(t *testing.T) {
	client := &fakeEventBridge{}
	p := NewEventBridgePublisher(client, "", "", nil)

	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Empty(t, client.calls)
}

func TestEventBridgePublisher_FailedEntries(t *testing.T) {
	client := &fakeEventBridge{fail: map[int]bool{1: true}}
	p := NewEventBridgePublisher(client, "", "", nil)

	err := p.Publish(context.Background(), changeEvents(15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 events failed to publish")
	assert.Len(t, client.calls, 1, "publishing stops at the first failed batch")
}

func TestEventBridgePublisher_ClientError(t *testing.T) {
	client := &fakeEventBridge{err: errors.New("throttled")}
	p := NewEventBridgePublisher(client, "", "", nil)

	err := p.Publish(context.Background(), changeEvents(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)
}
