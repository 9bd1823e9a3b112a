package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequenceIDs struct {
	n int
}

func (s *sequenceIDs) New() (string, error) {
	s.n++

	return fmt.Sprintf("batch-%d", s.n), nil
}

func sizedTrack(id string, padding int) *Track {
	return &Track{
		BaseAction: BaseAction{ID: id, UserID: "user", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		Event:      "event",
		Properties: Properties{"pad": strings.Repeat("x", padding)},
	}
}

func encodedSize(t *testing.T, batch *Batch) int {
	t.Helper()

	batch.SentAt = time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	return len(body)
}

func TestBatchBuilderRespectsCountLimit(t *testing.T) {
	builder := NewBatchBuilder("key", 1<<20, 3, &sequenceIDs{})
	actions := make([]Action, 7)
	for i := range actions {
		actions[i] = sizedTrack(fmt.Sprint(i), 1)
	}

	batches, failures := builder.Build(actions)
	require.Empty(t, failures)
	require.Len(t, batches, 3)
	assert.Equal(t, 3, batches[0].Len())
	assert.Equal(t, 3, batches[1].Len())
	assert.Equal(t, 1, batches[2].Len())

	var order []string
	for _, batch := range batches {
		for _, action := range batch.Actions() {
			order = append(order, action.MessageID())
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6"}, order)
}

func TestBatchBuilderRespectsByteLimit(t *testing.T) {
	const limit = 1024
	builder := NewBatchBuilder("key", limit, 100, &sequenceIDs{})
	actions := make([]Action, 20)
	for i := range actions {
		actions[i] = sizedTrack(fmt.Sprint(i), 100+i*7)
	}

	batches, failures := builder.Build(actions)
	require.Empty(t, failures)
	require.Greater(t, len(batches), 1)

	total := 0
	for _, batch := range batches {
		size := encodedSize(t, batch)
		assert.Equal(t, batch.Size(), size, "tracked size must match the encoded body")
		assert.LessOrEqual(t, size, limit)
		total += batch.Len()
	}
	assert.Equal(t, len(actions), total)
}

func TestBatchBuilderOversizedActionShipsAlone(t *testing.T) {
	const limit = 512
	builder := NewBatchBuilder("key", limit, 100, &sequenceIDs{})
	actions := []Action{
		sizedTrack("small-1", 10),
		sizedTrack("huge", 2*limit),
		sizedTrack("small-2", 10),
	}

	batches, failures := builder.Build(actions)
	require.Empty(t, failures)
	require.Len(t, batches, 3)
	assert.Equal(t, "huge", batches[1].Actions()[0].MessageID())
	assert.Equal(t, 1, batches[1].Len())
	assert.Greater(t, encodedSize(t, batches[1]), limit)
}

func TestBatchBuilderIsDeterministic(t *testing.T) {
	actions := make([]Action, 30)
	for i := range actions {
		actions[i] = sizedTrack(fmt.Sprint(i), (i*37)%200)
	}

	shape := func() []int {
		batches, _ := NewBatchBuilder("key", 900, 7, &sequenceIDs{}).Build(actions)
		sizes := make([]int, 0, len(batches))
		for _, batch := range batches {
			sizes = append(sizes, batch.Len())
		}
		return sizes
	}

	assert.Equal(t, shape(), shape())
}

func TestBatchBuilderIDFailureFailsActions(t *testing.T) {
	boom := errors.New("entropy exhausted")
	ids := IDGeneratorFunc(func() (string, error) { return "", boom })
	builder := NewBatchBuilder("key", 1024, 10, ids)

	batches, failures := builder.Build([]Action{sizedTrack("a", 1), sizedTrack("b", 1)})
	assert.Empty(t, batches)
	require.Len(t, failures, 2)
	for _, failure := range failures {
		assert.ErrorIs(t, failure.Err, ErrUnexpected)
		assert.ErrorIs(t, failure.Err, boom)
	}
}

func TestBatchMarshalEnvelope(t *testing.T) {
	builder := NewBatchBuilder("write-key", 1024, 10, &sequenceIDs{})
	batches, _ := builder.Build([]Action{sizedTrack("a", 1)})
	require.Len(t, batches, 1)
	batches[0].SentAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600))

	body, err := json.Marshal(batches[0])
	require.NoError(t, err)

	var envelope struct {
		Batch    []map[string]any `json:"batch"`
		SentAt   string           `json:"sentAt"`
		WriteKey string           `json:"writeKey"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "write-key", envelope.WriteKey)
	assert.Equal(t, "2024-05-06T06:08:09.000Z", envelope.SentAt)
	require.Len(t, envelope.Batch, 1)
	assert.Equal(t, "track", envelope.Batch[0]["type"])
}
