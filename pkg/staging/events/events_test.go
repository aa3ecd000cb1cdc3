package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagefs/stagefs/pkg/staging/events"
)

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus()

	var first, second []events.Event
	bus.Subscribe(func(_ context.Context, e events.Event) {
		first = append(first, e)
	})
	bus.Subscribe(func(_ context.Context, e events.Event) {
		second = append(second, e)
	})

	bus.FileCommitted(context.Background(), "dig-2031", "data/set1/scan-001.tiff", "md5:0123", 4096)
	bus.FileDeleted(context.Background(), "dig-2031", "data/old.tiff")

	require.Len(t, first, 2)
	require.Len(t, second, 2)

	committed := first[0]
	assert.Equal(t, events.TypeFileCommitted, committed.Type)
	assert.Equal(t, "dig-2031", committed.Project)
	assert.Equal(t, "data/set1/scan-001.tiff", committed.Path)
	assert.Equal(t, "md5:0123", committed.Checksum)
	assert.Equal(t, int64(4096), committed.Size)
	assert.False(t, committed.OccurredAt.IsZero())

	deleted := first[1]
	assert.Equal(t, events.TypeFileDeleted, deleted.Type)
	assert.Empty(t, deleted.Checksum)
	assert.Zero(t, deleted.Size)
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := events.NewBus()

	var delivered int
	bus.Subscribe(func(context.Context, events.Event) {
		panic("subscriber bug")
	})
	bus.Subscribe(func(context.Context, events.Event) {
		delivered++
	})

	bus.FileCommitted(context.Background(), "dig-2031", "a.txt", "", 1)

	// The panic is contained and later subscribers still run.
	assert.Equal(t, 1, delivered)
}

func TestBusWithoutSubscribers(t *testing.T) {
	bus := events.NewBus()
	bus.FileDeleted(context.Background(), "dig-2031", "a.txt")
}

func TestNopPublisher(t *testing.T) {
	var p events.Publisher = events.NopPublisher{}
	p.FileCommitted(context.Background(), "dig-2031", "a.txt", "md5:00", 1)
	p.FileDeleted(context.Background(), "dig-2031", "a.txt")
}
