package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("broker down") }
func (failing) Close() error                         { return nil }

func TestMultiPublishesToAll(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, failing{}, b}

	err := m.Publish(context.Background(), Event{Type: BookingAssigned, BookingID: "X", DriverID: "D1", OccurredAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{BookingAssigned}, a.Types())
	assert.Equal(t, []string{BookingAssigned}, b.Types())
	assert.Equal(t, "D1", b.Events()[0].DriverID)
	assert.NoError(t, m.Close())
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{Type: DispatchStarted}))
}
