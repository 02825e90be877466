package inbound

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/dispatch"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

type fixture struct {
	store   *storage.MemoryStore
	webhook *Webhook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	phone := "+15550001111"
	require.NoError(t, store.SaveDriver(ctx, &models.Driver{ID: "D1", Status: models.DriverActive, DocumentsVerified: true, Available: true, Phone: &phone}))
	require.NoError(t, store.SaveBooking(ctx, &models.Booking{ID: "X", Status: models.BookingConfirmed}))
	res, err := store.CreateRound(ctx, "X", []storage.Offer{{DriverID: "D1", ResponseCode: "ABC234"}}, time.Now(), time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)

	return &fixture{
		store: store,
		webhook: &Webhook{
			Lookup:   store,
			Resolver: &dispatch.Resolver{Store: store, Backoff: time.Millisecond},
			Dedup:    NewMemoryDeduper(time.Hour),
		},
	}
}

func TestAcceptByReply(t *testing.T) {
	f := newFixture(t)
	reply, err := f.webhook.Handle(context.Background(), Message{From: "whatsapp:+1 555-000-1111", Body: " yes ", MessageID: "SM1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, reply.Outcome)
	assert.Contains(t, reply.Text, "confirmed")

	b, err := f.store.GetBooking(context.Background(), "X")
	require.NoError(t, err)
	require.NotNil(t, b.AssignedDriverID)
	assert.Equal(t, "D1", *b.AssignedDriverID)
}

func TestReplyWithCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "YES ZZZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInvalidCode, reply.Outcome)

	reply, err = f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "no abc234"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, reply.Outcome)
	assert.Contains(t, reply.Text, "declined")
}

func TestUnknownSenderAndNoPendingOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.webhook.Handle(ctx, Message{From: "+19999999999", Body: "YES"})
	assert.ErrorIs(t, err, ErrUnknownSender)

	_, err = f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "NO"})
	require.NoError(t, err)
	_, err = f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "YES"})
	assert.ErrorIs(t, err, ErrNoPendingOffer)
}

func TestDuplicateDeliveryIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := &countingResolver{next: f.webhook.Resolver}
	f.webhook.Resolver = resolver

	first, err := f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "YES", MessageID: "SM42"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	second, err := f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "YES", MessageID: "SM42"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, resolver.calls)
}

func TestRetryAfterFailureIsProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.webhook.Resolver = &flakyResolver{next: f.webhook.Resolver}
	msg := Message{From: "+15550001111", Body: "YES", MessageID: "SM9"}

	_, err := f.webhook.Handle(ctx, msg)
	require.ErrorIs(t, err, storage.ErrTransient)

	reply, err := f.webhook.Handle(ctx, msg)
	require.NoError(t, err)
	assert.False(t, reply.Duplicate)
	assert.Equal(t, models.OutcomeSuccess, reply.Outcome)

	b, err := f.store.GetBooking(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.BookingDriverAssigned, b.Status)

	again, err := f.webhook.Handle(ctx, msg)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}

func TestYesWithTrailingWordIsTreatedAsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.webhook.Handle(ctx, Message{From: "+15550001111", Body: "YES PLEASE"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInvalidCode, reply.Outcome)

	n, err := f.store.LatestPendingForDriver(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationPending, n.Status)
}

func TestDedupFailureStillProcesses(t *testing.T) {
	f := newFixture(t)
	f.webhook.Dedup = brokenDeduper{}
	reply, err := f.webhook.Handle(context.Background(), Message{From: "+15550001111", Body: "YES", MessageID: "SM1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, reply.Outcome)
}

func TestParseBody(t *testing.T) {
	cases := []struct {
		body     string
		accepted bool
		code     string
	}{
		{"YES", true, ""},
		{"  yes  k7m2pq ", true, "K7M2PQ"},
		{"No", false, ""},
		{"maybe later", false, "LATER"},
		{"", false, ""},
	}
	for _, c := range cases {
		accepted, code := ParseBody(c.body)
		assert.Equal(t, c.accepted, accepted, c.body)
		assert.Equal(t, c.code, code, c.body)
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15550001111", NormalizePhone("whatsapp:+1 555-000-1111"))
	assert.Equal(t, "+15550001111", NormalizePhone(" +1 (555) 000 1111"))
}

func TestTwiML(t *testing.T) {
	out, err := TwiML("Booking <X> & co")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Response><Message>Booking &lt;X&gt; &amp; co</Message></Response>")

	empty, err := TwiML("")
	require.NoError(t, err)
	assert.Contains(t, string(empty), "<Response></Response>")
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	first, _ := d.FirstSeen(ctx, "SM1")
	again, _ := d.FirstSeen(ctx, "SM1")
	assert.True(t, first)
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	afterTTL, _ := d.FirstSeen(ctx, "SM1")
	assert.True(t, afterTTL)

	require.NoError(t, d.Release(ctx, "SM1"))
	released, _ := d.FirstSeen(ctx, "SM1")
	assert.True(t, released)
}

type countingResolver struct {
	next  Resolver
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, r dispatch.Response) (storage.ResolveResult, error) {
	c.calls++
	return c.next.Resolve(ctx, r)
}

type brokenDeduper struct{}

func (brokenDeduper) FirstSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenDeduper) Release(context.Context, string) error { return nil }

// flakyResolver fails the first call with a transient store error.
type flakyResolver struct {
	next   Resolver
	failed bool
}

func (f *flakyResolver) Resolve(ctx context.Context, r dispatch.Response) (storage.ResolveResult, error) {
	if !f.failed {
		f.failed = true
		return storage.ResolveResult{}, fmt.Errorf("resolve response: %w", storage.ErrTransient)
	}
	return f.next.Resolve(ctx, r)
}
