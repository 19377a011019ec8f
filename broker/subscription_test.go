package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kychandar/evwire/protocol"
)

func (f *fixture) publish(t *testing.T, channel string, events ...bson.D) {
	t.Helper()
	for _, ev := range events {
		_, err := f.log.Append(f.ctx, channel, doc(t, ev))
		require.NoError(t, err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	s, rec := f.open(t)

	cases := []struct {
		name string
		req  protocol.Subscribe
		code protocol.ErrCode
	}{
		{"no channel", protocol.Subscribe{}, protocol.ErrCodeInvalidRequest},
		{"missing channel", protocol.Subscribe{Channel: "ghosts"}, protocol.ErrCodeNoSuchChannel},
		{"both starts", protocol.Subscribe{Channel: "orders", StartPos: ptr(int64(1)), StartTimestamp: ptr(int64(1))}, protocol.ErrCodeInvalidRequest},
		{"bad matcher", protocol.Subscribe{Channel: "orders", Matcher: "amount>(1"}, protocol.ErrCodeInvalidRequest},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.RequestID = int64(100 + i)
			require.NoError(t, s.HandleSubscribe(f.ctx, tc.req))
			resp := rec.subResponse(t, tc.req.RequestID)
			assert.False(t, resp.OK)
			assert.Equal(t, tc.code, resp.ErrCode)
		})
	}
}

func TestSubscribe_NewOnlyByDefault(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	f.publish(t, "orders", bson.D{{Key: "n", Value: 1}})
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders"}))
	resp := rec.subResponse(t, 2)
	require.True(t, resp.OK)
	assert.NotZero(t, resp.SubID)

	f.publish(t, "orders", bson.D{{Key: "n", Value: 2}})
	recevs := rec.waitRecevs(t, 1)
	require.Len(t, recevs, 1)
	assert.Equal(t, int64(2), recevs[0].Pos)
	assert.Equal(t, resp.SubID, recevs[0].SubID)
	assert.NotZero(t, recevs[0].Timestamp)
}

func TestSubscribe_ResponsePrecedesEvents(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	for i := 0; i < 20; i++ {
		f.publish(t, "orders", bson.D{{Key: "n", Value: i}})
	}
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders", StartPos: ptr(int64(1))}))
	rec.waitRecevs(t, 20)

	var sawResponse bool
	for _, r := range rec.all() {
		switch r.frame.(type) {
		case protocol.SubResponse:
			sawResponse = true
		case protocol.Recev:
			require.True(t, sawResponse, "RECEV before SUBRESPONSE")
		}
	}
}

func TestSubscribe_FromTimestamp(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	f.publish(t, "orders", bson.D{{Key: "n", Value: 1}})
	time.Sleep(5 * time.Millisecond)
	cut := time.Now()
	time.Sleep(5 * time.Millisecond)
	f.publish(t, "orders", bson.D{{Key: "n", Value: 2}})
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{
		RequestID: 2, Channel: "orders", StartTimestamp: ptr(cut.UnixMilli() + 1),
	}))
	recevs := rec.waitRecevs(t, 1)
	assert.Equal(t, int64(2), recevs[0].Pos)
}

func TestSubscribe_CreditGatesDelivery(t *testing.T) {
	f := newFixture(t, WithSubscriptionCredit(1))
	f.channel(t, "orders")
	for i := 0; i < 3; i++ {
		f.publish(t, "orders", bson.D{{Key: "n", Value: i}})
	}
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders", StartPos: ptr(int64(1))}))
	subID := rec.subResponse(t, 2).SubID

	rec.waitRecevs(t, 1)
	assert.Never(t, func() bool {
		return len(framesOf[protocol.Recev](rec)) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	for n := 1; n <= 2; n++ {
		recevs := framesOf[protocol.Recev](rec)
		sizes := sizesOf[protocol.Recev](rec)
		require.Len(t, recevs, n)
		require.NoError(t, s.HandleAckEv(f.ctx, protocol.AckEv{SubID: subID, Bytes: int64(sizes[n-1]), Pos: recevs[n-1].Pos}))
		rec.waitRecevs(t, n+1)
	}

	recevs := framesOf[protocol.Recev](rec)
	require.Len(t, recevs, 3)
	for i, r := range recevs {
		assert.Equal(t, int64(i+1), r.Pos)
	}
}

func TestSubscribe_Matcher(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	for _, amount := range []int{5, 20, 15, 1} {
		f.publish(t, "orders", bson.D{{Key: "amount", Value: amount}})
	}
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{
		RequestID: 2, Channel: "orders", StartPos: ptr(int64(1)), Matcher: "amount>10",
	}))
	recevs := rec.waitRecevs(t, 2)
	assert.Never(t, func() bool {
		return len(framesOf[protocol.Recev](rec)) > 2
	}, 50*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int64(2), recevs[0].Pos)
	assert.Equal(t, int64(3), recevs[1].Pos)
}

func TestSubscribe_DurableResumesAfterAck(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders", DurableID: "billing"}))
	subID := rec.subResponse(t, 2).SubID
	for i := 0; i < 3; i++ {
		f.publish(t, "orders", bson.D{{Key: "n", Value: i}})
	}
	recevs := rec.waitRecevs(t, 3)
	sizes := sizesOf[protocol.Recev](rec)
	for i := 0; i < 2; i++ {
		require.NoError(t, s.HandleAckEv(f.ctx, protocol.AckEv{SubID: subID, Bytes: int64(sizes[i]), Pos: recevs[i].Pos}))
	}

	pos, found, err := f.store.LoadPosition(f.ctx, "orders", "billing")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), pos)

	// SUBCLOSE keeps the durable position
	require.NoError(t, s.HandleSubClose(f.ctx, protocol.SubClose{SubID: subID}))
	f.publish(t, "orders", bson.D{{Key: "n", Value: 3}})

	s2, rec2 := f.open(t)
	require.NoError(t, s2.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders", DurableID: "billing"}))
	sub2 := rec2.subResponse(t, 2).SubID
	resumed := rec2.waitRecevs(t, 2)
	assert.Equal(t, int64(3), resumed[0].Pos)
	assert.Equal(t, int64(4), resumed[1].Pos)

	// UNSUBSCRIBE forgets it
	require.NoError(t, s2.HandleUnsubscribe(f.ctx, protocol.Unsubscribe{RequestID: 3, SubID: sub2}))
	assert.True(t, rec2.response(t, 3).OK)
	_, found, err = f.store.LoadPosition(f.ctx, "orders", "billing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders"}))
	subID := rec.subResponse(t, 2).SubID
	require.NoError(t, s.HandleUnsubscribe(f.ctx, protocol.Unsubscribe{RequestID: 3, SubID: subID}))
	assert.True(t, rec.response(t, 3).OK)

	f.publish(t, "orders", bson.D{{Key: "n", Value: 1}})
	assert.Never(t, func() bool {
		return len(framesOf[protocol.Recev](rec)) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, s.HandleUnsubscribe(f.ctx, protocol.Unsubscribe{RequestID: 4, SubID: subID}))
	assert.Equal(t, protocol.ErrCodeUnknownSubscription, rec.response(t, 4).ErrCode)

	// trailing acks are ignored
	require.NoError(t, s.HandleAckEv(f.ctx, protocol.AckEv{SubID: subID, Bytes: 10, Pos: 1}))
}

func TestSubscribe_LogEndReportsSubClose(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "orders")
	s, rec := f.open(t)

	require.NoError(t, s.HandleSubscribe(f.ctx, protocol.Subscribe{RequestID: 2, Channel: "orders"}))
	subID := rec.subResponse(t, 2).SubID

	require.NoError(t, f.log.Close())
	require.Eventually(t, func() bool {
		return len(framesOf[protocol.SubClose](rec)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	closed := framesOf[protocol.SubClose](rec)[0]
	assert.Equal(t, subID, closed.SubID)
	assert.Equal(t, protocol.ErrCodeInternal, closed.ErrCode)

	require.NoError(t, s.HandleUnsubscribe(f.ctx, protocol.Unsubscribe{RequestID: 3, SubID: subID}))
	assert.Equal(t, protocol.ErrCodeUnknownSubscription, rec.response(t, 3).ErrCode)
}
