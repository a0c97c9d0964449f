package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRegistersAndAutoJoins(t *testing.T) {
	env := newTestEnv(t)
	out := &recordingOutbox{}
	id := env.hub.Open(out)
	assert.Equal(t, StateConnecting, env.hub.State(id))

	require.NoError(t, env.hub.Authenticate(context.Background(), id, "tok-staff"))
	assert.Equal(t, StateAuthenticated, env.hub.State(id))

	acks := out.ofType(t, MsgAuthenticated)
	require.Len(t, acks, 1)
	assert.Equal(t, "P2", acks[0]["principal"])
	assert.Equal(t, "staff", acks[0]["role"])
	assert.ElementsMatch(t, []any{"system", "notifications", "dashboard", "booking_updates"}, acks[0]["channels"])
	assert.Contains(t, acks[0]["permissions"], "booking:create")

	info, ok := env.registry.Connection(id)
	require.True(t, ok)
	assert.Equal(t, "P2", info.PrincipalID)
	assert.Equal(t, []string{"P2"}, env.hub.ChannelMembership(ChannelSystem))

	online := out.ofType(t, MsgUserOnline)
	require.Len(t, online, 1, "the system channel sees the new principal")
	assert.Equal(t, "P2", online[0]["principal"])
}

func TestAuthenticationFailureLeavesNoRegistryEntry(t *testing.T) {
	env := newTestEnv(t)
	observerID, observer := env.connect(t, "tok-admin")
	observer.reset()

	out := &recordingOutbox{}
	id := env.hub.Open(out)
	err := env.hub.Authenticate(context.Background(), id, "tok-forged")
	require.ErrorIs(t, err, ErrAuthentication)

	errs := out.ofType(t, MsgAuthError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid or expired credential", errs[0]["message"])
	assert.Equal(t, StateDisconnected, env.hub.State(id))
	assert.Equal(t, 1, env.registry.Len())
	_, ok := env.registry.Connection(id)
	assert.False(t, ok)
	assert.Empty(t, observer.envelopes(t), "no presence for rejected connections")

	env.hub.Disconnect(id, nil)
	assert.Equal(t, StateAuthenticated, env.hub.State(observerID))
	assert.Empty(t, observer.envelopes(t))
}

func TestAuthenticationUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.authority.err = errors.New("redis down")

	out := &recordingOutbox{}
	id := env.hub.Open(out)
	err := env.hub.Authenticate(context.Background(), id, "tok-user")
	require.ErrorIs(t, err, ErrAuthentication)

	errs := out.ofType(t, MsgAuthError)
	require.Len(t, errs, 1)
	assert.Equal(t, "authentication unavailable", errs[0]["message"])
	assert.Zero(t, env.registry.Len())
}

func TestAuthenticateTwice(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-user")
	out.reset()

	require.NoError(t, env.hub.Authenticate(context.Background(), id, "tok-admin"))
	errs := out.ofType(t, MsgAuthError)
	require.Len(t, errs, 1)
	assert.Equal(t, "already authenticated", errs[0]["message"])

	info, ok := env.registry.Connection(id)
	require.True(t, ok)
	assert.Equal(t, "user", info.Role)
}

func TestJoinDeniedWithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-user")
	out.reset()
	before, _ := env.registry.Connection(id)

	const retries = 5
	for i := 0; i < retries; i++ {
		require.ErrorIs(t, env.hub.Join(id, "financial_updates"), ErrAccessDenied, "attempt %d", i)
		assert.Empty(t, env.hub.ChannelMembership(ChannelFinancialUpdates))
		after, _ := env.registry.Connection(id)
		assert.Equal(t, before.Channels, after.Channels)
	}

	errs := out.ofType(t, MsgRoomError)
	require.Len(t, errs, retries)
	for _, e := range errs {
		assert.Equal(t, "financial_updates", e["channel"])
		assert.Equal(t, "access denied", e["message"])
	}
	assert.Empty(t, out.ofType(t, MsgRoomJoined))
}

func TestJoinGrantedAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-manager")
	require.NoError(t, env.hub.Leave(id, "financial_updates"))
	assert.Empty(t, env.hub.ChannelMembership(ChannelFinancialUpdates))
	out.reset()

	require.NoError(t, env.hub.Join(id, "financial_updates"))
	require.NoError(t, env.hub.Join(id, "financial_updates"))

	assert.Len(t, out.ofType(t, MsgRoomJoined), 2)
	assert.Equal(t, []string{"P3"}, env.hub.ChannelMembership(ChannelFinancialUpdates))
	assert.Len(t, env.registry.channelTargets(ChannelFinancialUpdates), 1)
}

func TestJoinUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-admin")
	out.reset()

	require.ErrorIs(t, env.hub.Join(id, "lobby"), ErrUnknownChannel)
	errs := out.ofType(t, MsgRoomError)
	require.Len(t, errs, 1)
	assert.Equal(t, "lobby", errs[0]["channel"])

	require.ErrorIs(t, env.hub.Leave(id, "lobby"), ErrUnknownChannel)
}

func TestActionsRequireAuthentication(t *testing.T) {
	env := newTestEnv(t)
	out := &recordingOutbox{}
	id := env.hub.Open(out)

	assert.ErrorIs(t, env.hub.Join(id, "system"), ErrNotAuthenticated)
	assert.ErrorIs(t, env.hub.Leave(id, "system"), ErrNotAuthenticated)
	assert.ErrorIs(t, env.hub.SubscribeDashboard(id, nil), ErrNotAuthenticated)
	assert.ErrorIs(t, env.hub.Activity(id, nil), ErrNotAuthenticated)

	assert.Len(t, out.ofType(t, MsgAuthError), 4)
	assert.Zero(t, env.registry.Len())
	assert.Equal(t, StateConnecting, env.hub.State(id))
}

func TestLeaveAcknowledges(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-user")
	out.reset()

	require.NoError(t, env.hub.Leave(id, "dashboard"))
	require.NoError(t, env.hub.Leave(id, "dashboard"))
	left := out.ofType(t, MsgRoomLeft)
	require.Len(t, left, 2)
	assert.Equal(t, "dashboard", left[0]["channel"])
	assert.Empty(t, env.hub.ChannelMembership(ChannelDashboard))
}

func TestDisconnectKeepsPrincipalWhileAnotherConnectionLives(t *testing.T) {
	env := newTestEnv(t)
	_, observer := env.connect(t, "tok-admin")
	c1, _ := env.connect(t, "tok-p123")
	c2, _ := env.connect(t, "tok-p123")
	observer.reset()

	env.hub.Disconnect(c1, nil)
	assert.Contains(t, env.hub.ChannelMembership(ChannelSystem), "P123")
	assert.Empty(t, observer.ofType(t, MsgUserOffline))

	env.hub.Disconnect(c2, nil)
	offline := observer.ofType(t, MsgUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "P123", offline[0]["principal"])
	for _, ch := range Channels() {
		assert.NotContains(t, env.hub.ChannelMembership(ch), "P123")
	}
	for _, p := range env.hub.ConnectedPrincipals() {
		assert.NotEqual(t, "P123", p.PrincipalID)
	}
}

func TestOfflineAnnouncedOnceForManyConnections(t *testing.T) {
	env := newTestEnv(t)
	_, observer := env.connect(t, "tok-admin")
	ids := make([]string, 4)
	for i := range ids {
		ids[i], _ = env.connect(t, "tok-p123")
	}
	observer.reset()

	for _, id := range ids {
		env.hub.Disconnect(id, nil)
		env.hub.Disconnect(id, errors.New("again"))
	}
	assert.Len(t, observer.ofType(t, MsgUserOffline), 1)
	assert.Equal(t, StateDisconnected, env.hub.State(ids[0]))
}

func TestDisconnectDuringOutstandingAuthentication(t *testing.T) {
	env := newTestEnv(t)
	_, observer := env.connect(t, "tok-admin")
	observer.reset()

	env.authority.entered = make(chan struct{})
	env.authority.gate = make(chan struct{})

	out := &recordingOutbox{}
	id := env.hub.Open(out)
	done := make(chan error, 1)
	go func() {
		done <- env.hub.Authenticate(context.Background(), id, "tok-user")
	}()

	<-env.authority.entered
	assert.Equal(t, StateAuthenticating, env.hub.State(id))
	env.hub.Disconnect(id, nil)
	close(env.authority.gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnknownConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("authenticate did not return")
	}
	assert.Equal(t, 1, env.registry.Len())
	assert.NotContains(t, env.hub.ChannelMembership(ChannelSystem), "P1")
	assert.Empty(t, observer.envelopes(t), "no presence for a connection that closed mid-auth")
	assert.Empty(t, out.ofType(t, MsgAuthenticated))
}

func TestCancelledVerificationAfterDisconnectIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.authority.entered = make(chan struct{})
	env.authority.gate = make(chan struct{})
	env.authority.err = context.Canceled

	out := &recordingOutbox{}
	id := env.hub.Open(out)
	done := make(chan error, 1)
	go func() {
		done <- env.hub.Authenticate(context.Background(), id, "tok-user")
	}()
	<-env.authority.entered
	env.hub.Disconnect(id, nil)
	close(env.authority.gate)

	assert.ErrorIs(t, <-done, ErrUnknownConnection)
	assert.Empty(t, out.envelopes(t))
	assert.Zero(t, env.registry.Len())
}

func TestJoinRacingDisconnectOfSameConnection(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		_, observer := env.connect(t, "tok-admin")
		id, _ := env.connect(t, "tok-user")
		observer.reset()

		start := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 25; i++ {
					_ = env.hub.Join(id, "dashboard")
					_ = env.hub.Leave(id, "booking_updates")
					_ = env.hub.Join(id, "booking_updates")
					_ = env.registry.Join(id, ChannelNotifications)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			env.hub.Disconnect(id, nil)
		}()
		close(start)
		wg.Wait()

		for _, ch := range Channels() {
			assert.NotContains(t, env.hub.ChannelMembership(ch), "P1", "round %d channel %s", round, ch)
		}
		_, ok := env.registry.Connection(id)
		assert.False(t, ok)
		assert.Equal(t, 1, env.registry.Len(), "only the observer remains")
		assert.Equal(t, StateDisconnected, env.hub.State(id))
		offline := observer.ofType(t, MsgUserOffline)
		require.Len(t, offline, 1, "round %d", round)
		assert.Equal(t, "P1", offline[0]["principal"])
	}
}

func TestRegistryJoinRacingDeregister(t *testing.T) {
	reg := newTestRegistry(t)
	for round := 0; round < 50; round++ {
		joinedConnection(t, reg, "c1", "P1", "user", viewerPerms, ChannelSystem)

		start := make(chan struct{})
		lastSeen := make(chan bool, 1)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 20; i++ {
				_ = reg.Join("c1", ChannelDashboard)
				_, _ = reg.Leave("c1", ChannelDashboard)
				_ = reg.Join("c1", ChannelBookingUpdates)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			_, last, ok := reg.Deregister("c1")
			lastSeen <- ok && last
		}()
		close(start)
		wg.Wait()

		assert.True(t, <-lastSeen)
		assert.Zero(t, reg.Len())
		for _, ch := range Channels() {
			assert.Empty(t, reg.ChannelMembership(ch), "round %d channel %s", round, ch)
			assert.Empty(t, reg.channelTargets(ch))
		}
	}
}

func TestAuthenticateInProgressRejectsSecondAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.authority.entered = make(chan struct{})
	env.authority.gate = make(chan struct{})

	out := &recordingOutbox{}
	id := env.hub.Open(out)
	done := make(chan error, 1)
	go func() {
		done <- env.hub.Authenticate(context.Background(), id, "tok-user")
	}()
	<-env.authority.entered

	require.NoError(t, env.hub.Authenticate(context.Background(), id, "tok-user"))
	errs := out.ofType(t, MsgAuthError)
	require.Len(t, errs, 1)
	assert.Equal(t, "authentication in progress", errs[0]["message"])

	close(env.authority.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateAuthenticated, env.hub.State(id))
}

func TestActivityBroadcastsOnSystem(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.connect(t, "tok-user")
	_, observer := env.connect(t, "tok-admin")
	observer.reset()

	require.NoError(t, env.hub.Activity(id, json.RawMessage(`{"page":"bookings"}`)))
	updates := observer.ofType(t, MsgActivityUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "P1", updates[0]["principal"])
	assert.Equal(t, map[string]any{"page": "bookings"}, updates[0]["activity"])
}

func TestSubscribeDashboardAcks(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-user")
	out.reset()

	require.NoError(t, env.hub.SubscribeDashboard(id, map[string]any{"property": "p-1"}))
	acks := out.ofType(t, MsgDashboardSubscribed)
	require.Len(t, acks, 1)
	assert.Equal(t, map[string]any{"property": "p-1"}, acks[0]["filters"])

	out.reset()
	require.NoError(t, env.hub.SubscribeDashboard(id, nil))
	acks = out.ofType(t, MsgDashboardSubscribed)
	require.Len(t, acks, 1)
	assert.Equal(t, map[string]any{}, acks[0]["filters"])
}

func TestHandleDispatchesFrames(t *testing.T) {
	env := newTestEnv(t)
	out := &recordingOutbox{}
	id := env.hub.Open(out)
	ctx := context.Background()

	require.NoError(t, env.hub.Handle(ctx, id, frame(t, MsgAuthenticate, AuthenticatePayload{Credential: "tok-manager"})))
	require.NoError(t, env.hub.Handle(ctx, id, frame(t, MsgLeaveRoom, RoomPayload{Channel: "dashboard"})))
	require.NoError(t, env.hub.Handle(ctx, id, frame(t, MsgJoinRoom, RoomPayload{Channel: "dashboard"})))
	require.NoError(t, env.hub.Handle(ctx, id, frame(t, MsgSubscribeDashboard, nil)))
	require.NoError(t, env.hub.Handle(ctx, id, frame(t, MsgUserActivity, ActivityPayload{Payload: json.RawMessage(`"typing"`)})))

	assert.Equal(t, []MessageType{
		MsgAuthenticated, MsgUserOnline, MsgRoomLeft, MsgRoomJoined, MsgDashboardSubscribed, MsgActivityUpdate,
	}, out.types(t))

	err := env.hub.Handle(ctx, id, Envelope{Type: "shout"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = env.hub.Handle(ctx, id, frame(t, MsgJoinRoom, map[string]string{}))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = env.hub.Handle(ctx, id, frame(t, MsgAuthenticate, map[string]string{}))
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.NotErrorIs(t, err, ErrAuthentication, "a malformed re-authentication must not drop a live connection")
	assert.Equal(t, StateAuthenticated, env.hub.State(id))
}

func TestHandleChecksAuthenticationBeforePayload(t *testing.T) {
	env := newTestEnv(t)
	out := &recordingOutbox{}
	id := env.hub.Open(out)
	ctx := context.Background()

	malformed := []Envelope{
		{Type: MsgJoinRoom},
		{Type: MsgLeaveRoom, Data: json.RawMessage(`{"channel":7}`)},
		{Type: MsgSubscribeDashboard, Data: json.RawMessage(`{"filters":5}`)},
		{Type: MsgUserActivity, Data: json.RawMessage(`[`)},
	}
	for _, f := range malformed {
		assert.ErrorIs(t, env.hub.Handle(ctx, id, f), ErrNotAuthenticated, string(f.Type))
	}
	assert.Equal(t, []MessageType{MsgAuthError, MsgAuthError, MsgAuthError, MsgAuthError}, out.types(t))
	assert.Equal(t, StateConnecting, env.hub.State(id))
}

func TestHandleRepliesToMalformedPayloads(t *testing.T) {
	env := newTestEnv(t)
	id, out := env.connect(t, "tok-user")
	out.reset()
	ctx := context.Background()

	assert.ErrorIs(t, env.hub.Handle(ctx, id, Envelope{Type: MsgJoinRoom}), ErrInvalidMessage)
	assert.ErrorIs(t, env.hub.Handle(ctx, id, Envelope{Type: MsgSubscribeDashboard, Data: json.RawMessage(`{"filters":5}`)}), ErrInvalidMessage)
	assert.ErrorIs(t, env.hub.Handle(ctx, id, Envelope{Type: MsgUserActivity, Data: json.RawMessage(`"x"`)}), ErrInvalidMessage)

	assert.Equal(t, []MessageType{MsgRoomError, MsgError, MsgError}, out.types(t))
	errs := out.ofType(t, MsgError)
	assert.Equal(t, "subscribe_dashboard", errs[0]["request"])
	assert.Equal(t, "user_activity", errs[1]["request"])
	assert.Equal(t, StateAuthenticated, env.hub.State(id))
}

func TestHandleMalformedAuthenticateClosesPendingConnection(t *testing.T) {
	env := newTestEnv(t)
	out := &recordingOutbox{}
	id := env.hub.Open(out)

	err := env.hub.Handle(context.Background(), id, Envelope{Type: MsgAuthenticate})
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Len(t, out.ofType(t, MsgAuthError), 1)
	assert.Equal(t, StateDisconnected, env.hub.State(id))
}

func TestSendDashboardUpdateReachesSubscribers(t *testing.T) {
	env := newTestEnv(t)
	_, staff := env.connect(t, "tok-staff")
	_, integration := env.connect(t, "tok-ghost")
	staff.reset()
	integration.reset()

	d := env.hub.SendDashboardUpdate(UpdateEvent{Kind: KindBookingUpdate, Data: json.RawMessage(`{}`)})
	assert.Equal(t, Delivery{Attempted: 1}, d)
	assert.Len(t, staff.ofType(t, MsgDashboardUpdate), 1)
	assert.Empty(t, integration.envelopes(t))

	d = env.hub.BroadcastToPrincipal(UpdateEvent{Kind: KindAlert}, "P5")
	assert.Equal(t, Delivery{Attempted: 1}, d)
	d = env.hub.BroadcastToRole(UpdateEvent{Kind: KindAlert}, "staff")
	assert.Equal(t, Delivery{Attempted: 1}, d)
}

func TestHubMetrics(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	env.hub.metrics = metrics
	env.router.metrics = metrics

	id, _ := env.connect(t, "tok-user")
	_ = env.hub.Join(id, "financial_updates")
	bad := env.hub.Open(&recordingOutbox{})
	_ = env.hub.Authenticate(context.Background(), bad, "nope")

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "|" + lp.GetValue()
			}
			if m.GetGauge() != nil {
				values[key] = m.GetGauge().GetValue()
			}
			if m.GetCounter() != nil {
				values[key] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["odyssey_realtime_connections"])
	assert.Equal(t, 1.0, values["odyssey_realtime_auth_total|success"])
	assert.Equal(t, 1.0, values["odyssey_realtime_auth_total|failure"])
	assert.Equal(t, 1.0, values["odyssey_realtime_joins_total|financial_updates|denied"])

	env.hub.Disconnect(id, nil)
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "odyssey_realtime_connections" {
			assert.Zero(t, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
