package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	"github.com/castlab/studio/gateway"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/wsevent"
	"github.com/castlab/studio/rooms"
	"github.com/castlab/studio/users"
)

type sentEvent struct {
	event string
	data  interface{}
}

// mockConn records outbound events instead of writing to a socket.
type mockConn struct {
	mu    sync.Mutex
	sctx  wsevent.SessionContext[session]
	sends []sentEvent
}

func newMockConn(sess *session) *mockConn {
	c := &mockConn{}
	c.sctx = wsevent.NewContext[session](c, sess)
	return c
}

func (c *mockConn) Send(_ context.Context, event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sentEvent{event: event, data: data})
	return nil
}

func (c *mockConn) Open(context.Context) error               { return nil }
func (c *mockConn) Context() wsevent.SessionContext[session] { return c.sctx }
func (c *mockConn) Close() error                             { return nil }

func (c *mockConn) sent() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEvent, len(c.sends))
	copy(out, c.sends)
	return out
}

func (c *mockConn) lastEvent(event string) (sentEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sends) - 1; i >= 0; i-- {
		if c.sends[i].event == event {
			return c.sends[i], true
		}
	}
	return sentEvent{}, false
}

func (c *mockConn) countEvent(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sends {
		if e.event == event {
			n++
		}
	}
	return n
}

type stubUserStore struct {
	users map[string]*users.User
}

func (s *stubUserStore) Resolve(_ context.Context, userID string) (*users.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

type participantCall struct {
	roomID string
	p      rooms.Participant
}

type closeCall struct {
	roomID string
	connID string
	leftAt time.Time
}

type activeCall struct {
	roomID string
	active bool
}

type stubRoomStore struct {
	mu          sync.Mutex
	rooms       map[string]*rooms.Room
	appendCalls []participantCall
	closeCalls  []closeCall
	activeCalls []activeCall
}

func (s *stubRoomStore) Resolve(_ context.Context, roomID string) (*rooms.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, rooms.ErrNotFound
	}
	return r, nil
}

func (s *stubRoomStore) Create(_ context.Context, room *rooms.Room) (*rooms.Room, error) {
	return room, nil
}

func (s *stubRoomStore) ListByUser(context.Context, string) ([]*rooms.Room, error) {
	return nil, nil
}

func (s *stubRoomStore) Update(_ context.Context, roomID string, _ rooms.Update) (*rooms.Room, error) {
	return s.Resolve(context.Background(), roomID)
}

func (s *stubRoomStore) Delete(context.Context, string) error { return nil }

func (s *stubRoomStore) AppendParticipant(_ context.Context, roomID string, p rooms.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls = append(s.appendCalls, participantCall{roomID: roomID, p: p})
	return nil
}

func (s *stubRoomStore) CloseParticipant(_ context.Context, roomID, connectionID string, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls = append(s.closeCalls, closeCall{roomID: roomID, connID: connectionID, leftAt: leftAt})
	return nil
}

func (s *stubRoomStore) SetActive(_ context.Context, roomID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCalls = append(s.activeCalls, activeCall{roomID: roomID, active: active})
	return nil
}

func (s *stubRoomStore) appended() []participantCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]participantCall, len(s.appendCalls))
	copy(out, s.appendCalls)
	return out
}

func (s *stubRoomStore) closed() []closeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]closeCall, len(s.closeCalls))
	copy(out, s.closeCalls)
	return out
}

func (s *stubRoomStore) deactivated() []activeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]activeCall, len(s.activeCalls))
	copy(out, s.activeCalls)
	return out
}

type stubGuard struct {
	mu       sync.Mutex
	allow    bool
	acquires []string
	releases []string
}

func (g *stubGuard) Start(context.Context) error { return nil }
func (g *stubGuard) Stop()                       {}

func (g *stubGuard) Acquire(_ context.Context, userID, connID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquires = append(g.acquires, userID+":"+connID)
	return g.allow, nil
}

func (g *stubGuard) Release(_ context.Context, userID, connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases = append(g.releases, userID+":"+connID)
	return nil
}

func (g *stubGuard) released() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.releases))
	copy(out, g.releases)
	return out
}

type SignalServerSuite struct {
	suite.Suite
	server    *Server
	userStore *stubUserStore
	roomStore *stubRoomStore
	guard     *stubGuard
	keeper    *Housekeeper
	clock     *clockwork.FakeClock
	nextConn  int
}

func TestSignalServerSuite(t *testing.T) {
	suite.Run(t, new(SignalServerSuite))
}

func (s *SignalServerSuite) SetupTest() {
	logger := log.NewTest(s.T())
	s.clock = clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	s.userStore = &stubUserStore{users: map[string]*users.User{
		"u1": {ID: "u1", FirstName: "Alice", LastName: "Chen", ProfileImage: "img1"},
		"u2": {ID: "u2", FirstName: "Bob", LastName: "Lee"},
	}}
	s.roomStore = &stubRoomStore{rooms: map[string]*rooms.Room{
		"r1": {ID: "r1", Name: "Standup"},
		"r2": {ID: "r2", Name: "Retro"},
	}}
	s.guard = &stubGuard{allow: true}
	s.keeper = NewHousekeeper(s.roomStore, 100*time.Millisecond, logger)
	s.nextConn = 0

	s.server = NewServer(
		s.userStore,
		s.roomStore,
		s.guard,
		s.keeper,
		time.Second,
		s.clock,
		logger,
	)
}

func (s *SignalServerSuite) TearDownTest() {
	s.keeper.Stop()
}

func (s *SignalServerSuite) connect() *mockConn {
	s.nextConn++
	conn := newMockConn(&session{
		reqCtx:      context.Background(),
		connID:      fmt.Sprintf("conn-%d", s.nextConn),
		chatLimiter: rate.NewLimiter(rate.Inf, 1),
	})
	s.server.Connected(conn.sctx)
	return conn
}

func (s *SignalServerSuite) join(conn *mockConn, userID, roomID string) error {
	raw := json.RawMessage(fmt.Sprintf(`{"roomId":%q,"userId":%q}`, roomID, userID))
	return s.server.handleJoinRoom(conn.sctx, &raw)
}

func (s *SignalServerSuite) TestJoinSendsEmptyListingToFirstMember() {
	conn := s.connect()

	s.Require().NoError(s.join(conn, "u1", "r1"))

	ev, ok := conn.lastEvent(gateway.EventRoomUsers)
	s.Require().True(ok)
	s.Empty(ev.data.([]gateway.RoomUser))

	s.Eventually(func() bool {
		return len(s.roomStore.appended()) == 1
	}, time.Second, 10*time.Millisecond)
	call := s.roomStore.appended()[0]
	s.Equal("r1", call.roomID)
	s.Equal("u1", call.p.UserID)
	s.Equal(conn.sctx.Get().connID, call.p.ConnectionID)
}

func (s *SignalServerSuite) TestSecondJoinNotifiesExistingMembers() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	// the joiner sees the earlier member
	ev, ok := connB.lastEvent(gateway.EventRoomUsers)
	s.Require().True(ok)
	listing := ev.data.([]gateway.RoomUser)
	s.Require().Len(listing, 1)
	s.Equal(connA.sctx.Get().connID, listing[0].ConnectionID)
	s.Equal("u1", listing[0].UserID)
	s.True(listing[0].MediaState.Audio)

	// the earlier member learns about the joiner
	ev, ok = connA.lastEvent(gateway.EventUserJoined)
	s.Require().True(ok)
	joined := ev.data.(*gateway.UserJoinedData)
	s.Equal(connB.sctx.Get().connID, joined.ConnectionID)
	s.Equal("Bob Lee", joined.User.Name)

	// the joiner must not be told about itself
	_, ok = connB.lastEvent(gateway.EventUserJoined)
	s.False(ok)
}

func (s *SignalServerSuite) TestJoinUnknownUser() {
	conn := s.connect()

	err := s.join(conn, "ghost", "r1")
	s.Require().Error(err)

	var evErr *wsevent.Error
	s.Require().ErrorAs(err, &evErr)
	s.Equal("User not found", evErr.Message)
	s.Empty(s.server.presence.Members("r1"))
}

func (s *SignalServerSuite) TestJoinUnknownRoom() {
	conn := s.connect()

	err := s.join(conn, "u1", "ghost")
	s.Require().Error(err)

	var evErr *wsevent.Error
	s.Require().ErrorAs(err, &evErr)
	s.Equal("Room not found", evErr.Message)
}

func (s *SignalServerSuite) TestJoinRejectedWhileUserConnectedElsewhere() {
	s.guard.allow = false
	conn := s.connect()

	err := s.join(conn, "u1", "r1")
	s.Require().Error(err)

	var evErr *wsevent.Error
	s.Require().ErrorAs(err, &evErr)
	s.Empty(s.server.presence.Members("r1"))
}

func (s *SignalServerSuite) TestRejoinSwitchesRooms() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))
	s.Require().NoError(s.join(connA, "u1", "r2"))

	// the old room saw a departure
	ev, ok := connB.lastEvent(gateway.EventUserLeft)
	s.Require().True(ok)
	s.Equal(connA.sctx.Get().connID, ev.data.(*gateway.UserLeftData).ConnectionID)

	s.Len(s.server.presence.Members("r1"), 1)
	s.Len(s.server.presence.Members("r2"), 1)
	s.Equal("r2", connA.sctx.Get().roomID)
}

func (s *SignalServerSuite) TestRejoinAsDifferentUserReleasesOldLock() {
	conn := s.connect()

	s.Require().NoError(s.join(conn, "u1", "r1"))
	s.Require().NoError(s.join(conn, "u2", "r2"))

	connID := conn.sctx.Get().connID
	s.Contains(s.guard.released(), "u1:"+connID)
	s.Equal("u2", conn.sctx.Get().userID)

	// same identity re-joining keeps its lock
	s.Require().NoError(s.join(conn, "u2", "r1"))
	s.NotContains(s.guard.released(), "u2:"+connID)
}

func (s *SignalServerSuite) TestLeaveBroadcastsAndClosesRoster() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	s.Require().NoError(s.server.handleLeaveRoom(connA.sctx, nil))

	ev, ok := connB.lastEvent(gateway.EventUserLeft)
	s.Require().True(ok)
	s.Equal(connA.sctx.Get().connID, ev.data.(*gateway.UserLeftData).ConnectionID)
	s.Equal("", connA.sctx.Get().roomID)

	s.Eventually(func() bool {
		return len(s.roomStore.closed()) == 1
	}, time.Second, 10*time.Millisecond)
	call := s.roomStore.closed()[0]
	s.Equal("r1", call.roomID)
	s.Equal(connA.sctx.Get().connID, call.connID)
}

func (s *SignalServerSuite) TestLeaveWithoutRoomIsNoop() {
	conn := s.connect()
	s.Require().NoError(s.server.handleLeaveRoom(conn.sctx, nil))
	s.Empty(conn.sent())
}

func (s *SignalServerSuite) TestLastLeaveDeactivatesRoom() {
	conn := s.connect()

	s.Require().NoError(s.join(conn, "u1", "r1"))
	s.Require().NoError(s.server.handleLeaveRoom(conn.sctx, nil))

	s.Eventually(func() bool {
		calls := s.roomStore.deactivated()
		return len(calls) == 1 && calls[0].roomID == "r1" && !calls[0].active
	}, time.Second, 10*time.Millisecond)
}

func (s *SignalServerSuite) TestRejoinCancelsDeactivation() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.server.handleLeaveRoom(connA.sctx, nil))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	time.Sleep(300 * time.Millisecond)
	s.Empty(s.roomStore.deactivated())
}

func (s *SignalServerSuite) TestOfferRelayedToTarget() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	raw := json.RawMessage(fmt.Sprintf(
		`{"to":%q,"offer":{"type":"offer","sdp":"v=0"}}`,
		connB.sctx.Get().connID,
	))
	s.Require().NoError(s.server.handleOffer(connA.sctx, &raw))

	ev, ok := connB.lastEvent(gateway.EventOffer)
	s.Require().True(ok)
	offer := ev.data.(*gateway.OfferData)
	s.Equal(connA.sctx.Get().connID, offer.From)
	s.Empty(offer.To)
	s.JSONEq(`{"type":"offer","sdp":"v=0"}`, string(*offer.Offer))
}

func (s *SignalServerSuite) TestAnswerAndCandidateRelayed() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	raw := json.RawMessage(fmt.Sprintf(
		`{"to":%q,"answer":{"type":"answer"}}`, connA.sctx.Get().connID))
	s.Require().NoError(s.server.handleAnswer(connB.sctx, &raw))

	ev, ok := connA.lastEvent(gateway.EventAnswer)
	s.Require().True(ok)
	s.Equal(connB.sctx.Get().connID, ev.data.(*gateway.AnswerData).From)

	raw = json.RawMessage(fmt.Sprintf(
		`{"to":%q,"candidate":{"candidate":"cand"}}`, connB.sctx.Get().connID))
	s.Require().NoError(s.server.handleIceCandidate(connA.sctx, &raw))

	ev, ok = connB.lastEvent(gateway.EventIceCandidate)
	s.Require().True(ok)
	s.Equal(connA.sctx.Get().connID, ev.data.(*gateway.IceCandidateData).From)
}

func (s *SignalServerSuite) TestRelayDroppedWhenTargetGone() {
	connA := s.connect()
	s.Require().NoError(s.join(connA, "u1", "r1"))

	raw := json.RawMessage(`{"to":"missing","offer":{"type":"offer"}}`)
	s.Require().NoError(s.server.handleOffer(connA.sctx, &raw))

	_, ok := connA.lastEvent(gateway.EventOffer)
	s.False(ok)
}

func (s *SignalServerSuite) TestMediaStateChangeBroadcast() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	raw := json.RawMessage(`{"audio":false,"video":true}`)
	s.Require().NoError(s.server.handleMediaStateChange(connB.sctx, &raw))

	ev, ok := connA.lastEvent(gateway.EventUserMediaChange)
	s.Require().True(ok)
	change := ev.data.(*gateway.UserMediaChangeData)
	s.Equal(connB.sctx.Get().connID, change.ConnectionID)
	s.False(change.MediaState.Audio)
	s.True(change.MediaState.Video)

	// a later joiner sees the updated state in the listing
	connC := s.connect()
	s.Require().NoError(s.join(connC, "u1", "r1"))
	evC, ok := connC.lastEvent(gateway.EventRoomUsers)
	s.Require().True(ok)
	for _, entry := range evC.data.([]gateway.RoomUser) {
		if entry.ConnectionID == connB.sctx.Get().connID {
			s.False(entry.MediaState.Audio)
		}
	}
}

func (s *SignalServerSuite) TestMediaStateChangeWithoutRoomIsNoop() {
	conn := s.connect()
	raw := json.RawMessage(`{"audio":false,"video":false}`)
	s.Require().NoError(s.server.handleMediaStateChange(conn.sctx, &raw))
	s.Empty(conn.sent())
}

func (s *SignalServerSuite) TestSendMessageEchoesToAllMembers() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	raw := json.RawMessage(`"hello there"`)
	s.Require().NoError(s.server.handleSendMessage(connA.sctx, &raw))

	for _, conn := range []*mockConn{connA, connB} {
		ev, ok := conn.lastEvent(gateway.EventNewMessage)
		s.Require().True(ok)
		msg := ev.data.(*gateway.NewMessageData)
		s.Equal("hello there", msg.Text)
		s.Equal("Alice Chen", msg.Sender.Name)
		s.Equal(s.clock.Now().UTC(), msg.Timestamp)
	}
}

func (s *SignalServerSuite) TestSendMessageIgnoredWhenNotJoined() {
	conn := s.connect()
	raw := json.RawMessage(`"hello"`)
	s.Require().NoError(s.server.handleSendMessage(conn.sctx, &raw))
	s.Empty(conn.sent())
}

func (s *SignalServerSuite) TestSendMessageRateLimited() {
	connA := s.connect()
	s.Require().NoError(s.join(connA, "u1", "r1"))

	// one message allowed, then the limiter kicks in
	connA.sctx.Get().chatLimiter = rate.NewLimiter(0, 1)

	raw := json.RawMessage(`"first"`)
	s.Require().NoError(s.server.handleSendMessage(connA.sctx, &raw))
	raw = json.RawMessage(`"second"`)
	s.Require().NoError(s.server.handleSendMessage(connA.sctx, &raw))

	s.Equal(1, connA.countEvent(gateway.EventNewMessage))
}

func (s *SignalServerSuite) TestDisconnectedLeavesRoomAndReleasesLock() {
	connA := s.connect()
	connB := s.connect()

	s.Require().NoError(s.join(connA, "u1", "r1"))
	s.Require().NoError(s.join(connB, "u2", "r1"))

	s.server.Disconnected(connA.sctx)

	ev, ok := connB.lastEvent(gateway.EventUserLeft)
	s.Require().True(ok)
	s.Equal(connA.sctx.Get().connID, ev.data.(*gateway.UserLeftData).ConnectionID)

	s.Nil(s.server.presence.Lookup(connA.sctx.Get().connID))
	s.Contains(s.guard.released(), "u1:"+connA.sctx.Get().connID)
}

func (s *SignalServerSuite) TestStats() {
	connA := s.connect()
	s.Require().NoError(s.join(connA, "u1", "r1"))

	stats := s.server.Stats()
	s.Equal(1, stats.Rooms)
	s.Equal(1, stats.Members)
	s.Equal(1, stats.Connections)
}
