package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/castlab/studio/gateway"
	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/wsevent"
	"github.com/castlab/studio/rooms"
	"github.com/castlab/studio/users"
)

const rosterWriteTimeout = 5 * time.Second

// Server is the signaling relay: it tracks live room membership, relays
// negotiation messages between peers and fans room events out to members.
type Server struct {
	wsevent.Handler[session]

	presence  *presenceTable
	userStore users.Store
	roomStore rooms.Store
	guard     ConnectionGuard
	keeper    *Housekeeper

	lookupTimeout time.Duration
	clock         clockwork.Clock
	logger        *log.Logger
}

func NewServer(
	userStore users.Store,
	roomStore rooms.Store,
	guard ConnectionGuard,
	keeper *Housekeeper,
	lookupTimeout time.Duration,
	clock clockwork.Clock,
	logger *log.Logger,
) *Server {
	s := &Server{
		Handler:       wsevent.NewHandler[session](logger),
		presence:      newPresenceTable(clock, logger),
		userStore:     userStore,
		roomStore:     roomStore,
		guard:         guard,
		keeper:        keeper,
		lookupTimeout: lookupTimeout,
		clock:         clock,
		logger:        logger,
	}

	s.On(gateway.EventJoinRoom, s.handleJoinRoom)
	s.On(gateway.EventLeaveRoom, s.handleLeaveRoom)
	s.On(gateway.EventOffer, s.handleOffer)
	s.On(gateway.EventAnswer, s.handleAnswer)
	s.On(gateway.EventIceCandidate, s.handleIceCandidate)
	s.On(gateway.EventMediaStateChange, s.handleMediaStateChange)
	s.On(gateway.EventSendMessage, s.handleSendMessage)

	return s
}

func (s *Server) Stats() Stats {
	return s.presence.Stats()
}

func (s *Server) handleJoinRoom(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	var req gateway.JoinRoomData
	if err := wsevent.BindData(data, &req); err != nil {
		return err
	}

	sess := sctx.Get()

	ctx, cancel := context.WithTimeout(sess.reqCtx, s.lookupTimeout)
	defer cancel()

	user, err := s.userStore.Resolve(ctx, req.UserID)
	if err != nil {
		return joinLookupError(err, "User not found")
	}

	if _, err := s.roomStore.Resolve(ctx, req.RoomID); err != nil {
		return joinLookupError(err, "Room not found")
	}

	if ok, err := s.guard.Acquire(ctx, req.UserID, sess.connID); err != nil {
		// the guard is advisory, a broken redis must not block joins
		s.logger.Error("Connection guard acquire failed", log.Error(err))
	} else if !ok {
		joinsRejected.Add(ctx, 1)
		return wsevent.ErrPublic("User already connected from another session")
	}

	// a connection re-joining under another identity must not keep the old
	// user's slot held for the lock TTL
	if sess.userID != "" && sess.userID != req.UserID {
		if err := s.guard.Release(ctx, sess.userID, sess.connID); err != nil {
			s.logger.Error("Connection guard release failed",
				log.String("userId", sess.userID),
				log.String("connId", sess.connID),
				log.Error(err),
			)
		}
	}

	// switching rooms leaves the old one first, with the usual departure
	// broadcast and roster close
	if sess.roomID != "" {
		s.leaveRoom(sess)
	}

	sess.userID = req.UserID
	sess.user = user.Summary()
	sess.roomID = req.RoomID

	s.presence.Join(req.RoomID, &roomMember{
		connID: sess.connID,
		userID: sess.userID,
		user:   sess.user,
		media:  gateway.DefaultMediaState(),
		conn:   sctx.Conn(),
	})
	s.keeper.CancelDeactivate(req.RoomID)
	s.appendRosterAsync(req.RoomID, sess)

	// listing first, so the joiner always has the full picture before any
	// incremental updates arrive
	listing := s.roomListing(req.RoomID, sess.connID)
	if err := sctx.Conn().Send(sess.reqCtx, gateway.EventRoomUsers, listing); err != nil {
		s.logger.Error("Failed to send room listing",
			log.String("connId", sess.connID),
			log.Error(err),
		)
	}

	s.presence.Broadcast(req.RoomID, gateway.EventUserJoined, &gateway.UserJoinedData{
		ConnectionID: sess.connID,
		User:         sess.user,
	}, sess.connID)

	joinsTotal.Add(ctx, 1)
	s.logger.Info("User joined room",
		log.String("roomId", req.RoomID),
		log.String("userId", req.UserID),
		log.String("connId", sess.connID),
	)
	return nil
}

func joinLookupError(err error, notFoundMessage string) error {
	switch {
	case errors.Is(err, users.ErrNotFound) || errors.Is(err, rooms.ErrNotFound):
		return wsevent.ErrPublic(notFoundMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return wsevent.ErrPublic("Lookup timed out, try again")
	default:
		return err
	}
}

func (s *Server) roomListing(roomID, exceptConnID string) []gateway.RoomUser {
	members := s.presence.Members(roomID)
	listing := make([]gateway.RoomUser, 0, len(members))
	for _, m := range members {
		if m.connID == exceptConnID {
			continue
		}
		listing = append(listing, gateway.RoomUser{
			ConnectionID: m.connID,
			UserID:       m.userID,
			MediaState:   m.media,
		})
	}
	return listing
}

func (s *Server) handleLeaveRoom(sctx wsevent.SessionContext[session], _ *json.RawMessage) error {
	sess := sctx.Get()
	if sess.roomID == "" {
		return nil
	}
	s.leaveRoom(sess)
	return nil
}

// leaveRoom removes the connection from its room, tells the remaining
// members and closes the roster entry. Safe to call for a connection that
// is not in a room.
func (s *Server) leaveRoom(sess *session) {
	roomID, emptied, ok := s.presence.Remove(sess.connID)
	if !ok {
		sess.roomID = ""
		return
	}

	s.presence.Broadcast(roomID, gateway.EventUserLeft, &gateway.UserLeftData{
		ConnectionID: sess.connID,
	}, "")

	s.closeRosterAsync(roomID, sess.connID)

	if emptied {
		s.keeper.DeferDeactivate(roomID)
	}

	leavesTotal.Add(sess.reqCtx, 1)
	s.logger.Info("User left room",
		log.String("roomId", roomID),
		log.String("userId", sess.userID),
		log.String("connId", sess.connID),
	)
	sess.roomID = ""
}

// appendRosterAsync persists the join on the room roster without blocking
// the event loop. Persistence failures never affect live signaling.
func (s *Server) appendRosterAsync(roomID string, sess *session) {
	p := rooms.Participant{
		UserID:       sess.userID,
		ConnectionID: sess.connID,
		JoinedAt:     s.clock.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterWriteTimeout)
		defer cancel()

		if err := s.roomStore.AppendParticipant(ctx, roomID, p); err != nil {
			rosterWritesFailed.Add(ctx, 1)
			s.logger.Error("Failed to append roster entry",
				log.String("roomId", roomID),
				log.String("connId", p.ConnectionID),
				log.Error(err),
			)
		}
	}()
}

func (s *Server) closeRosterAsync(roomID, connID string) {
	leftAt := s.clock.Now().UTC()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterWriteTimeout)
		defer cancel()

		if err := s.roomStore.CloseParticipant(ctx, roomID, connID, leftAt); err != nil {
			rosterWritesFailed.Add(ctx, 1)
			s.logger.Error("Failed to close roster entry",
				log.String("roomId", roomID),
				log.String("connId", connID),
				log.Error(err),
			)
		}
	}()
}

func (s *Server) handleOffer(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	var msg gateway.OfferData
	if err := wsevent.BindData(data, &msg); err != nil {
		return err
	}

	to := msg.To
	msg.To = ""
	msg.From = sctx.Get().connID
	s.relay(sctx, to, gateway.EventOffer, &msg)
	return nil
}

func (s *Server) handleAnswer(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	var msg gateway.AnswerData
	if err := wsevent.BindData(data, &msg); err != nil {
		return err
	}

	to := msg.To
	msg.To = ""
	msg.From = sctx.Get().connID
	s.relay(sctx, to, gateway.EventAnswer, &msg)
	return nil
}

func (s *Server) handleIceCandidate(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	var msg gateway.IceCandidateData
	if err := wsevent.BindData(data, &msg); err != nil {
		return err
	}

	to := msg.To
	msg.To = ""
	msg.From = sctx.Get().connID
	s.relay(sctx, to, gateway.EventIceCandidate, &msg)
	return nil
}

// relay forwards a negotiation message to the target connection. A gone
// target drops the message silently, the sender learns about departures
// through user-left.
func (s *Server) relay(sctx wsevent.SessionContext[session], to, event string, msg interface{}) {
	sess := sctx.Get()

	target := s.presence.Lookup(to)
	if target == nil {
		relaysDropped.Add(sess.reqCtx, 1)
		s.logger.Debug("Relay target gone",
			log.String("event", event),
			log.String("to", to),
			log.String("from", sess.connID),
		)
		return
	}

	ctx := target.Context().Get().reqCtx
	if err := target.Send(ctx, event, msg); err != nil {
		relaysDropped.Add(ctx, 1)
		s.logger.Error("Failed to relay message",
			log.String("event", event),
			log.String("to", to),
			log.Error(err),
		)
		return
	}
	relaysTotal.Add(ctx, 1)
}

func (s *Server) handleMediaStateChange(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	var req gateway.MediaStateChangeData
	if err := wsevent.BindData(data, &req); err != nil {
		return err
	}

	sess := sctx.Get()
	media := gateway.MediaState{Audio: req.Audio, Video: req.Video}

	roomID, ok := s.presence.SetMedia(sess.connID, media)
	if !ok {
		// not in a room, nobody to tell
		return nil
	}

	s.presence.Broadcast(roomID, gateway.EventUserMediaChange, &gateway.UserMediaChangeData{
		ConnectionID: sess.connID,
		MediaState:   media,
	}, sess.connID)
	return nil
}

func (s *Server) handleSendMessage(sctx wsevent.SessionContext[session], data *json.RawMessage) error {
	if data == nil {
		return wsevent.ErrInvalidData("data required")
	}

	var text string
	if err := json.Unmarshal(*data, &text); err != nil {
		return wsevent.ErrInvalidData("invalid data")
	}

	sess := sctx.Get()
	if sess.roomID == "" || sess.user == nil {
		return nil
	}

	if !sess.chatLimiter.Allow() {
		chatMessagesDropped.Add(sess.reqCtx, 1)
		s.logger.Warn("Chat message rate limited",
			log.String("connId", sess.connID),
			log.String("roomId", sess.roomID),
		)
		return nil
	}

	// the sender receives its own message too, chat echo is the delivery ack
	s.presence.Broadcast(sess.roomID, gateway.EventNewMessage, &gateway.NewMessageData{
		Sender:    sess.user,
		Text:      text,
		Timestamp: s.clock.Now().UTC(),
	}, "")

	chatMessagesTotal.Add(sess.reqCtx, 1)
	return nil
}

// Connected registers the connection for negotiation relay before it joins
// any room.
func (s *Server) Connected(sctx wsevent.SessionContext[session]) {
	sess := sctx.Get()
	s.presence.Register(sess.connID, sctx.Conn())
}

// Disconnected tears down everything the connection held: room membership,
// the relay registry entry and the per-user connection lock.
func (s *Server) Disconnected(sctx wsevent.SessionContext[session]) {
	sess := sctx.Get()

	s.presence.Unregister(sess.connID)

	if sess.roomID != "" {
		s.leaveRoom(sess)
	}

	if sess.userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()
		if err := s.guard.Release(ctx, sess.userID, sess.connID); err != nil {
			s.logger.Error("Connection guard release failed",
				log.String("userId", sess.userID),
				log.String("connId", sess.connID),
				log.Error(err),
			)
		}
	}
}
