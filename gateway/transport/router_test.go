package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlab/studio/gateway/signal"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/rooms"
	"github.com/castlab/studio/users"
)

type noopUserStore struct{}

func (noopUserStore) Resolve(context.Context, string) (*users.User, error) {
	return nil, users.ErrNotFound
}

type noopRoomStore struct{}

func (noopRoomStore) Resolve(context.Context, string) (*rooms.Room, error) {
	return nil, rooms.ErrNotFound
}

func (noopRoomStore) Create(_ context.Context, room *rooms.Room) (*rooms.Room, error) {
	return room, nil
}

func (noopRoomStore) ListByUser(context.Context, string) ([]*rooms.Room, error) {
	return nil, nil
}

func (noopRoomStore) Update(context.Context, string, rooms.Update) (*rooms.Room, error) {
	return nil, rooms.ErrNotFound
}

func (noopRoomStore) Delete(context.Context, string) error { return nil }

func (noopRoomStore) AppendParticipant(context.Context, string, rooms.Participant) error {
	return nil
}

func (noopRoomStore) CloseParticipant(context.Context, string, string, time.Time) error {
	return nil
}

func (noopRoomStore) SetActive(context.Context, string, bool) error { return nil }

func newTestRouter(t *testing.T) (*Router, *signal.Housekeeper) {
	logger := log.NewTest(t)
	keeper := signal.NewHousekeeper(noopRoomStore{}, time.Second, logger)
	server := signal.NewServer(
		noopUserStore{},
		noopRoomStore{},
		signal.NewNopGuard(),
		keeper,
		time.Second,
		clockwork.NewRealClock(),
		logger,
	)

	handleWS := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}
	return NewRouter(server, handleWS, logger), keeper
}

func TestHealthEndpoint(t *testing.T) {
	router, keeper := newTestRouter(t)
	defer keeper.Stop()

	w := httptest.NewRecorder()
	router.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "gateway", body["service"])
}

func TestStatsEndpoint(t *testing.T) {
	router, keeper := newTestRouter(t)
	defer keeper.Stop()

	w := httptest.NewRecorder()
	router.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var stats signal.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.Rooms)
	assert.Zero(t, stats.Connections)
}

func TestWSRouteWired(t *testing.T) {
	router, keeper := newTestRouter(t)
	defer keeper.Stop()

	w := httptest.NewRecorder()
	router.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/ws", nil))

	assert.Equal(t, http.StatusSwitchingProtocols, w.Code)
}
