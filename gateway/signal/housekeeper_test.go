package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlab/studio/internal/log"
)

func TestHousekeeperDeactivatesAfterDelay(t *testing.T) {
	store := &stubRoomStore{}
	h := NewHousekeeper(store, 20*time.Millisecond, log.NewTest(t))
	defer h.Stop()

	h.DeferDeactivate("r1")

	require.Eventually(t, func() bool {
		calls := store.deactivated()
		return len(calls) == 1 && calls[0].roomID == "r1" && !calls[0].active
	}, time.Second, 10*time.Millisecond)
}

func TestHousekeeperCancelStopsDeactivation(t *testing.T) {
	store := &stubRoomStore{}
	h := NewHousekeeper(store, 100*time.Millisecond, log.NewTest(t))
	defer h.Stop()

	h.DeferDeactivate("r1")
	h.CancelDeactivate("r1")

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, store.deactivated())
}

func TestHousekeeperCoalescesDuplicateDeferrals(t *testing.T) {
	store := &stubRoomStore{}
	h := NewHousekeeper(store, 20*time.Millisecond, log.NewTest(t))
	defer h.Stop()

	h.DeferDeactivate("r1")
	h.DeferDeactivate("r1")

	require.Eventually(t, func() bool {
		return len(store.deactivated()) >= 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, store.deactivated(), 1)
}
