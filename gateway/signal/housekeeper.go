package signal

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/scheduler"
	"github.com/castlab/studio/rooms"
)

const deactivateTimeout = 5 * time.Second

// Housekeeper marks rooms inactive after they stay empty for a grace
// period. A rejoin during the grace period cancels the pending
// deactivation.
type Housekeeper struct {
	store  rooms.Store
	sched  *scheduler.KeyedScheduler
	delay  time.Duration
	logger *log.Logger
	wg     sync.WaitGroup
}

func NewHousekeeper(store rooms.Store, delay time.Duration, logger *log.Logger) *Housekeeper {
	return newHousekeeperWithClock(store, delay, logger, clockwork.NewRealClock())
}

func newHousekeeperWithClock(
	store rooms.Store,
	delay time.Duration,
	logger *log.Logger,
	clock clockwork.Clock,
) *Housekeeper {
	h := &Housekeeper{
		store:  store,
		sched:  scheduler.NewKeyedSchedulerWithClock(logger, clock),
		delay:  delay,
		logger: logger,
	}

	h.wg.Add(1)
	go h.loop()
	return h
}

// DeferDeactivate schedules the room to be marked inactive after the
// grace period.
func (h *Housekeeper) DeferDeactivate(roomID string) {
	h.logger.Debug("Deferring room deactivation", log.String("roomId", roomID))
	h.sched.Enqueue(roomID, h.delay)
}

func (h *Housekeeper) CancelDeactivate(roomID string) {
	h.sched.Cancel(roomID)
}

func (h *Housekeeper) Stop() {
	h.sched.Shutdown()
	h.wg.Wait()
}

func (h *Housekeeper) loop() {
	defer h.wg.Done()

	for roomID := range h.sched.Chan() {
		h.deactivate(roomID)
	}
}

func (h *Housekeeper) deactivate(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), deactivateTimeout)
	defer cancel()

	if err := h.store.SetActive(ctx, roomID, false); err != nil {
		h.logger.Error("Failed to deactivate empty room",
			log.String("roomId", roomID),
			log.Error(err),
		)
		return
	}

	roomsDeactivated.Add(ctx, 1)
	h.logger.Info("Room deactivated after staying empty", log.String("roomId", roomID))
}
