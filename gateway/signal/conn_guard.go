package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castlab/studio/internal/log"
)

const (
	connLockTTL      = 30 * time.Second
	serverHBTTL      = 3 * time.Second
	serverHBInterval = time.Second
	redisTimeout     = 2 * time.Second
)

var (
	// Lua script for acquiring a per-user connection lock
	// KEYS[1]: lock key (user lock)
	// ARGV[1]: lock value (serverID:connID)
	// ARGV[2]: lock TTL in milliseconds
	// ARGV[3]: key prefix, used to derive the heartbeat key of the server
	//          named in the current lock value
	// A lock whose owning server stopped heartbeating is stealable.
	luaAcquireConnLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur == false then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end

		if cur == ARGV[1] then
			redis.call('PEXPIRE', KEYS[1], ARGV[2])
			return 1
		end

		local owner = string.match(cur, '^([^:]+):')
		if owner and redis.call('EXISTS', ARGV[3] .. ':s:' .. owner) == 1 then
			return 0
		end

		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1
	`)

	// Lua script for releasing a connection lock
	// KEYS[1]: lock key
	// ARGV[1]: lock value (serverID:connID)
	luaReleaseConnLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur ~= ARGV[1] then
			return 0
		end
		redis.call('DEL', KEYS[1])
		return 1
	`)
)

// ConnectionGuard enforces at most one live signaling connection per user
// across all gateway servers.
type ConnectionGuard interface {
	Start(ctx context.Context) error
	Stop()
	// Acquire claims the user's connection slot for connID. A false result
	// means another live connection holds it.
	Acquire(ctx context.Context, userID, connID string) (bool, error)
	Release(ctx context.Context, userID, connID string) error
}

type connGuardImpl struct {
	redisClient *redis.Client
	prefix      string
	serverID    string
	logger      *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConnGuard(
	redisClient *redis.Client,
	redisPrefix string,
	serverID string,
	logger *log.Logger,
) ConnectionGuard {
	return &connGuardImpl{
		redisClient: redisClient,
		prefix:      redisPrefix,
		serverID:    serverID,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

func (s *connGuardImpl) connKey(userID string) string {
	return fmt.Sprintf("%s:c:%s", s.prefix, userID)
}

func (s *connGuardImpl) serverKey() string {
	return fmt.Sprintf("%s:s:%s", s.prefix, s.serverID)
}

func (s *connGuardImpl) lockValue(connID string) string {
	return fmt.Sprintf("%s:%s", s.serverID, connID)
}

func (s *connGuardImpl) Acquire(ctx context.Context, userID, connID string) (bool, error) {
	s.logger.Debug("Acquiring connect lock",
		log.String("userId", userID),
		log.String("connId", connID),
		log.String("serverId", s.serverID),
	)

	result, err := luaAcquireConnLock.Run(
		ctx,
		s.redisClient,
		[]string{s.connKey(userID)},
		s.lockValue(connID),
		connLockTTL.Milliseconds(),
		s.prefix,
	).Int()

	if err != nil {
		return false, fmt.Errorf("fail to acquire lock: %w", err)
	}
	if result == 1 {
		return true, nil
	}

	s.logger.Debug("Connection rejected due to existing connection",
		log.String("connId", connID),
		log.String("userId", userID),
	)
	return false, nil
}

func (s *connGuardImpl) Release(ctx context.Context, userID, connID string) error {
	s.logger.Debug("Releasing connect lock",
		log.String("userId", userID),
		log.String("connId", connID),
		log.String("serverId", s.serverID),
	)

	_, err := luaReleaseConnLock.Run(
		ctx,
		s.redisClient,
		[]string{s.connKey(userID)},
		s.lockValue(connID),
	).Int()

	if err != nil {
		return fmt.Errorf("fail to release lock: %w", err)
	}
	return nil
}

func (s *connGuardImpl) Start(ctx context.Context) error {
	s.logger.Info("Starting server heartbeat", log.String("serverId", s.serverID))

	if err := s.setHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to set initial heartbeat: %w", err)
	}

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

func (s *connGuardImpl) Stop() {
	s.logger.Info("Stopping server heartbeat", log.String("serverId", s.serverID))
	close(s.stopCh)
	s.wg.Wait()
}

func (s *connGuardImpl) setHeartbeat(ctx context.Context) error {
	return s.redisClient.Set(
		ctx, s.serverKey(),
		"1",
		serverHBTTL).Err()
}

func (s *connGuardImpl) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(serverHBInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			defer cancel()
			s.redisClient.Del(ctx, s.serverKey())
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			if err := s.setHeartbeat(ctx); err != nil {
				s.logger.Error("Failed to extend server heartbeat", log.Error(err))
			}
			cancel()
		}
	}
}

// nopGuard is used when the guard is disabled, every acquire succeeds.
type nopGuard struct{}

func NewNopGuard() ConnectionGuard { return nopGuard{} }

func (nopGuard) Start(context.Context) error { return nil }
func (nopGuard) Stop()                       {}

func (nopGuard) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (nopGuard) Release(context.Context, string, string) error         { return nil }
