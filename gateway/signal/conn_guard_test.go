package signal

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/castlab/studio/internal/log"
)

type ConnGuardSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	guard     ConnectionGuard
}

func TestConnGuardSuite(t *testing.T) {
	suite.Run(t, new(ConnGuardSuite))
}

func (s *ConnGuardSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.miniRedis = mr

	s.client = redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	s.guard = NewConnGuard(s.client, "test", "server1", log.NewNop())

	// Start heartbeat so server1 is considered alive for conflict tests
	err = s.guard.Start(context.Background())
	s.Require().NoError(err)
}

func (s *ConnGuardSuite) TearDownTest() {
	if s.guard != nil {
		s.guard.Stop()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.miniRedis != nil {
		s.miniRedis.Close()
	}
}

func (s *ConnGuardSuite) TestAcquireSuccess() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.True(ok)

	value, err := s.client.Get(ctx, "test:c:user1").Result()
	s.Require().NoError(err)
	s.Equal("server1:conn1", value)
}

func (s *ConnGuardSuite) TestAcquireRejectsSecondConnection() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.guard.Acquire(ctx, "user1", "conn2")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ConnGuardSuite) TestAcquireIsReentrantForSameConnection() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ConnGuardSuite) TestAcquireStealsLockFromDeadServer() {
	ctx := context.Background()

	// a lock held by a server that no longer heartbeats
	err := s.client.Set(ctx, "test:c:user1", "dead-server:connX", 0).Err()
	s.Require().NoError(err)

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.True(ok)

	value, err := s.client.Get(ctx, "test:c:user1").Result()
	s.Require().NoError(err)
	s.Equal("server1:conn1", value)
}

func (s *ConnGuardSuite) TestAcquireRespectsLockOfLiveServer() {
	ctx := context.Background()

	err := s.client.Set(ctx, "test:c:user1", "server2:connX", 0).Err()
	s.Require().NoError(err)
	err = s.client.Set(ctx, "test:s:server2", "1", serverHBTTL).Err()
	s.Require().NoError(err)

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ConnGuardSuite) TestReleaseFreesLock() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Require().NoError(s.guard.Release(ctx, "user1", "conn1"))

	ok, err = s.guard.Acquire(ctx, "user1", "conn2")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ConnGuardSuite) TestReleaseIgnoresForeignLock() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "user1", "conn1")
	s.Require().NoError(err)
	s.Require().True(ok)

	// a stale release from another connection must not free the lock
	s.Require().NoError(s.guard.Release(ctx, "user1", "conn2"))

	value, err := s.client.Get(ctx, "test:c:user1").Result()
	s.Require().NoError(err)
	s.Equal("server1:conn1", value)
}

func (s *ConnGuardSuite) TestStartSetsHeartbeat() {
	s.True(s.miniRedis.Exists("test:s:server1"))
}
