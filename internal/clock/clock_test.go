package clock

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ClockTestSuite struct {
	suite.Suite
	clock *Clock
	start time.Time
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (suite *ClockTestSuite) SetupTest() {
	suite.clock = New()
	suite.start = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
}

func (suite *ClockTestSuite) TestFirstAdvance() {
	suite.False(suite.clock.Started())
	suite.NoError(suite.clock.Check(suite.start))
	suite.Require().NoError(suite.clock.Advance(suite.start))
	suite.True(suite.clock.Started())
	suite.Equal(suite.start, suite.clock.Now())
}

func (suite *ClockTestSuite) TestForwardOnly() {
	suite.Require().NoError(suite.clock.Advance(suite.start))
	suite.Require().NoError(suite.clock.Advance(suite.start.Add(time.Minute)))

	err := suite.clock.Advance(suite.start)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderingViolation))
	suite.Equal(suite.start.Add(time.Minute), suite.clock.Now())
}

func (suite *ClockTestSuite) TestTiesAreRejected() {
	suite.Require().NoError(suite.clock.Advance(suite.start))

	err := suite.clock.Check(suite.start)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderingViolation))
	suite.True(errors.IsFatal(err))
}

func (suite *ClockTestSuite) TestRealClock() {
	var wall WallClock = RealClock{}
	before := time.Now()
	suite.False(wall.Now().Before(before))

	select {
	case <-wall.After(time.Millisecond):
	case <-time.After(time.Second):
		suite.Fail("RealClock.After did not fire")
	}
}
