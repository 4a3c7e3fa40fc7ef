package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/stretchr/testify/suite"
)

type SessionManagerTestSuite struct {
	suite.Suite
	tempDir string
	logger  *logger.Logger
	started time.Time
}

const sessionDate = "2025-03-06"

func (s *SessionManagerTestSuite) SetupSuite() {
	s.logger = logger.NewNop()
	s.started = time.Date(2025, 3, 6, 14, 0, 0, 0, time.UTC)
}

func (s *SessionManagerTestSuite) SetupTest() {
	tempDir, err := os.MkdirTemp("", "session_manager_test_*")
	s.Require().NoError(err)
	s.tempDir = tempDir
}

func (s *SessionManagerTestSuite) TearDownTest() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

func TestSessionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(SessionManagerTestSuite))
}

func (s *SessionManagerTestSuite) TestStartRun_FirstRun() {
	sm := NewSessionManager(s.logger, s.tempDir)

	s.Require().NoError(sm.StartRun(sessionDate, s.started))

	s.Equal("run_1", sm.GetRunID())
	s.Equal(1, sm.GetRunNumber())
	s.Equal(sessionDate, sm.GetCurrentDate())
	s.Equal(s.started, sm.GetSessionStart())

	runPath := sm.GetCurrentRunPath()
	s.DirExists(runPath)
	s.Equal(filepath.Join(s.tempDir, sessionDate, "run_1"), runPath)
}

func (s *SessionManagerTestSuite) TestStartRun_NextRunNumber() {
	for _, num := range []int{1, 3, 7} {
		s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, sessionDate, fmt.Sprintf("run_%d", num)), 0755))
	}

	// files and foreign folders are ignored
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, sessionDate, "scratch"), 0755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, sessionDate, "run_99"), nil, 0644))

	sm := NewSessionManager(s.logger, s.tempDir)
	s.Require().NoError(sm.StartRun(sessionDate, s.started))

	s.Equal("run_8", sm.GetRunID())
	s.Equal(8, sm.GetRunNumber())
}

func (s *SessionManagerTestSuite) TestStartRun_ConsecutiveSessions() {
	sm := NewSessionManager(s.logger, s.tempDir)

	s.Require().NoError(sm.StartRun(sessionDate, s.started))
	s.Require().NoError(sm.StartRun("2025-03-07", s.started.Add(24*time.Hour)))

	s.Equal("run_1", sm.GetRunID())
	s.Equal("2025-03-07", sm.GetCurrentDate())
	s.Equal(filepath.Join(s.tempDir, "2025-03-07", "run_1"), sm.GetCurrentRunPath())

	s.Require().NoError(sm.StartRun(sessionDate, s.started))
	s.Equal("run_2", sm.GetRunID())
}

func (s *SessionManagerTestSuite) TestStartRun_InvalidDate() {
	sm := NewSessionManager(s.logger, s.tempDir)

	s.Error(sm.StartRun("06/03/2025", s.started))
	s.Empty(sm.GetCurrentRunPath())
}

func (s *SessionManagerTestSuite) TestGetFilePath() {
	sm := NewSessionManager(s.logger, s.tempDir)
	s.Require().NoError(sm.StartRun(sessionDate, s.started))

	s.Equal(filepath.Join(sm.GetCurrentRunPath(), "stats.yaml"), sm.GetFilePath("stats.yaml"))
	s.Equal(s.tempDir, sm.GetDataOutputPath())
}

func (s *SessionManagerTestSuite) TestListSessionsForDate() {
	sm := NewSessionManager(s.logger, s.tempDir)

	runs, err := sm.ListSessionsForDate(sessionDate)
	s.Require().NoError(err)
	s.Empty(runs)

	for _, num := range []int{10, 2, 1} {
		s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, sessionDate, fmt.Sprintf("run_%d", num)), 0755))
	}

	runs, err = sm.ListSessionsForDate(sessionDate)
	s.Require().NoError(err)
	s.Equal([]string{"run_1", "run_2", "run_10"}, runs)
}

func (s *SessionManagerTestSuite) TestGetAllDates() {
	sm := NewSessionManager(s.logger, filepath.Join(s.tempDir, "missing"))

	dates, err := sm.GetAllDates()
	s.Require().NoError(err)
	s.Empty(dates)

	sm = NewSessionManager(s.logger, s.tempDir)
	for _, dir := range []string{"2025-03-07", "2025-03-06", "exports"} {
		s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, dir), 0755))
	}

	dates, err = sm.GetAllDates()
	s.Require().NoError(err)
	s.Equal([]string{"2025-03-06", "2025-03-07"}, dates)
}
