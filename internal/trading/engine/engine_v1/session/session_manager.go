package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"go.uber.org/zap"
)

var (
	runPattern  = regexp.MustCompile(`^run_(\d+)$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// SessionManager allocates the artifact folder of every market session:
//
//	{dataOutputPath}/{YYYY-MM-DD}/run_N/
//
// The date is the exchange session date, so a session that crosses UTC
// midnight stays in one folder. A restart on the same date gets the next run
// number.
type SessionManager struct {
	dataOutputPath string
	runID          string
	runNumber      int
	sessionStart   time.Time
	currentDate    string
	currentRunPath string
	mu             sync.Mutex
	logger         *logger.Logger
}

// NewSessionManager creates a new SessionManager rooted at dataOutputPath.
func NewSessionManager(log *logger.Logger, dataOutputPath string) *SessionManager {
	return &SessionManager{
		dataOutputPath: dataOutputPath,
		runID:          "",
		runNumber:      0,
		sessionStart:   time.Time{},
		currentDate:    "",
		currentRunPath: "",
		mu:             sync.Mutex{},
		logger:         log,
	}
}

// StartRun creates the next run folder for the session of date (YYYY-MM-DD).
func (s *SessionManager) StartRun(date string, startedAt time.Time) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("invalid session date %q", date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runNumber, err := s.determineRunNumber(date)
	if err != nil {
		return fmt.Errorf("failed to determine run number: %w", err)
	}

	runPath := filepath.Join(s.dataOutputPath, date, fmt.Sprintf("run_%d", runNumber))
	if err := os.MkdirAll(runPath, 0755); err != nil {
		return fmt.Errorf("failed to create run folder: %w", err)
	}

	s.currentDate = date
	s.sessionStart = startedAt
	s.runNumber = runNumber
	s.runID = fmt.Sprintf("run_%d", runNumber)
	s.currentRunPath = runPath

	s.logger.Info("Session run folder created",
		zap.String("run_id", s.runID),
		zap.String("date", date),
		zap.String("path", runPath),
	)

	return nil
}

// determineRunNumber scans the date folder for existing run folders and returns the next run number.
//
//nolint:funcorder // helper method used by StartRun
func (s *SessionManager) determineRunNumber(date string) (int, error) {
	datePath := filepath.Join(s.dataOutputPath, date)

	if _, err := os.Stat(datePath); os.IsNotExist(err) {
		return 1, nil
	}

	entries, err := os.ReadDir(datePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read date directory: %w", err)
	}

	maxRunNumber := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		matches := runPattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}

		num, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		if num > maxRunNumber {
			maxRunNumber = num
		}
	}

	return maxRunNumber + 1, nil
}

// GetCurrentRunPath returns the current run folder path.
func (s *SessionManager) GetCurrentRunPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentRunPath
}

// GetRunID returns the session run ID (e.g., "run_1").
func (s *SessionManager) GetRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runID
}

// GetRunNumber returns the numeric run number.
func (s *SessionManager) GetRunNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runNumber
}

// GetSessionStart returns the time the current run started.
func (s *SessionManager) GetSessionStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionStart
}

// GetCurrentDate returns the session date in YYYY-MM-DD format.
func (s *SessionManager) GetCurrentDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentDate
}

// GetDataOutputPath returns the base data output path.
func (s *SessionManager) GetDataOutputPath() string {
	return s.dataOutputPath
}

// GetFilePath returns the full path for a file in the current run folder.
func (s *SessionManager) GetFilePath(filename string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filepath.Join(s.currentRunPath, filename)
}

// ListSessionsForDate returns all run IDs for a given date.
func (s *SessionManager) ListSessionsForDate(date string) ([]string, error) {
	datePath := filepath.Join(s.dataOutputPath, date)

	if _, err := os.Stat(datePath); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(datePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read date directory: %w", err)
	}

	var runs []string

	for _, entry := range entries {
		if entry.IsDir() && runPattern.MatchString(entry.Name()) {
			runs = append(runs, entry.Name())
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		numI, _ := strconv.Atoi(runs[i][4:]) // number after "run_"
		numJ, _ := strconv.Atoi(runs[j][4:])

		return numI < numJ
	})

	return runs, nil
}

// GetAllDates returns all dates with session data.
func (s *SessionManager) GetAllDates() ([]string, error) {
	if _, err := os.Stat(s.dataOutputPath); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(s.dataOutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read data output directory: %w", err)
	}

	var dates []string

	for _, entry := range entries {
		if entry.IsDir() && datePattern.MatchString(entry.Name()) {
			dates = append(dates, entry.Name())
		}
	}

	sort.Strings(dates)

	return dates, nil
}
