// Package history lists past sessions from the log directory.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/logging"
)

// ErrSessionNotFound is returned when a named session has no directory.
var ErrSessionNotFound = errors.New("session not found")

// Session is one test_session_<timestamp> directory.
type Session struct {
	Name    string    `json:"name" yaml:"name"`
	Dir     string    `json:"dir" yaml:"dir"`
	Started time.Time `json:"started" yaml:"started"`
	Logs    []string  `json:"logs" yaml:"logs"` // test names with a log file
}

// List returns the sessions under logDir, newest first. A missing logDir
// yields no sessions. Directories whose names do not parse are skipped.
func List(logDir string) ([]Session, error) {
	entries, err := os.ReadDir(logDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var sessions []Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		started, ok := parseName(e.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(logDir, e.Name())
		logs, err := testLogs(dir)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, Session{
			Name:    e.Name(),
			Dir:     dir,
			Started: started,
			Logs:    logs,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Started.After(sessions[j].Started)
	})
	return sessions, nil
}

// Find returns the session called name, or the newest one when name is
// empty or "latest".
func Find(logDir, name string) (Session, error) {
	sessions, err := List(logDir)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	if name == "" || name == "latest" {
		return sessions[0], nil
	}
	for _, s := range sessions {
		if s.Name == name || s.Name == logging.SessionDirPrefix+name {
			return s, nil
		}
	}
	return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
}

// ReadLog returns the lines of one test's log in session s.
func ReadLog(s Session, testName string) ([]string, error) {
	f, err := os.Open(filepath.Join(s.Dir, testName+".log"))
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func parseName(name string) (time.Time, bool) {
	ts, ok := strings.CutPrefix(name, logging.SessionDirPrefix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(logging.SessionTimeLayout, ts, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func testLogs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var logs []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".log"); ok && !e.IsDir() {
			logs = append(logs, name)
		}
	}
	sort.Strings(logs)
	return logs, nil
}
