package journal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
)

// Journal is an append-only JSON-lines log of ledger events
type Journal struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// Open opens or creates the journal at filePath
func Open(filePath string) (*Journal, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{
		filePath: filePath,
		file:     file,
	}, nil
}

// Path returns the file backing the journal
func (j *Journal) Path() string { return j.filePath }

// Append writes one event and syncs the file
func (j *Journal) Append(event domain.Event) error {
	return j.AppendBatch([]domain.Event{event})
}

// AppendBatch serializes every event first and then writes them with a single
// write and fsync, so a transaction's events land together.
func (j *Journal) AppendBatch(events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf []byte
	for _, event := range events {
		data, err := domain.SerializeEvent(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", event.GetType(), err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	if _, err := j.file.Write(buf); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	telemetry.JournalWriteDuration.Observe(time.Since(start).Seconds())

	for _, event := range events {
		telemetry.EventsStoredTotal.WithLabelValues(event.GetType()).Inc()
	}
	return nil
}

// LoadAll reads every event in file order
func (j *Journal) LoadAll() ([]domain.Event, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open journal for reading: %w", err)
	}
	defer file.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := domain.DeserializeEvent(line)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event at line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading journal: %w", err)
	}
	return events, nil
}

// Close closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		return err
	}
	return nil
}

// Clear truncates the journal
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		j.file.Close()
	}

	file, err := os.OpenFile(j.filePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	j.file = file
	return nil
}
