// Package store implements refinery's persisted state: the accepted
// results store, the session counters file, and the key-event log.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const separator = "================================================================================"

var headerPattern = regexp.MustCompile(`={80}\s*\nSUBMISSION #(\d+)\s*\|\s*Accepted:\s*([^\n]+)\n={80}\s*\n`)

// Entry is one accepted submission with its stable number.
type Entry struct {
	Number    int
	Timestamp string
	Content   string
}

// ResultStore is the file-backed accumulation of accepted submissions.
// Numbers are stable for the life of the file: removal never renumbers,
// and appends continue from the highest number ever used. Accepted
// content is never truncated.
type ResultStore struct {
	mu        sync.Mutex
	path      string
	entries   []Entry
	lastNum   int
	watermark int // count of entries already indexed
	logger    *log.Logger
}

// OpenResultStore loads the store file at path, creating it if absent.
func OpenResultStore(path string, logger *log.Logger) (*ResultStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &ResultStore{path: path, logger: logger}

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read store file: %w", err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return nil, fmt.Errorf("create store file: %w", err)
		}
		s.log("INFO", "created new results store path=%s", path)
		return s, nil
	}

	s.entries = parseFormatted(string(content))
	for _, e := range s.entries {
		if e.Number > s.lastNum {
			s.lastNum = e.Number
		}
	}
	s.log("INFO", "loaded results store entries=%d last_number=%d", len(s.entries), s.lastNum)
	return s, nil
}

// parseFormatted extracts entries from the on-disk layout. Content that
// does not match the header format is salvaged as unnumbered blocks so a
// hand-edited file never silently loses accepted results.
func parseFormatted(content string) []Entry {
	var entries []Entry

	// Headers delimit entries; each entry's content runs from the end of
	// its header to the start of the next (or end of file).
	headers := headerPattern.FindAllStringSubmatchIndex(content, -1)
	for i, h := range headers {
		number, err := strconv.Atoi(content[h[2]:h[3]])
		if err != nil {
			continue
		}
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		text := strings.TrimSpace(content[h[1]:end])
		if text == "" {
			continue
		}
		entries = append(entries, Entry{
			Number:    number,
			Timestamp: strings.TrimSpace(content[h[4]:h[5]]),
			Content:   text,
		})
	}

	if len(entries) == 0 && strings.TrimSpace(content) != "" {
		num := 0
		for _, section := range strings.Split(content, separator) {
			section = strings.TrimSpace(section)
			if section == "" || strings.Contains(section, "SUBMISSION #") {
				continue
			}
			num++
			entries = append(entries, Entry{
				Number:    num,
				Timestamp: time.Now().Format(time.RFC3339),
				Content:   section,
			})
		}
	}

	return entries
}

// Append stores accepted content under the next stable number and
// persists the file. Returns the assigned number.
func (s *ResultStore) Append(content string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastNum++
	s.entries = append(s.entries, Entry{
		Number:    s.lastNum,
		Timestamp: time.Now().Format(time.RFC3339),
		Content:   content,
	})

	if err := s.saveLocked(); err != nil {
		return s.lastNum, err
	}
	return s.lastNum, nil
}

// GetByNumber returns the content of the entry with the given stable
// number, or false when no such entry exists.
func (s *ResultStore) GetByNumber(number int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Number == number {
			return e.Content, true
		}
	}
	return "", false
}

// Remove deletes the entry with the given number. Reports whether an
// entry was removed.
func (s *ResultStore) Remove(number int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, e := range s.entries {
		if e.Number == number {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.log("WARN", "submission #%d not found for removal", number)
		return false, nil
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)

	// Removal below the watermark shifts unindexed entries down; the
	// watermark follows them so none are skipped.
	if idx < s.watermark {
		s.watermark--
	}
	if s.watermark > len(s.entries) {
		s.watermark = len(s.entries)
	}

	s.log("INFO", "removed submission #%d from results store", number)
	if err := s.saveLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Count returns the number of stored entries.
func (s *ResultStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Unragged returns the entries past the indexing watermark.
func (s *ResultStore) Unragged() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watermark >= len(s.entries) {
		return nil
	}
	delta := make([]Entry, len(s.entries)-s.watermark)
	copy(delta, s.entries[s.watermark:])
	return delta
}

// MarkRagged advances the indexing watermark to count.
func (s *ResultStore) MarkRagged(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = count
	s.log("DEBUG", "marked %d entries as indexed", count)
}

// AllContent returns the plain content of every entry, double-newline
// separated.
func (s *ResultStore) AllContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, len(s.entries))
	for i, e := range s.entries {
		parts[i] = e.Content
	}
	return strings.Join(parts, "\n\n")
}

// FormattedContent returns every entry in the on-disk layout, for export.
func (s *ResultStore) FormattedContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatEntries(s.entries)
}

// Clear discards all entries and truncates the file.
func (s *ResultStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.lastNum = 0
	s.watermark = 0
	return s.saveLocked()
}

// Path returns the backing file path.
func (s *ResultStore) Path() string {
	return s.path
}

func (s *ResultStore) saveLocked() error {
	if err := os.WriteFile(s.path, []byte(formatEntries(s.entries)), 0644); err != nil {
		return fmt.Errorf("save results store: %w", err)
	}
	s.log("DEBUG", "saved %d entries to results store", len(s.entries))
	return nil
}

func formatEntries(entries []Entry) string {
	sections := make([]string, len(entries))
	for i, e := range entries {
		sections[i] = fmt.Sprintf("%s\nSUBMISSION #%d | Accepted: %s\n%s\n\n%s\n",
			separator, e.Number, e.Timestamp, separator, e.Content)
	}
	return strings.Join(sections, "\n\n")
}

func (s *ResultStore) log(level, format string, args ...any) {
	if s.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s store: %s", time.Now().Format(time.RFC3339), level, msg)
}
