package sync

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/openmined/treesync/internal/utils"
	"gopkg.in/yaml.v3"
)

// LedgerEntry is one failure kept by an ErrorLedger.
type LedgerEntry struct {
	Subject string    `yaml:"subject"`
	Error   string    `yaml:"error"`
	Time    time.Time `yaml:"time"`
}

type ledgerDump struct {
	RunID  string        `yaml:"run_id,omitempty"`
	Count  int           `yaml:"count"`
	Errors []LedgerEntry `yaml:"errors"`
}

// ErrorLedger collects the failures of one run keyed by the path they happened on.
// A subject recorded twice keeps its first position and its latest error.
type ErrorLedger struct {
	runID string
	now   func() time.Time

	mu    sync.Mutex
	order []string
	errs  map[string]error
	times map[string]time.Time
}

func NewErrorLedger(runID string) *ErrorLedger {
	return &ErrorLedger{
		runID: runID,
		now:   time.Now,
		errs:  make(map[string]error),
		times: make(map[string]time.Time),
	}
}

func (l *ErrorLedger) RunID() string {
	return l.runID
}

// Record stores err for subject. A nil err is ignored.
func (l *ErrorLedger) Record(subject string, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.errs[subject]; !ok {
		l.order = append(l.order, subject)
	}
	l.errs[subject] = err
	l.times[subject] = l.now()
}

// Len is the number of distinct subjects that failed.
func (l *ErrorLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Err returns the error recorded for subject, or nil.
func (l *ErrorLedger) Err(subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs[subject]
}

// Entries returns the failures in the order they were first recorded.
func (l *ErrorLedger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LedgerEntry, 0, len(l.order))
	for _, subject := range l.order {
		entries = append(entries, LedgerEntry{
			Subject: subject,
			Error:   l.errs[subject].Error(),
			Time:    l.times[subject],
		})
	}
	return entries
}

// WriteTo writes the ledger as a YAML document.
func (l *ErrorLedger) WriteTo(w io.Writer) (int64, error) {
	entries := l.Entries()
	data, err := yaml.Marshal(&ledgerDump{
		RunID:  l.runID,
		Count:  len(entries),
		Errors: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal error ledger: %w", err)
	}
	n, err := w.Write(append([]byte("---\n"), data...))
	return int64(n), err
}

// Save appends the ledger to the file at path. Nothing is written when the ledger is empty.
func (l *ErrorLedger) Save(path string) error {
	if l.Len() == 0 {
		return nil
	}
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure error file directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error file: %w", err)
	}
	if _, err := l.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write error ledger: %w", err)
	}
	return f.Close()
}
