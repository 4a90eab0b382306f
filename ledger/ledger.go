// Package ledger records the cost of every terminated node in an append-only
// CSV file per account.
//
// Writers are serialized by an in-process mutex and an exclusive file lock so
// that several skyway processes can share one ledger. Readers take the shared
// lock and always see whole rows.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gofrs/flock"
	"github.com/samber/lo"
)

const seedID = "--"

var header = []string{"User", "InstanceID", "InstanceType", "Start", "End", "Cost", "Balance"}

var (
	ErrAlreadyRecorded = errors.New("usage already recorded")
	ErrUnknownUser     = errdefs.ErrUnknownUser
	ErrCorrupt         = errors.New("corrupt ledger")
)

// Record is one row of the ledger. Balance is the user's remaining budget
// once this row is accounted for.
type Record struct {
	User         string
	NodeID       string
	InstanceType string
	Start        time.Time
	End          time.Time
	Cost         float64
	Balance      float64
}

// IsSeed reports whether the record is the zero-cost row opening a ledger.
func (r Record) IsSeed() bool {
	return r.NodeID == seedID
}

type HistoryEntry struct {
	User         string
	NodeID       string
	InstanceType string
	Start        time.Time
	End          time.Time
}

// Budgets resolves a user's budget. *account.Account satisfies it.
type Budgets interface {
	Budget(user string) (float64, error)
}

type Config struct {
	Path    string
	Budgets Budgets
	Logger  *slog.Logger

	// LockRetryDelay is the polling interval while another process holds the file lock.
	LockRetryDelay time.Duration
}

type Ledger struct {
	path       string
	budgets    Budgets
	retryDelay time.Duration
	log        *slog.Logger

	mutex sync.RWMutex
}

// PathFor returns the ledger location of an account below a skyway root.
func PathFor(root, account string) string {
	return filepath.Join(root, "var", fmt.Sprintf("usage-%s.csv", account))
}

func Open(config Config) (*Ledger, error) {
	if config.Path == "" {
		return nil, errdefs.Config("ledger", "missing path")
	}
	if config.Budgets == nil {
		return nil, errdefs.Config("ledger", "missing budgets")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	return &Ledger{
		path:       config.Path,
		budgets:    config.Budgets,
		retryDelay: lo.Ternary(config.LockRetryDelay > 0, config.LockRetryDelay, 50*time.Millisecond),
		log:        lo.Ternary(config.Logger != nil, config.Logger, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, nil
}

func (l *Ledger) Path() string {
	return l.path
}

// Append records the usage of a node and returns the stored row with its balance.
// The first append to an empty ledger writes a seed row for the record's user.
// A record whose NodeID and Start are already present is rejected with
// ErrAlreadyRecorded, which makes concurrent destroys of one node bill it once.
func (l *Ledger) Append(ctx context.Context, r Record) (Record, error) {
	budget, err := l.budgets.Budget(r.User)
	if err != nil {
		return Record{}, err
	}
	if r.NodeID == "" || r.NodeID == seedID {
		return Record{}, errdefs.InvalidArgument("invalid node id '%s'", r.NodeID)
	}
	if r.Cost < 0 || math.IsNaN(r.Cost) || math.IsInf(r.Cost, 0) {
		return Record{}, errdefs.InvalidArgument("invalid cost %v for node '%s'", r.Cost, r.NodeID)
	}
	r.Cost = roundCost(r.Cost)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	unlock, err := l.lock(ctx, true)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	records, err := l.read()
	if err != nil {
		return Record{}, err
	}

	var rows [][]string
	if len(records) == 0 {
		rows = append(rows, header, encode(Record{User: r.User, NodeID: seedID, InstanceType: seedID, Balance: budget}))
	}

	for _, existing := range records {
		if existing.NodeID == r.NodeID && existing.Start.Equal(r.Start) {
			return existing, fmt.Errorf("%w: node '%s' started at %s", ErrAlreadyRecorded, r.NodeID, r.Start.Format(time.RFC3339))
		}
	}

	r.Balance = roundCost(budget - (accumulated(records, r.User) + r.Cost))
	rows = append(rows, encode(r))

	if err := l.write(rows); err != nil {
		return Record{}, err
	}

	l.log.Info("Recorded node usage", "user", r.User, "node", r.NodeID, "type", r.InstanceType, "cost", r.Cost, "balance", r.Balance)
	return r, nil
}

// AccumulatedCost returns the sum of every recorded cost of user.
func (l *Ledger) AccumulatedCost(ctx context.Context, user string) (float64, error) {
	if _, err := l.budgets.Budget(user); err != nil {
		return 0, err
	}

	records, err := l.Records(ctx)
	if err != nil {
		return 0, err
	}
	return accumulated(records, user), nil
}

// RemainingBalance returns the budget of user minus the recorded costs.
// Running nodes are not accounted for here.
func (l *Ledger) RemainingBalance(ctx context.Context, user string) (float64, error) {
	budget, err := l.budgets.Budget(user)
	if err != nil {
		return 0, err
	}

	cost, err := l.AccumulatedCost(ctx, user)
	if err != nil {
		return 0, err
	}
	return budget - cost, nil
}

func (l *Ledger) History(ctx context.Context, user string) ([]HistoryEntry, error) {
	if _, err := l.budgets.Budget(user); err != nil {
		return nil, err
	}

	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}

	return lo.FilterMap(records, func(r Record, _ int) (HistoryEntry, bool) {
		return HistoryEntry{
			User:         r.User,
			NodeID:       r.NodeID,
			InstanceType: r.InstanceType,
			Start:        r.Start,
			End:          r.End,
		}, r.User == user && !r.IsSeed()
	}), nil
}

// Records returns every row, seed rows included, in file order.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	unlock, err := l.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return l.read()
}

// Export writes the whole ledger as CSV, header included.
func (l *Ledger) Export(ctx context.Context, w io.Writer) error {
	records, err := l.Records(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write(encode(r)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (l *Ledger) lock(ctx context.Context, exclusive bool) (func(), error) {
	lock := flock.New(l.path + ".lock")

	var locked bool
	var err error
	if exclusive {
		locked, err = lock.TryLockContext(ctx, l.retryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, l.retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock ledger '%s': %w", l.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock ledger '%s'", l.path)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			l.log.Warn("Failed to unlock ledger", "path", l.path, "error", err)
		}
	}, nil
}

func (l *Ledger) read() ([]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(header)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %w", ErrCorrupt, l.path, err)
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if i == 0 && row[0] == header[0] {
			continue
		}
		r, err := decode(row)
		if err != nil {
			return nil, fmt.Errorf("%w '%s' line %d: %w", ErrCorrupt, l.path, i+1, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (l *Ledger) write(rows [][]string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger for writing: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	return nil
}

func accumulated(records []Record, user string) float64 {
	return lo.SumBy(records, func(r Record) float64 {
		return lo.Ternary(r.User == user, r.Cost, 0)
	})
}

func roundCost(cost float64) float64 {
	return math.Round(cost*1e6) / 1e6
}

func encode(r Record) []string {
	return []string{
		r.User,
		r.NodeID,
		r.InstanceType,
		formatTime(r.Start),
		formatTime(r.End),
		strconv.FormatFloat(r.Cost, 'f', 6, 64),
		strconv.FormatFloat(r.Balance, 'f', 6, 64),
	}
}

func decode(row []string) (Record, error) {
	r := Record{User: row[0], NodeID: row[1], InstanceType: row[2]}

	var err error
	if r.Start, err = parseTime(row[3]); err != nil {
		return Record{}, fmt.Errorf("invalid start: %w", err)
	}
	if r.End, err = parseTime(row[4]); err != nil {
		return Record{}, fmt.Errorf("invalid end: %w", err)
	}
	if r.Cost, err = strconv.ParseFloat(row[5], 64); err != nil {
		return Record{}, fmt.Errorf("invalid cost: %w", err)
	}
	if r.Balance, err = strconv.ParseFloat(row[6], 64); err != nil {
		return Record{}, fmt.Errorf("invalid balance: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
