package tracedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/drift.report/internal/tracediff"
)

// Comparison is a persisted comparison outcome.
type Comparison struct {
	ComparisonID         string          `json:"comparison_id"`
	TraceA               string          `json:"trace_a"`
	TraceB               string          `json:"trace_b"`
	RunIDA               string          `json:"run_id_a,omitempty"`
	RunIDB               string          `json:"run_id_b,omitempty"`
	OK                   bool            `json:"ok"`
	AlignmentWarning     bool            `json:"alignment_warning"`
	StepsCompared        int             `json:"steps_compared"`
	StepsMatched         int             `json:"steps_matched"`
	FirstDivergenceIndex *int            `json:"first_divergence_index,omitempty"`
	FindingsJSON         json.RawMessage `json:"findings_json,omitempty"`
	CreatedAt            int64           `json:"created_at"`
}

// ComparisonStore provides persistence for comparison outcomes.
type ComparisonStore struct {
	db *sql.DB
}

// NewComparisonStore creates a ComparisonStore backed by the given database.
func NewComparisonStore(db *sql.DB) *ComparisonStore {
	return &ComparisonStore{db: db}
}

// FromReport converts a comparison report into its persisted form.
func FromReport(rep *tracediff.Report) (*Comparison, error) {
	c := &Comparison{
		TraceA:           rep.TraceA,
		TraceB:           rep.TraceB,
		RunIDA:           rep.RunIDA,
		RunIDB:           rep.RunIDB,
		OK:               rep.OK,
		AlignmentWarning: rep.AlignmentWarning,
		StepsCompared:    rep.StepsCompared,
		StepsMatched:     rep.StepsMatched,
	}
	if f := rep.FirstDivergence(); f != nil {
		idx := f.Index
		c.FirstDivergenceIndex = &idx
	}
	if len(rep.Findings) > 0 {
		data, err := json.Marshal(rep.Findings)
		if err != nil {
			return nil, fmt.Errorf("marshal findings: %w", err)
		}
		c.FindingsJSON = data
	}
	return c, nil
}

// Insert persists a comparison. If ComparisonID is empty, a UUID is
// generated.
func (s *ComparisonStore) Insert(c *Comparison) error {
	if c.ComparisonID == "" {
		c.ComparisonID = uuid.New().String()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixNano()
	}

	var findings interface{}
	if len(c.FindingsJSON) > 0 {
		findings = string(c.FindingsJSON)
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO comparisons (
				comparison_id, trace_a, trace_b, run_id_a, run_id_b,
				ok, alignment_warning, steps_compared, steps_matched,
				first_divergence_index, findings_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ComparisonID, c.TraceA, c.TraceB, nullStr(c.RunIDA), nullStr(c.RunIDB),
			c.OK, c.AlignmentWarning, c.StepsCompared, c.StepsMatched,
			nullInt(c.FirstDivergenceIndex), findings, c.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting comparison %s: %w", c.ComparisonID, err)
	}
	return nil
}

// ListRecent returns the most recent comparisons, newest first. Limit <= 0
// means a default of 50.
func (s *ComparisonStore) ListRecent(limit int) ([]*Comparison, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT comparison_id, trace_a, trace_b, run_id_a, run_id_b,
		       ok, alignment_warning, steps_compared, steps_matched,
		       first_divergence_index, findings_json, created_at
		FROM comparisons
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query comparisons: %w", err)
	}
	defer rows.Close()
	return scanComparisons(rows)
}

// ListByPair returns all comparisons of a given trace pair, newest first.
func (s *ComparisonStore) ListByPair(traceA, traceB string) ([]*Comparison, error) {
	rows, err := s.db.Query(`
		SELECT comparison_id, trace_a, trace_b, run_id_a, run_id_b,
		       ok, alignment_warning, steps_compared, steps_matched,
		       first_divergence_index, findings_json, created_at
		FROM comparisons
		WHERE trace_a = ? AND trace_b = ?
		ORDER BY created_at DESC`, traceA, traceB)
	if err != nil {
		return nil, fmt.Errorf("query comparisons for pair: %w", err)
	}
	defer rows.Close()
	return scanComparisons(rows)
}

// CountDiverging returns how many stored comparisons found drift.
func (s *ComparisonStore) CountDiverging() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM comparisons WHERE NOT ok`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count diverging comparisons: %w", err)
	}
	return n, nil
}

func scanComparisons(rows *sql.Rows) ([]*Comparison, error) {
	var out []*Comparison
	for rows.Next() {
		var c Comparison
		var runA, runB, findings sql.NullString
		var firstIdx sql.NullInt64
		if err := rows.Scan(
			&c.ComparisonID, &c.TraceA, &c.TraceB, &runA, &runB,
			&c.OK, &c.AlignmentWarning, &c.StepsCompared, &c.StepsMatched,
			&firstIdx, &findings, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		c.RunIDA = runA.String
		c.RunIDB = runB.String
		if firstIdx.Valid {
			idx := int(firstIdx.Int64)
			c.FirstDivergenceIndex = &idx
		}
		if findings.Valid && findings.String != "" {
			c.FindingsJSON = json.RawMessage(findings.String)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// isSQLiteBusy reports whether an error is a transient lock contention
// failure worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries a write a few times with a short backoff when SQLite
// reports lock contention.
func retryOnBusy(op func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}
