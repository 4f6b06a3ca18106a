package store

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/quantflow/internal/ir"
)

// Statistic is the calibrated range of one CustomAggregator.
type Statistic struct {
	ID         string
	Method     string
	Min        float32
	Max        float32
	NumSamples int64
	Histogram  []int64
}

// WriteStatistics replaces the stored statistic for each id.
func (s *Store) WriteStatistics(ctx context.Context, stats []Statistic) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stats {
		hist, err := marshalInts(st.Histogram)
		if err != nil {
			return fmt.Errorf("statistic %q: %w", st.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO calibration_statistics (id, method, min_bits, max_bits, num_samples, histogram)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				method = excluded.method,
				min_bits = excluded.min_bits,
				max_bits = excluded.max_bits,
				num_samples = excluded.num_samples,
				histogram = excluded.histogram
		`, st.ID, st.Method,
			int64(math.Float32bits(st.Min)), int64(math.Float32bits(st.Max)),
			st.NumSamples, hist)
		if err != nil {
			return fmt.Errorf("write statistic %q: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadStatistics returns all statistics keyed by aggregator id.
func (s *Store) ReadStatistics(ctx context.Context) (map[string]Statistic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, min_bits, max_bits, num_samples, histogram
		FROM calibration_statistics
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Statistic)
	for rows.Next() {
		var (
			st               Statistic
			minBits, maxBits int64
			hist             string
		)
		if err := rows.Scan(&st.ID, &st.Method, &minBits, &maxBits, &st.NumSamples, &hist); err != nil {
			return nil, fmt.Errorf("scan statistic: %w", err)
		}
		st.Min = math.Float32frombits(uint32(minBits))
		st.Max = math.Float32frombits(uint32(maxBits))
		if st.Histogram, err = unmarshalInts(hist); err != nil {
			return nil, fmt.Errorf("statistic %q: %w", st.ID, err)
		}
		out[st.ID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statistics: %w", err)
	}
	return out, nil
}

// StatisticsToIR renders statistics as a canonical attribute tree keyed
// by id, for golden output and inspection.
func StatisticsToIR(stats map[string]Statistic) ir.IRObject {
	obj := make(ir.IRObject, len(stats))
	for id, st := range stats {
		obj[id] = ir.IRObject{
			"method":      ir.IRString(st.Method),
			"min":         ir.F32(st.Min),
			"max":         ir.F32(st.Max),
			"num_samples": ir.IRInt(st.NumSamples),
			"histogram":   ir.Ints(st.Histogram...),
		}
	}
	return obj
}
