package calibration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// MissingStatisticsError lists aggregators left without a range.
// Their tensors stay unquantized.
type MissingStatisticsError struct {
	IDs []string
}

func (e *MissingStatisticsError) Error() string {
	return fmt.Sprintf("no calibration statistics for aggregators %s", strings.Join(e.IDs, ", "))
}

// IsMissingStatistics reports whether err is a *MissingStatisticsError.
func IsMissingStatistics(err error) bool {
	var target *MissingStatisticsError
	return errors.As(err, &target)
}

// AddCalibrationStatistics sets min/max on every CustomAggregator of m
// from the statistics stored in dir. Aggregators with no statistic keep
// no range and are reported through *MissingStatisticsError after all
// others have been updated.
func AddCalibrationStatistics(ctx context.Context, m *ir.Module, dir string) error {
	stats := map[string]store.Statistic{}
	if _, err := os.Stat(filepath.Join(dir, store.StatisticsFile)); err == nil {
		s, err := store.OpenStatistics(dir)
		if err != nil {
			return fmt.Errorf("open statistics: %w", err)
		}
		defer s.Close()
		if stats, err = s.ReadStatistics(ctx); err != nil {
			return fmt.Errorf("read statistics: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat statistics: %w", err)
	}

	var missing []string
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind != ir.KindCustomAgg {
			return
		}
		id, _ := op.Attrs.GetString(ir.AttrAggregatorID)
		st, ok := stats[id]
		if !ok {
			missing = append(missing, id)
			return
		}
		op.SetAttr(ir.AttrMin, ir.F32(st.Min))
		op.SetAttr(ir.AttrMax, ir.F32(st.Max))
	})
	if len(missing) > 0 {
		return &MissingStatisticsError{IDs: missing}
	}
	return nil
}
