// Package replay feeds recorded behavior samples through an engine offline.
package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/engine"
	sio "github.com/hed1ad/safestride/pkg/io"
)

// Stats summarizes a replay run.
type Stats struct {
	Records         int
	Failed          int
	Recommendations map[engine.Recommendation]int
}

// Run streams every record from src through eng in order and writes one
// result per record to dst. Per-record engine errors are written as results
// and counted; only read, write and context failures abort the run. A read
// failure is returned after the records before it have been written.
func Run(ctx context.Context, eng *engine.Engine, src sio.Reader, dst sio.Writer, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := Stats{Recommendations: make(map[engine.Recommendation]int)}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	records, err := src.Stream(streamCtx)
	if err != nil {
		return stats, fmt.Errorf("stream records: %w", err)
	}

	for rec := range records {
		stats.Records++
		out := sio.Result{Line: stats.Records, Record: rec}

		res, err := eng.Analyze(ctx, rec.UserID, engine.Sample{
			TypingInterval: rec.TypingInterval,
			MouseCount:     rec.MouseCount,
			ScrollCount:    rec.ScrollCount,
		})
		if err != nil {
			stats.Failed++
			out.Error = err.Error()
			logger.Warn("record rejected",
				zap.Int("record", stats.Records),
				zap.String("user_id", rec.UserID),
				zap.Error(err))
		} else {
			stats.Recommendations[res.Analysis.Recommendation]++
			out.Analysis = res
		}

		if err := dst.Write(out); err != nil {
			return stats, fmt.Errorf("write result %d: %w", stats.Records, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := src.Err(); err != nil {
		return stats, fmt.Errorf("read records after %d: %w", stats.Records, err)
	}
	return stats, nil
}
