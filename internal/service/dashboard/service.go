// Package dashboard aggregates project-level statistics and the
// vote/outcome correlation analysis.
package dashboard

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/storage"
)

// minRunsForCorrelation is the completed-run count below which the
// correlation report declares insufficient data.
const minRunsForCorrelation = 10

// maxCorrelationRuns bounds the analysis window to the most recent runs.
const maxCorrelationRuns = 500

// Service serves read-only aggregate views over the store.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New builds the dashboard service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Overview is the project-level dashboard payload.
type Overview struct {
	Memories     storage.MemoryStats          `json:"memories"`
	RunOutcomes  map[model.RunOutcome]int     `json:"run_outcomes"`
	EventsLast24 map[model.EventType]int      `json:"events_last_24h"`
	TopMemories  []model.Memory               `json:"top_memories"`
}

// GetOverview collects the four dashboard aggregates concurrently.
func (s *Service) GetOverview(ctx context.Context, projectID string) (Overview, error) {
	var ov Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := s.db.GetMemoryStats(gctx, projectID)
		if err != nil {
			return err
		}
		ov.Memories = stats
		return nil
	})
	g.Go(func() error {
		counts, err := s.db.RunOutcomeCounts(gctx, projectID)
		if err != nil {
			return err
		}
		ov.RunOutcomes = counts
		return nil
	})
	g.Go(func() error {
		counts, err := s.db.MemoryEventCounts(gctx, projectID, time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		ov.EventsLast24 = counts
		return nil
	})
	g.Go(func() error {
		top, err := s.db.TopMemories(gctx, projectID, 1, 10)
		if err != nil {
			return err
		}
		ov.TopMemories = top
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

// MemoryCorrelation is the point-biserial correlation between one
// memory's usage and run success.
type MemoryCorrelation struct {
	MemoryID    string  `json:"memory_id"`
	UsedRuns    int     `json:"used_runs"`
	Correlation float64 `json:"correlation"`
}

// CorrelationReport relates memory usage to run outcomes across the
// recent completed runs of a project.
type CorrelationReport struct {
	Runs             int                 `json:"runs"`
	InsufficientData bool                `json:"insufficient_data"`
	Memories         []MemoryCorrelation `json:"memories,omitempty"`
}

// GetCorrelation computes per-memory usage/success correlations over the
// most recent completed runs. Partial outcomes carry no success signal
// and are excluded.
func (s *Service) GetCorrelation(ctx context.Context, projectID string) (CorrelationReport, error) {
	runs, err := s.db.ListCompletedRuns(ctx, projectID, maxCorrelationRuns)
	if err != nil {
		return CorrelationReport{}, err
	}
	return correlate(runs), nil
}

// correlate computes the point-biserial coefficient for every memory seen
// in the runs' usage lists: r = (m1 − m0)/s · sqrt(p·(1−p)), where m1/m0
// are the mean success rates with and without the memory, s is the
// population standard deviation of success, and p is the usage fraction.
func correlate(runs []model.Run) CorrelationReport {
	var outcomes []bool
	usage := make(map[string][]int) // memory id -> indexes of runs that used it

	idx := 0
	for _, r := range runs {
		if r.Outcome == nil || *r.Outcome == model.RunPartial {
			continue
		}
		outcomes = append(outcomes, *r.Outcome == model.RunSuccess)
		for _, memID := range r.MemoriesUsed {
			usage[memID] = append(usage[memID], idx)
		}
		idx++
	}

	report := CorrelationReport{Runs: len(outcomes)}
	if len(outcomes) < minRunsForCorrelation {
		report.InsufficientData = true
		return report
	}

	n := float64(len(outcomes))
	successes := 0
	for _, ok := range outcomes {
		if ok {
			successes++
		}
	}
	mean := float64(successes) / n
	stddev := math.Sqrt(mean * (1 - mean))
	if stddev == 0 {
		// All runs succeeded or all failed; usage carries no signal.
		return report
	}

	for memID, used := range usage {
		k := float64(len(used))
		if k == 0 || k == n {
			continue
		}
		usedSuccesses := 0
		for _, i := range used {
			if outcomes[i] {
				usedSuccesses++
			}
		}
		m1 := float64(usedSuccesses) / k
		m0 := (float64(successes) - float64(usedSuccesses)) / (n - k)
		p := k / n
		r := (m1 - m0) / stddev * math.Sqrt(p*(1-p))
		report.Memories = append(report.Memories, MemoryCorrelation{
			MemoryID:    memID,
			UsedRuns:    len(used),
			Correlation: r,
		})
	}

	sort.Slice(report.Memories, func(i, j int) bool {
		a, b := report.Memories[i], report.Memories[j]
		if math.Abs(a.Correlation) != math.Abs(b.Correlation) {
			return math.Abs(a.Correlation) > math.Abs(b.Correlation)
		}
		return a.MemoryID < b.MemoryID
	})
	return report
}
