package graph

import "context"

// Statistics holds the time spent on horizontal edges per worker over the part
// of a graph reachable from a starting worker.
type Statistics struct {
	r       Reader
	sums    map[Worker]int64
	workers []Worker
	total   int64
	aborted bool
}

// ComputeStatistics sums horizontal edge durations over everything the scan
// line traversal reaches from the head of w.  If ctx is cancelled, the partial
// statistics are returned along with the context error and Aborted is true.
func ComputeStatistics(ctx context.Context, r Reader, w Worker) (*Statistics, error) {
	head, found := r.Head(w)
	if !found {
		return newStatistics(r), nil
	}
	return ComputeStatisticsFrom(ctx, r, head)
}

// ComputeStatisticsFrom is ComputeStatistics starting from any vertex.
func ComputeStatisticsFrom(ctx context.Context, r Reader, start Vertex) (*Statistics, error) {
	s := newStatistics(r)
	err := ScanLineTraverse(ctx, r, start, VisitorFuncs{
		Vertex: func(v Vertex) { s.worker(v) },
		Edge: func(e Edge, horizontal bool) {
			if !horizontal {
				return
			}
			if w, found := s.worker(e.From); found {
				s.sums[w] += e.Duration()
			}
			s.total += e.Duration()
		},
	})
	if err != nil {
		s.aborted = true
		return s, err
	}
	return s, nil
}

func newStatistics(r Reader) *Statistics {
	return &Statistics{r: r, sums: make(map[Worker]int64)}
}

func (s *Statistics) worker(v Vertex) (Worker, bool) {
	w, found := s.r.ParentOf(v)
	if !found {
		return nil, false
	}
	if _, seen := s.sums[w]; !seen {
		s.sums[w] = 0
		s.workers = append(s.workers, w)
	}
	return w, true
}

// Sum returns the total duration of horizontal edges of w.
func (s *Statistics) Sum(w Worker) int64 {
	return s.sums[w]
}

// Total returns the sum over every worker.
func (s *Statistics) Total() int64 {
	return s.total
}

// Percent returns the share of the total spent by w, between 0 and 100.
func (s *Statistics) Percent(w Worker) float64 {
	if s.total == 0 {
		return 0
	}
	return 100 * float64(s.sums[w]) / float64(s.total)
}

// Workers returns the workers reached, in the order they were reached.
func (s *Statistics) Workers() []Worker {
	return s.workers
}

// Aborted returns true if the computation was cancelled.
func (s *Statistics) Aborted() bool {
	return s.aborted
}
