// Package training runs the EM loop: it owns the per-sample graph cache,
// the discount adjustment strategies, convergence detection, best-model
// bookkeeping and checkpointing.
package training

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"g2p/internal/lattice"
	"g2p/internal/multigram"
	"g2p/internal/samples"
	"g2p/internal/seqmodel"
	"g2p/internal/symbols"
)

// MaxStoredGraphs is the sample size up to which estimation graphs are
// cached across iterations; larger samples are streamed and rebuilt.
const MaxStoredGraphs = 5000

type compiledPair struct {
	left  []symbols.ID
	right []symbols.ID
}

// Sample owns the estimation graphs of one data set. Graph topology is
// fixed by the master model; edge weights follow whichever model the
// current iteration evaluates.
type Sample struct {
	space   *multigram.Space
	builder *lattice.Builder
	pairs   []compiledPair

	current *seqmodel.SequenceModel
	stored  []*lattice.Graph

	maxStored int
	jobs      int
}

// NewSample compiles the pairs against the space's symbol inventories and
// prepares a graph builder with the given emergence mode.
func NewSample(space *multigram.Space, templates []multigram.Template, mode lattice.EmergenceMode,
	pairs []samples.Pair, master *seqmodel.SequenceModel) *Sample {
	s := &Sample{
		space: space,
		builder: &lattice.Builder{
			Templates: templates,
			Mode:      mode,
			Inventory: space.Inventory,
			Master:    master,
		},
		maxStored: MaxStoredGraphs,
		jobs:      1,
	}
	for _, p := range pairs {
		left, right := space.CompilePair(p.Left, p.Right)
		s.pairs = append(s.pairs, compiledPair{left, right})
	}
	return s
}

// SetJobs enables parallel accumulation over cached graphs. Values below
// one select one worker per CPU.
func (s *Sample) SetJobs(jobs int) {
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	s.jobs = jobs
}

// Size is the number of pairs, including ones that later turn out to have
// no segmentation.
func (s *Sample) Size() int { return len(s.pairs) }

// graphs hands every usable graph to fn, weighted under m. Samples
// without a segmentation are dropped with a warning: once when the cache
// is built, or on every pass when the sample is too large to cache and is
// streamed.
func (s *Sample) graphs(ctx context.Context, m *seqmodel.SequenceModel, fn func(*lattice.Graph)) error {
	if len(s.pairs) > s.maxStored {
		return s.streamGraphs(ctx, m, fn)
	}
	if s.stored == nil {
		for _, p := range s.pairs {
			g, err := s.builder.Create(p.left, p.right)
			if err != nil {
				if errors.Is(err, lattice.ErrNoSegmentation) {
					log.Printf("warning: dropping one sample that has no segmentation: %v / %v",
						s.space.Left.Format(p.left), s.space.Right.Format(p.right))
					continue
				}
				return err
			}
			s.stored = append(s.stored, g)
		}
		s.current = s.builder.Master
	}
	if m != s.current {
		for _, g := range s.stored {
			s.builder.Update(g, m)
		}
		s.current = m
	}
	for _, g := range s.stored {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(g)
	}
	return nil
}

func (s *Sample) streamGraphs(ctx context.Context, m *seqmodel.SequenceModel, fn func(*lattice.Graph)) error {
	for _, p := range s.pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := s.builder.Create(p.left, p.right)
		if err != nil {
			if errors.Is(err, lattice.ErrNoSegmentation) {
				log.Printf("warning: dropping one sample that has no segmentation: %v / %v",
					s.space.Left.Format(p.left), s.space.Right.Format(p.right))
				continue
			}
			return err
		}
		if m != s.builder.Master {
			s.builder.Update(g, m)
		}
		fn(g)
	}
	return nil
}

// Evidence accumulates fractional counts for the whole sample under m and
// returns the store together with the total log-likelihood.
func (s *Sample) Evidence(ctx context.Context, m *seqmodel.SequenceModel, viterbi bool) (*seqmodel.Store, float64, error) {
	if s.jobs > 1 && len(s.pairs) <= s.maxStored {
		return s.parallelEvidence(ctx, m, viterbi)
	}
	store := seqmodel.NewStore()
	logLik := 0.0
	err := s.graphs(ctx, m, func(g *lattice.Graph) {
		logLik += accumulate(g, store, viterbi)
	})
	if err != nil {
		return nil, 0, err
	}
	return store, logLik, nil
}

// parallelEvidence shards the cached graphs across workers, each with a
// private store, and merges shard results afterwards. Graph weights are
// rewritten once, before the fan-out, so the workers only read.
func (s *Sample) parallelEvidence(ctx context.Context, m *seqmodel.SequenceModel, viterbi bool) (*seqmodel.Store, float64, error) {
	// Materialise and re-weight the cache single-threaded.
	var all []*lattice.Graph
	if err := s.graphs(ctx, m, func(g *lattice.Graph) { all = append(all, g) }); err != nil {
		return nil, 0, err
	}

	workers := s.jobs
	if workers > len(all) {
		workers = len(all)
	}
	if workers < 1 {
		workers = 1
	}
	shardStores := make([]*seqmodel.Store, workers)
	shardLogLik := make([]float64, workers)

	grp, grpCtx := errgroup.WithContext(ctx)
	var next int
	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		w := w
		shardStores[w] = seqmodel.NewStore()
		grp.Go(func() error {
			for {
				if err := grpCtx.Err(); err != nil {
					return err
				}
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= len(all) {
					return nil
				}
				shardLogLik[w] += accumulate(all[i], shardStores[w], viterbi)
			}
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, 0, err
	}

	store := seqmodel.NewStore()
	logLik := 0.0
	for w := 0; w < workers; w++ {
		store.Merge(shardStores[w])
		logLik += shardLogLik[w]
	}
	return store, logLik, nil
}

func accumulate(g *lattice.Graph, store *seqmodel.Store, viterbi bool) float64 {
	if viterbi {
		acc := &lattice.ViterbiAccumulator{Target: store}
		return acc.Accumulate(g, 1.0)
	}
	acc := &lattice.Accumulator{Target: store}
	return acc.Accumulate(g, 1.0)
}

// LogLik scores the sample under m without accumulating evidence.
func (s *Sample) LogLik(ctx context.Context, m *seqmodel.SequenceModel, viterbi bool) (float64, error) {
	logLik := 0.0
	err := s.graphs(ctx, m, func(g *lattice.Graph) {
		if viterbi {
			logLik += (&lattice.ViterbiAccumulator{}).LogLik(g)
		} else {
			logLik += (&lattice.Accumulator{}).LogLik(g)
		}
	})
	if err != nil {
		return 0, err
	}
	return logLik, nil
}
