package training

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"g2p/internal/lattice"
	"g2p/internal/model"
	"g2p/internal/multigram"
	"g2p/internal/samples"
)

const (
	adjusterStatic = iota
	adjusterFixed
	adjusterOptimizing
	adjusterEager
)

// checkpointPayload is the serialised (template, context) pair. Samples
// travel in their external form and are recompiled on resume.
type checkpointPayload struct {
	SizeTemplates      []multigram.Template
	Emergence          int
	Viterbi            bool
	MinIterations      int
	MaxIterations      int
	ConvergenceWindow  int
	CheckpointInterval float64
	CheckpointFile     string
	Jobs               int

	Iteration   int
	Order       int
	LogLikTrain []float64
	LogLikDevel []float64

	Model      []byte
	Best       []byte
	BestLogLik float64

	AdjusterKind  int
	DiscountTrail [][]float64
	FixedDiscount []float64

	TrainPairs []samples.Pair
	DevelPairs []samples.Pair
}

// Checkpoint persists the full training state to the configured file
// (its name pattern takes the iteration number), atomically.
func (t *ModelTemplate) Checkpoint(c *Context) error {
	fmt.Fprintln(c.Log, "checkpointing")
	payload := checkpointPayload{
		SizeTemplates:      t.SizeTemplates,
		Emergence:          int(t.Emergence),
		Viterbi:            t.Viterbi,
		MinIterations:      t.MinIterations,
		MaxIterations:      t.MaxIterations,
		ConvergenceWindow:  t.ConvergenceWindow,
		CheckpointInterval: t.CheckpointInterval,
		CheckpointFile:     t.CheckpointFile,
		Jobs:               t.Jobs,
		Iteration:          c.Iteration,
		Order:              c.Order,
		LogLikTrain:        c.LogLikTrain,
		LogLikDevel:        c.LogLikDevel,
		BestLogLik:         c.BestLogLik,
		TrainPairs:         c.trainPairs,
		DevelPairs:         c.develPairs,
	}

	var buf bytes.Buffer
	if err := model.Encode(&buf, c.Model); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	payload.Model = append([]byte(nil), buf.Bytes()...)
	if c.BestModel != nil {
		buf.Reset()
		if err := model.Encode(&buf, c.BestModel); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		payload.Best = append([]byte(nil), buf.Bytes()...)
	}

	switch adj := c.Adjuster.(type) {
	case *FixedDiscounts:
		payload.AdjusterKind = adjusterFixed
		payload.FixedDiscount = adj.Discount
	case *OptimizingAdjuster:
		payload.AdjusterKind = adjusterOptimizing
		if adj.Eager {
			payload.AdjusterKind = adjusterEager
		}
		payload.DiscountTrail = adj.Trail()
	default:
		payload.AdjusterKind = adjusterStatic
		payload.DiscountTrail = c.Adjuster.Trail()
	}

	path := fmt.Sprintf(t.CheckpointFile, c.Iteration)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(&payload); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Resume restores a checkpointed run: it rebuilds the template and
// context and re-enters the loop where the checkpoint left it.
func Resume(path string) (*ModelTemplate, *Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resume: %w", err)
	}
	defer f.Close()

	var payload checkpointPayload
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("resume: %w", err)
	}

	current, err := model.Decode(bytes.NewReader(payload.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("resume: %w", err)
	}

	t := &ModelTemplate{
		Space:              current.Space,
		SizeTemplates:      payload.SizeTemplates,
		Emergence:          lattice.EmergenceMode(payload.Emergence),
		Viterbi:            payload.Viterbi,
		MinIterations:      payload.MinIterations,
		MaxIterations:      payload.MaxIterations,
		ConvergenceWindow:  payload.ConvergenceWindow,
		CheckpointInterval: payload.CheckpointInterval,
		CheckpointFile:     payload.CheckpointFile,
		Jobs:               payload.Jobs,
	}
	t.NewAdjuster = func(c *Context) DiscountAdjuster {
		switch payload.AdjusterKind {
		case adjusterFixed:
			return &FixedDiscounts{Discount: payload.FixedDiscount}
		case adjusterOptimizing, adjusterEager:
			if c.DevelSample == nil {
				return &StaticDiscounts{Discount: current.Discount}
			}
			adj := NewOptimizingAdjuster(c.DevelSample, current.Discount,
				payload.Viterbi, payload.AdjusterKind == adjusterEager)
			adj.RestoreTrail(payload.DiscountTrail)
			return adj
		default:
			var d []float64
			if len(payload.DiscountTrail) > 0 {
				d = payload.DiscountTrail[len(payload.DiscountTrail)-1]
			}
			return &StaticDiscounts{Discount: d}
		}
	}

	c, err := t.MakeContext(payload.TrainPairs, payload.DevelPairs, current)
	if err != nil {
		return nil, nil, fmt.Errorf("resume: %w", err)
	}
	c.Iteration = payload.Iteration
	c.Order = payload.Order
	c.LogLikTrain = payload.LogLikTrain
	c.LogLikDevel = payload.LogLikDevel
	if payload.Best != nil {
		best, err := model.Decode(bytes.NewReader(payload.Best))
		if err != nil {
			return nil, nil, fmt.Errorf("resume: %w", err)
		}
		c.BestModel = best
		c.BestLogLik = payload.BestLogLik
	}
	return t, c, nil
}
