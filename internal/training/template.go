package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"g2p/internal/lattice"
	"g2p/internal/minimize"
	"g2p/internal/model"
	"g2p/internal/multigram"
	"g2p/internal/samples"
	"g2p/internal/seqmodel"
)

// ErrConfig reports inconsistent training settings.
var ErrConfig = errors.New("invalid training configuration")

// ErrNoModel means training produced no usable model.
var ErrNoModel = errors.New("failed to estimate model")

// Observer is called after each iteration with the freshly estimated
// model; external evaluation and run bookkeeping hook in here.
type Observer func(c *Context, newModel *model.Model)

// ModelTemplate carries everything configurable about one training run.
type ModelTemplate struct {
	Space         *multigram.Space
	SizeTemplates []multigram.Template
	Emergence     lattice.EmergenceMode
	Viterbi       bool

	MinIterations     int
	MaxIterations     int
	ConvergenceWindow int

	// NewAdjuster builds the discount adjustment strategy once the
	// context (and with it the held-out sample) exists.
	NewAdjuster func(c *Context) DiscountAdjuster

	// CheckpointInterval is CPU seconds between checkpoints; zero
	// disables them. CheckpointFile must contain a %d verb.
	CheckpointInterval float64
	CheckpointFile     string

	Observers []Observer
	Jobs      int
}

// NewModelTemplate returns a template with the classic defaults.
func NewModelTemplate(space *multigram.Space) *ModelTemplate {
	return &ModelTemplate{
		Space:             space,
		SizeTemplates:     multigram.DefaultTemplates(),
		Emergence:         lattice.Emerge,
		MinIterations:     20,
		MaxIterations:     100,
		ConvergenceWindow: 10,
		Jobs:              1,
	}
}

// PossibleMultigrams is Q, the zerogram denominator for the current
// symbol inventories.
func (t *ModelTemplate) PossibleMultigrams() float64 {
	return t.Space.PossibleMultigrams(t.SizeTemplates)
}

// ObliviousModel starts from the uniform zerogram.
func (t *ModelTemplate) ObliviousModel() *model.Model {
	sm := seqmodel.New()
	sm.SetInitAndTerm(t.Space.Term, t.Space.Term)
	sm.SetZerogram(t.PossibleMultigrams())
	return &model.Model{Space: t.Space, SequenceModel: sm}
}

// masterSequenceModel builds the skeleton holding every history of m with
// zero scores. Graphs built against it keep back-off nodes visible even
// when the current model assigns them no direct probability.
func (t *ModelTemplate) masterSequenceModel(m *model.Model) *seqmodel.SequenceModel {
	master := seqmodel.New()
	master.SetInitAndTerm(t.Space.Term, t.Space.Term)
	var entries []seqmodel.Entry
	for _, h := range m.SequenceModel.Histories() {
		entries = append(entries, seqmodel.Entry{History: h, Predicted: multigram.Void, Score: 0.0})
	}
	master.Set(entries)
	return master
}

// Context is the state of one training run.
type Context struct {
	Iteration int
	Order     int // -1 until the first iteration measured it

	LogLikTrain []float64
	LogLikDevel []float64

	Model      *model.Model
	BestModel  *model.Model
	BestLogLik float64

	TrainSample *Sample
	DevelSample *Sample
	Adjuster    DiscountAdjuster

	Log io.Writer

	// kept for checkpointing
	trainPairs []samples.Pair
	develPairs []samples.Pair
}

// RegisterNewModel records m as the best model when its adjudication
// log-likelihood matches or beats the best so far.
func (c *Context) RegisterNewModel(m *model.Model, logLik float64) {
	if c.BestModel == nil || logLik >= c.BestLogLik {
		fmt.Fprintln(c.Log, "new best model found")
		c.BestModel = m
		c.BestLogLik = logLik
	}
}

// MakeContext compiles the samples and seeds the run. A nil initialModel
// starts from the oblivious zerogram.
func (t *ModelTemplate) MakeContext(train, devel []samples.Pair, initialModel *model.Model) (*Context, error) {
	if t.MinIterations > t.MaxIterations {
		return nil, fmt.Errorf("%w: min iterations %d > max iterations %d",
			ErrConfig, t.MinIterations, t.MaxIterations)
	}
	if len(t.SizeTemplates) == 0 {
		return nil, fmt.Errorf("%w: empty size templates", ErrConfig)
	}

	c := &Context{
		Order:      -1,
		Log:        os.Stdout,
		trainPairs: train,
		develPairs: devel,
	}
	// Symbols must be indexed before Q is computed, so the oblivious
	// zerogram sees the real inventory sizes.
	for _, p := range train {
		t.Space.CompilePair(p.Left, p.Right)
	}
	for _, p := range devel {
		t.Space.CompilePair(p.Left, p.Right)
	}
	if initialModel != nil {
		c.Model = initialModel
	} else {
		c.Model = t.ObliviousModel()
	}

	master := t.masterSequenceModel(c.Model)
	c.TrainSample = NewSample(t.Space, t.SizeTemplates, t.Emergence, train, master)
	c.TrainSample.SetJobs(t.Jobs)
	if len(devel) > 0 {
		c.DevelSample = NewSample(t.Space, t.SizeTemplates, lattice.Anonymize, devel, master)
	}
	if t.NewAdjuster != nil {
		c.Adjuster = t.NewAdjuster(c)
	} else if c.DevelSample != nil {
		c.Adjuster = NewOptimizingAdjuster(c.DevelSample, c.Model.Discount, t.Viterbi, false)
	} else {
		c.Adjuster = &StaticDiscounts{Discount: c.Model.Discount}
	}
	return c, nil
}

// iterate runs one EM step and reports whether training converged.
func (t *ModelTemplate) iterate(ctx context.Context, c *Context) (bool, error) {
	evidence, logLikTrain, err := c.TrainSample.Evidence(ctx, c.Model.SequenceModel, t.Viterbi)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(c.Log, "LL train: %g (before)\n", logLikTrain)
	c.LogLikTrain = append(c.LogLikTrain, logLikTrain)

	if c.DevelSample == nil && c.Iteration > t.MinIterations {
		c.RegisterNewModel(c.Model, logLikTrain)
	}

	order := evidence.MaximumHistoryLength()
	fmt.Fprintf(c.Log, "  evidence order: %d\n", order)
	if c.Order >= 0 && order != c.Order {
		fmt.Fprintf(c.Log, "  warning: evidence order changed from %d to %d!\n", c.Order, order)
	}
	c.Order = order
	fmt.Fprintf(c.Log, "  evidence types: %d\n", evidence.Size())
	fmt.Fprintf(c.Log, "  evidence total / max: %g / %g\n", evidence.Total(), evidence.Maximum())

	estimator := seqmodel.NewEstimator(evidence, t.Space.Term, t.PossibleMultigrams())
	newModel := &model.Model{Space: t.Space}
	newModel.Discount = c.Adjuster.Adjust(c, estimator, evidence.Maximum(), order)
	newModel.SequenceModel = estimator.SequenceModel(newModel.Discount)
	fmt.Fprintf(c.Log, "  model size: %d\n", newModel.SequenceModel.Size())

	var logLikDevel float64
	if c.DevelSample != nil {
		logLikDevel, err = c.DevelSample.LogLik(ctx, newModel.SequenceModel, t.Viterbi)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.Log, "LL devel: %g\n", logLikDevel)
		c.LogLikDevel = append(c.LogLikDevel, logLikDevel)
	}

	for _, observer := range t.Observers {
		observer(c, newModel)
	}

	if c.DevelSample != nil && c.Iteration >= t.MinIterations {
		c.RegisterNewModel(newModel, logLikDevel)
	}

	shouldStop := false
	if c.BestModel != nil {
		crit := c.LogLikTrain
		if c.DevelSample != nil {
			crit = c.LogLikDevel
		}
		window := t.ConvergenceWindow
		if window > len(crit) {
			window = len(crit)
		}
		negated := make([]float64, window)
		for i := 0; i < window; i++ {
			negated[i] = -crit[len(crit)-window+i]
		}
		if !minimize.HasSignificantDecrease(negated) {
			fmt.Fprintln(c.Log, "iteration converged.")
			shouldStop = true
		}
	}

	c.Model = newModel
	return shouldStop, nil
}

// Run drives the EM loop until convergence, the iteration cap, an error,
// or cancellation, and returns the best model seen. Cancellation is not
// an error: the best model so far is published.
func (t *ModelTemplate) Run(ctx context.Context, c *Context) (*model.Model, error) {
	lastCheckpoint := cpuTime()
	shouldStop := false
	for !shouldStop {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(c.Log, "training cancelled.")
			break
		}
		if c.Iteration >= t.MaxIterations {
			fmt.Fprintln(c.Log, "maximum number of iterations reached.")
			break
		}
		fmt.Fprintf(c.Log, "iteration: %d\n", c.Iteration)
		var err error
		shouldStop, err = t.iterate(ctx, c)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintln(c.Log, "training cancelled.")
				break
			}
			fmt.Fprintf(c.Log, "iteration failed: %v\n", err)
			break
		}
		if t.CheckpointInterval > 0 && cpuTime() > lastCheckpoint+t.CheckpointInterval {
			if err := t.Checkpoint(c); err != nil {
				return nil, err
			}
			lastCheckpoint = cpuTime()
		}
		c.Iteration++
		fmt.Fprintln(c.Log)
	}
	if c.BestModel == nil {
		return nil, ErrNoModel
	}
	return c.BestModel, nil
}
