package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"g2p/internal/config"
	"g2p/internal/lattice"
	"g2p/internal/model"
	"g2p/internal/multigram"
	"g2p/internal/runstore"
	"g2p/internal/samples"
	"g2p/internal/training"
)

var trainOpts struct {
	train string
	devel string
	test  string

	modelFile    string
	newModelFile string

	sizeConstraints string
	minIterations   int
	maxIterations   int

	viterbi       bool
	noEmergence   bool
	rampUp        bool
	wipeOut       bool
	fixedDiscount string
	eager         bool

	checkpoint bool
	resumeFrom string

	transpose      bool
	continuousTest bool
	p2p            bool

	configFile string
	runDB      string
	jobs       int
	partSeed   int64
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Estimate a model with EM training",
	Long: `Train reads a sample, runs EM with discount-tuned absolute
discounting, and writes the best model found. A held-out set (explicit
file or a percentage of the training data) drives discount adjustment
and best-model selection.`,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVarP(&trainOpts.train, "train", "t", "", "read training sample from FILE")
	f.StringVarP(&trainOpts.devel, "devel", "d", "", "held-out sample FILE, or N% of the training data")
	f.StringVarP(&trainOpts.test, "test", "x", "", "read test sample from FILE")
	f.StringVarP(&trainOpts.modelFile, "model", "m", "", "read model from FILE")
	f.StringVarP(&trainOpts.newModelFile, "write-model", "n", "", "write best model to FILE")
	f.StringVarP(&trainOpts.sizeConstraints, "size-constraints", "s", "",
		"multigram shapes: l1,l2,r1,r2 or [l1:r1,l2:r2,...]")
	f.IntVarP(&trainOpts.minIterations, "min-iterations", "i", 20, "minimum number of EM iterations")
	f.IntVarP(&trainOpts.maxIterations, "max-iterations", "I", 100, "maximum number of EM iterations")
	f.BoolVar(&trainOpts.viterbi, "viterbi", false, "use the maximum approximation instead of true EM")
	f.BoolVarP(&trainOpts.noEmergence, "no-emergence", "E", false, "do not allow new multigrams into the model")
	f.BoolVarP(&trainOpts.rampUp, "ramp-up", "r", false, "grow the model by one order before training")
	f.BoolVarP(&trainOpts.wipeOut, "wipe-out", "W", false, "reset probabilities, keep the model structure")
	f.StringVar(&trainOpts.fixedDiscount, "fixed-discount", "", "freeze the discount to D or D1,D2,...")
	f.BoolVar(&trainOpts.eager, "eager-discount-adjustment", false, "re-adjust discounts every iteration")
	f.BoolVar(&trainOpts.checkpoint, "checkpoint", false, "save training state periodically (derives its name from --write-model)")
	f.StringVar(&trainOpts.resumeFrom, "resume-from-checkpoint", "", "load checkpoint FILE and continue training")
	f.BoolVarP(&trainOpts.transpose, "transpose", "T", false, "transpose the final model (phoneme-to-grapheme)")
	f.BoolVar(&trainOpts.continuousTest, "continuous-test", false, "report error rates on devel and test each iteration")
	f.BoolVar(&trainOpts.p2p, "phoneme-to-phoneme", false, "both sides are whitespace-separated symbol sequences")
	f.StringVar(&trainOpts.configFile, "config", "", "YAML training profile providing flag defaults")
	f.StringVar(&trainOpts.runDB, "run-db", "", "record per-iteration results in SQLite FILE")
	f.IntVarP(&trainOpts.jobs, "jobs", "j", 1, "parallel evidence accumulation workers")
	f.Int64Var(&trainOpts.partSeed, "partition-seed", 7, "seed for the devel percentage split")
}

func runTrain(cmd *cobra.Command, args []string) error {
	if trainOpts.configFile != "" {
		profile, err := config.Load(trainOpts.configFile)
		if err != nil {
			return ioError{err}
		}
		applyProfile(cmd, profile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resuming re-enters the loop with the restored context.
	if trainOpts.resumeFrom != "" {
		tpl, tc, err := training.Resume(trainOpts.resumeFrom)
		if err != nil {
			return ioError{err}
		}
		best, err := tpl.Run(ctx, tc)
		if err != nil {
			return err
		}
		return finishModel(best)
	}

	var initial *model.Model
	if trainOpts.modelFile != "" {
		m, err := model.Load(trainOpts.modelFile)
		if err != nil {
			return ioError{err}
		}
		initial = m
	}

	if trainOpts.rampUp {
		if initial == nil {
			return fmt.Errorf("%w: --ramp-up needs a model", training.ErrConfig)
		}
		initial.RampUp()
	}

	if trainOpts.train == "" {
		if initial == nil {
			return fmt.Errorf("%w: nothing to do without --train or --model", training.ErrConfig)
		}
		return finishModel(initial)
	}

	space := multigram.NewSpace()
	if initial != nil {
		space = initial.Space
	}

	tpl := training.NewModelTemplate(space)
	tpl.MinIterations = trainOpts.minIterations
	tpl.MaxIterations = trainOpts.maxIterations
	tpl.Viterbi = trainOpts.viterbi
	tpl.Jobs = trainOpts.jobs
	if trainOpts.noEmergence {
		tpl.Emergence = lattice.Suppress
	}
	if trainOpts.sizeConstraints != "" {
		templates, err := multigram.ParseSizeConstraints(trainOpts.sizeConstraints)
		if err != nil {
			return err
		}
		tpl.SizeTemplates = templates
	}

	trainPairs, err := samples.Load(trainOpts.train, trainOpts.p2p)
	if err != nil {
		return ioError{err}
	}
	var develPairs []samples.Pair
	switch {
	case trainOpts.devel == "":
	case strings.HasSuffix(trainOpts.devel, "%"):
		portion, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(trainOpts.devel, "%")), 64)
		if err != nil {
			return fmt.Errorf("%w: bad devel percentage %q", training.ErrConfig, trainOpts.devel)
		}
		trainPairs, develPairs = samples.Partition(trainPairs, portion/100.0, trainOpts.partSeed)
	default:
		develPairs, err = samples.Load(trainOpts.devel, trainOpts.p2p)
		if err != nil {
			return ioError{err}
		}
	}
	fmt.Printf("training sample: %d + %d devel\n", len(trainPairs), len(develPairs))

	if err := configureAdjuster(tpl, develPairs); err != nil {
		return err
	}

	if trainOpts.checkpoint && trainOpts.newModelFile != "" {
		tpl.CheckpointInterval = 8 * 60 * 60
		ext := filepath.Ext(trainOpts.newModelFile)
		base := strings.TrimSuffix(trainOpts.newModelFile, ext)
		tpl.CheckpointFile = base + "-cp%d" + ext
	}

	if trainOpts.wipeOut && initial != nil {
		initial.WipeOut(tpl.PossibleMultigrams())
	}

	if trainOpts.continuousTest {
		if len(develPairs) > 0 {
			tpl.Observers = append(tpl.Observers, errorRateObserver("devel", develPairs))
		}
		if trainOpts.test != "" {
			testPairs, err := samples.Load(trainOpts.test, trainOpts.p2p)
			if err != nil {
				return ioError{err}
			}
			tpl.Observers = append(tpl.Observers, errorRateObserver("test", testPairs))
		}
	}

	if trainOpts.runDB != "" {
		store, err := runstore.Open(trainOpts.runDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: run store unavailable: %v\n", err)
		} else {
			defer store.Close()
			observer, err := runObserver(store)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: run store unavailable: %v\n", err)
			} else {
				tpl.Observers = append(tpl.Observers, observer)
			}
		}
	}

	tc, err := tpl.MakeContext(trainPairs, develPairs, initial)
	if err != nil {
		return err
	}
	best, err := tpl.Run(ctx, tc)
	if err != nil {
		return err
	}
	return finishModel(best)
}

// configureAdjuster picks the discount strategy the way the flags demand:
// fixed wins, else optimisation against held-out data, else static.
func configureAdjuster(tpl *training.ModelTemplate, develPairs []samples.Pair) error {
	if trainOpts.fixedDiscount != "" {
		var discount []float64
		for _, part := range strings.Split(trainOpts.fixedDiscount, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return fmt.Errorf("%w: bad fixed discount %q", training.ErrConfig, trainOpts.fixedDiscount)
			}
			discount = append(discount, v)
		}
		tpl.NewAdjuster = func(*training.Context) training.DiscountAdjuster {
			return &training.FixedDiscounts{Discount: discount}
		}
		return nil
	}
	if len(develPairs) > 0 {
		eager := trainOpts.eager
		viterbi := trainOpts.viterbi
		tpl.NewAdjuster = func(c *training.Context) training.DiscountAdjuster {
			var initial []float64
			if c.Model != nil {
				initial = c.Model.Discount
			}
			return training.NewOptimizingAdjuster(c.DevelSample, initial, viterbi, eager)
		}
		return nil
	}
	tpl.NewAdjuster = func(c *training.Context) training.DiscountAdjuster {
		var d []float64
		if c.Model != nil {
			d = c.Model.Discount
		}
		return &training.StaticDiscounts{Discount: d}
	}
	return nil
}

// finishModel applies the post-training steps: transpose, strip, write.
func finishModel(m *model.Model) error {
	if trainOpts.transpose {
		if err := m.Transpose(); err != nil {
			return err
		}
	}
	if trainOpts.newModelFile != "" {
		oldSize, newSize := m.Strip()
		fmt.Printf("stripped number of multigrams from %d to %d\n", oldSize, newSize)
		if err := model.Save(trainOpts.newModelFile, m); err != nil {
			return ioError{err}
		}
	}
	return nil
}

func applyProfile(cmd *cobra.Command, p *config.Profile) {
	set := func(name string, apply func()) {
		if !cmd.Flags().Changed(name) {
			apply()
		}
	}
	if p.Train != "" {
		set("train", func() { trainOpts.train = p.Train })
	}
	if p.Devel != "" {
		set("devel", func() { trainOpts.devel = p.Devel })
	}
	if p.Test != "" {
		set("test", func() { trainOpts.test = p.Test })
	}
	if p.SizeConstraints != "" {
		set("size-constraints", func() { trainOpts.sizeConstraints = p.SizeConstraints })
	}
	if p.MinIterations != 0 {
		set("min-iterations", func() { trainOpts.minIterations = p.MinIterations })
	}
	if p.MaxIterations != 0 {
		set("max-iterations", func() { trainOpts.maxIterations = p.MaxIterations })
	}
	if p.Viterbi {
		set("viterbi", func() { trainOpts.viterbi = true })
	}
	if p.NoEmergence {
		set("no-emergence", func() { trainOpts.noEmergence = true })
	}
	if p.FixedDiscount != "" {
		set("fixed-discount", func() { trainOpts.fixedDiscount = p.FixedDiscount })
	}
	if p.EagerDiscountAdjustment {
		set("eager-discount-adjustment", func() { trainOpts.eager = true })
	}
	if p.Jobs != 0 {
		set("jobs", func() { trainOpts.jobs = p.Jobs })
	}
	if p.RunDB != "" {
		set("run-db", func() { trainOpts.runDB = p.RunDB })
	}
}

// runObserver records each iteration in the run store.
func runObserver(store *runstore.Store) (training.Observer, error) {
	runID, err := store.BeginRun(strings.Join(os.Args[1:], " "))
	if err != nil {
		return nil, err
	}
	return func(c *training.Context, newModel *model.Model) {
		var devel *float64
		if n := len(c.LogLikDevel); n > 0 {
			devel = &c.LogLikDevel[n-1]
		}
		train := 0.0
		if n := len(c.LogLikTrain); n > 0 {
			train = c.LogLikTrain[n-1]
		}
		err := store.RecordIteration(runID, c.Iteration, train, devel,
			newModel.Discount, newModel.SequenceModel.Size())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: recording iteration failed: %v\n", err)
		}
	}, nil
}
