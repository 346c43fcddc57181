package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"g2p/internal/config"
	"g2p/internal/model"
	"g2p/internal/samples"
	"g2p/internal/training"
	"g2p/internal/translate"
)

var applyOpts struct {
	modelFile string
	applyFile string
	word      string

	variantsMass   float64
	variantsNumber int
	stackLimit     int
	transpose      bool
	p2p            bool
	configFile     string
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Convert words with a trained model",
	Long: `Apply loads a model and converts a single word or every word of
a file. With variant cutoffs it enumerates n-best transcriptions with
their posterior probabilities.`,
	RunE: runApply,
}

func init() {
	f := applyCmd.Flags()
	f.StringVarP(&applyOpts.modelFile, "model", "m", "", "read model from FILE")
	f.StringVarP(&applyOpts.applyFile, "apply", "a", "", "convert every word in FILE (one per line)")
	f.StringVarP(&applyOpts.word, "word", "w", "", "convert a single word")
	f.Float64VarP(&applyOpts.variantsMass, "variants-mass", "Q", 0,
		"enumerate variants until their posterior mass reaches Q")
	f.IntVarP(&applyOpts.variantsNumber, "variants-number", "N", 0,
		"enumerate up to N variants")
	f.IntVar(&applyOpts.stackLimit, "stack-limit", translate.DefaultStackLimit,
		"abort decoding beyond this many hypotheses")
	f.BoolVarP(&applyOpts.transpose, "transpose", "T", false, "transpose the model before decoding")
	f.BoolVar(&applyOpts.p2p, "phoneme-to-phoneme", false, "the input side is a whitespace-separated symbol sequence")
	f.StringVar(&applyOpts.configFile, "config", "", "YAML profile providing flag defaults")
}

func runApply(cmd *cobra.Command, args []string) error {
	if applyOpts.configFile != "" {
		p, err := config.Load(applyOpts.configFile)
		if err != nil {
			return ioError{err}
		}
		if p.StackLimit > 0 && !cmd.Flags().Changed("stack-limit") {
			applyOpts.stackLimit = p.StackLimit
		}
		if p.VariantsNumber > 0 && !cmd.Flags().Changed("variants-number") {
			applyOpts.variantsNumber = p.VariantsNumber
		}
		if p.VariantsMass > 0 && !cmd.Flags().Changed("variants-mass") {
			applyOpts.variantsMass = p.VariantsMass
		}
	}
	if applyOpts.modelFile == "" {
		return fmt.Errorf("%w: apply needs --model", training.ErrConfig)
	}
	if applyOpts.applyFile == "" && applyOpts.word == "" {
		return fmt.Errorf("%w: apply needs --apply or --word", training.ErrConfig)
	}

	m, err := model.Load(applyOpts.modelFile)
	if err != nil {
		return ioError{err}
	}
	if applyOpts.transpose {
		if err := m.Transpose(); err != nil {
			return err
		}
	}
	tr := translate.New(m)
	if applyOpts.stackLimit > 0 {
		tr.StackLimit = applyOpts.stackLimit
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if applyOpts.word != "" {
		return applyWord(out, tr, applyOpts.word)
	}

	f, err := os.Open(applyOpts.applyFile)
	if err != nil {
		return ioError{err}
	}
	defer f.Close()

	failures := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" {
			continue
		}
		if err := applyWord(out, tr, word); err != nil {
			if errors.Is(err, translate.ErrTranslationFailure) {
				fmt.Fprintf(os.Stderr, "failed to convert %q: %v\n", word, err)
				failures++
				continue
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return ioError{err}
	}
	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d words failed to convert\n", failures)
	}
	return nil
}

func applyWord(out *bufio.Writer, tr *translate.Translator, word string) error {
	left := splitInput(word)
	if applyOpts.variantsNumber <= 0 && applyOpts.variantsMass <= 0 {
		right, err := tr.Translate(left)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", word, strings.Join(right, " "))
		return nil
	}
	return applyVariants(out, tr, word, left)
}

// applyVariants enumerates n-best transcriptions until the requested
// number or posterior mass is reached, then reports posteriors against
// the final total.
func applyVariants(out *bufio.Writer, tr *translate.Translator, word string, left []string) error {
	nb, err := tr.NBest(left)
	if err != nil {
		return err
	}

	type variant struct {
		right  []string
		logLik float64
	}
	var variants []variant
	for {
		if applyOpts.variantsNumber > 0 && len(variants) >= applyOpts.variantsNumber {
			break
		}
		right, logLik, err := nb.Next()
		if err != nil {
			if errors.Is(err, translate.ErrDone) {
				break
			}
			return err
		}
		variants = append(variants, variant{right, logLik})
		if applyOpts.variantsMass > 0 {
			mass := 0.0
			for _, v := range variants {
				mass += math.Exp(v.logLik - nb.TotalLogLik())
			}
			if mass >= applyOpts.variantsMass {
				break
			}
		}
	}
	if len(variants) == 0 {
		return translate.ErrTranslationFailure
	}
	for _, v := range variants {
		posterior := math.Exp(v.logLik - nb.TotalLogLik())
		fmt.Fprintf(out, "%s\t%.6f\t%s\n", word, posterior, strings.Join(v.right, " "))
	}
	return nil
}

func splitInput(word string) []string {
	if applyOpts.p2p {
		return strings.Fields(word)
	}
	runes := []rune(word)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// errorRateObserver reports devel/test string error rates each iteration.
func errorRateObserver(name string, pairs []samples.Pair) training.Observer {
	return func(c *training.Context, newModel *model.Model) {
		tr := translate.New(newModel)
		references := make(map[string]map[string]bool)
		for _, p := range pairs {
			k := strings.Join(p.Left, "\x00")
			if references[k] == nil {
				references[k] = make(map[string]bool)
			}
			references[k][strings.Join(p.Right, " ")] = true
		}
		errorsSeen, total := 0, 0
		for k, refs := range references {
			total++
			left := strings.Split(k, "\x00")
			right, err := tr.Translate(left)
			if err != nil || !refs[strings.Join(right, " ")] {
				errorsSeen++
			}
		}
		if total > 0 {
			fmt.Fprintf(c.Log, "ER %s: string errors %d/%d (%.2f%%)\n",
				name, errorsSeen, total, 100*float64(errorsSeen)/float64(total))
		}
	}
}
