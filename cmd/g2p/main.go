// g2p trains and applies joint-sequence models for grapheme-to-phoneme
// conversion. Samples can be in plain format (one word per line followed
// by its transcription) or lexicon XML format.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"g2p/internal/multigram"
	"g2p/internal/training"
	"g2p/internal/version"
)

// Exit codes: 0 success, 1 usage or model-estimation failure, 2 I/O
// failure.
const (
	exitUsage = 1
	exitIO    = 2
)

// ioError marks failures that should exit with the I/O status.
type ioError struct{ err error }

func (e ioError) Error() string { return e.err.Error() }
func (e ioError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "g2p",
	Short: "Joint-sequence grapheme-to-phoneme conversion",
	Long: `g2p learns a joint-sequence (multigram) model from example
pronunciations and applies it to new words. Training runs EM over
size-constrained alignment lattices with a variable-order back-off
sequence model; decoding is a best-first stack search.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("g2p %s\n", version.Full())
		fmt.Printf("Go version: %s\n", version.GoVersion)
		if version.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", version.BuildDate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "g2p: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var io ioError
	if errors.As(err, &io) {
		return exitIO
	}
	switch {
	case errors.Is(err, training.ErrConfig),
		errors.Is(err, training.ErrNoModel),
		errors.Is(err, multigram.ErrBadSizeConstraints):
		return exitUsage
	}
	return exitUsage
}
