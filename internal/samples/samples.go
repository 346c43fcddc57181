// Package samples loads training data: the plain two-column format and
// the lexicon XML format, with helpers to partition off a held-out
// fraction and to transpose a sample for the inverse direction.
package samples

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
)

// Pair is one training example: a left string already split into symbols
// and its right-side transcription.
type Pair struct {
	Left  []string
	Right []string
}

// Load reads a sample file, picking the lexicon XML reader for .xml files
// and the plain format otherwise. In phoneme-to-phoneme mode the left
// string is split on whitespace instead of into characters.
func Load(path string, phonemeToPhoneme bool) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading sample: %w", err)
	}
	defer f.Close()
	if strings.HasSuffix(path, ".xml") {
		return ReadLexicon(f)
	}
	return ReadPlain(f, phonemeToPhoneme)
}

// ReadPlain parses the plain format: one record per line, the first
// whitespace-delimited token is the left string, the remaining tokens the
// right sequence. Blank lines are skipped.
func ReadPlain(r io.Reader, phonemeToPhoneme bool) ([]Pair, error) {
	var out []Pair
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if phonemeToPhoneme {
			// Both sides are symbol sequences; a tab separates them.
			parts := strings.SplitN(line, "\t", 2)
			left := strings.Fields(parts[0])
			if len(left) == 0 {
				continue
			}
			var right []string
			if len(parts) == 2 {
				right = strings.Fields(parts[1])
			}
			out = append(out, Pair{Left: left, Right: right})
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, Pair{
			Left:  splitLeft(fields[0]),
			Right: fields[1:],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sample: %w", err)
	}
	return out, nil
}

func splitLeft(word string) []string {
	runes := []rune(word)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

type lexicon struct {
	Lemmas []lemma `xml:"lemma"`
}

type lemma struct {
	Orth []string `xml:"orth"`
	Phon []string `xml:"phon"`
}

// ReadLexicon parses the lexicon XML format: every (orth, phon)
// combination of a lemma yields one pair. Orthographies in square
// brackets are non-lexical events and are excluded.
func ReadLexicon(r io.Reader) ([]Pair, error) {
	var lex lexicon
	if err := xml.NewDecoder(r).Decode(&lex); err != nil {
		return nil, fmt.Errorf("reading lexicon: %w", err)
	}
	var out []Pair
	for _, lm := range lex.Lemmas {
		for _, orth := range lm.Orth {
			orth = strings.TrimSpace(orth)
			if orth == "" || (strings.HasPrefix(orth, "[") && strings.HasSuffix(orth, "]")) {
				continue
			}
			for _, phon := range lm.Phon {
				right := strings.Fields(phon)
				if len(right) == 0 {
					continue
				}
				out = append(out, Pair{Left: splitLeft(orth), Right: right})
			}
		}
	}
	return out, nil
}

// Transpose swaps the sides of every pair.
func Transpose(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = Pair{Left: p.Right, Right: p.Left}
	}
	return out
}

// Partition splits off roughly portion of the sample as held-out data.
// All pairs sharing one left string stay on the same side, so
// pronunciation variants never straddle the split. The shuffle is seeded
// for reproducible partitions.
func Partition(pairs []Pair, portion float64, seed int64) (train, devel []Pair) {
	keys := make([]string, 0)
	grouped := make(map[string][]Pair)
	for _, p := range pairs {
		k := strings.Join(p.Left, "\x00")
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		grouped[k] = append(grouped[k], p)
	}
	sort.Strings(keys)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	taken := 0
	for i, k := range keys {
		if float64(taken)/float64(i+1) < portion {
			devel = append(devel, grouped[k]...)
			taken++
		} else {
			train = append(train, grouped[k]...)
		}
	}
	return train, devel
}
