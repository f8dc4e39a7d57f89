// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestDistance is the largest edit distance still offered as a
// "did you mean".
const maxSuggestDistance = 3

// closest returns the candidate nearest to name, or "" when none is
// within maxSuggestDistance. Ties go to the earlier candidate.
func closest(name string, candidates []string) string {
	best, bestDistance := "", maxSuggestDistance+1
	for _, candidate := range candidates {
		if distance := levenshtein(name, candidate); distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for i, command := range commands {
		names[i] = command.Name
	}
	return closest(unknown, names)
}

// suggestFlag looks for the first flag in args that flagSet does not
// define and returns the nearest defined one, written the way it would
// be typed ("--config", "-c"). Arguments after "--" are not flags.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	for _, arg := range args {
		if arg == "--" {
			return ""
		}
		name, isFlag := strings.CutPrefix(arg, "-")
		if !isFlag {
			continue
		}
		name = strings.TrimPrefix(name, "-")
		name, _, _ = strings.Cut(name, "=")
		if flagSet.Lookup(name) != nil || (len(name) == 1 && flagSet.ShorthandLookup(name) != nil) {
			continue
		}

		var defined []string
		flagSet.VisitAll(func(f *pflag.Flag) { defined = append(defined, f.Name) })
		switch suggestion := closest(name, defined); len(suggestion) {
		case 0:
			return ""
		case 1:
			return "-" + suggestion
		default:
			return "--" + suggestion
		}
	}
	return ""
}

// levenshtein is the edit distance between a and b, counted in runes.
func levenshtein(a, b string) int {
	source, target := []rune(a), []rune(b)
	if len(source) > len(target) {
		source, target = target, source
	}
	row := make([]int, len(source)+1)
	for i := range row {
		row[i] = i
	}
	for j, targetRune := range target {
		diagonal := row[0]
		row[0] = j + 1
		for i, sourceRune := range source {
			substitution := diagonal
			if sourceRune != targetRune {
				substitution++
			}
			diagonal = row[i+1]
			row[i+1] = min(row[i+1]+1, row[i]+1, substitution)
		}
	}
	return row[len(source)]
}
