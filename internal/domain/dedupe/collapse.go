package dedupe

import (
	"regexp"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// completionPattern matches reporting names of network-completion events.
var completionPattern = regexp.MustCompile(`^xhr[._]`)

// IsCompletion reports whether name is a network-completion reporting name.
func IsCompletion(name string) bool {
	return completionPattern.MatchString(name)
}

// Collapse folds name into the last tuple of stream when both are the same
// network completion, bumping its repeat count (absent counts as 1). It
// returns the index of the mutated tuple, or -1 when name must be appended.
// stream is modified in place.
func Collapse(stream []model.Tuple, name string) int {
	if len(stream) == 0 || !IsCompletion(name) {
		return -1
	}
	last := len(stream) - 1
	if stream[last].Name != name {
		return -1
	}
	stream[last].Repeat = stream[last].Count() + 1
	return last
}
