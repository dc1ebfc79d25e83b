// Package subtitle holds the Cue type and the SRT codec used to read the
// ASR transcript into translatable units and write the translated result
// back out. Grounded on the original's subtitle parsing/writing services
// (original_source/backend/app/services), reimplemented as a narrow,
// dependency-free codec the way the teacher keeps its own format-handling
// code (internal/transcript's CSV writer) next to no external library.
package subtitle

import "time"

// Cue is one subtitle line: a time range and its text, in one language.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Translation holds the same Cue's text in a target language, keyed
// against the source Cue's Index.
type Translation struct {
	Index int
	Text  string
}

// Track is an ordered sequence of Cues for a single language.
type Track []Cue

// Duration returns the end time of the last cue, or zero for an empty track.
func (t Track) Duration() time.Duration {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End
}
