package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/christian-lee/subtrans/internal/jobcore"
)

// DecodeSRT parses an SRT-formatted reader into a Track. Malformed blocks
// are skipped rather than aborting the whole parse, since a single bad
// timestamp line in an otherwise-good file shouldn't lose every other cue.
func DecodeSRT(r io.Reader) (Track, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var track Track
	var block []string
	flush := func() {
		if cue, ok := parseSRTBlock(block); ok {
			track = append(track, cue)
		}
		block = block[:0]
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, jobcore.New("subtitle.DecodeSRT", jobcore.BadInput, err)
	}
	return track, nil
}

func parseSRTBlock(lines []string) (Cue, bool) {
	if len(lines) < 2 {
		return Cue{}, false
	}
	idx := 0
	timeLineIdx := 0
	if n, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
		idx = n
		timeLineIdx = 1
	}
	if timeLineIdx >= len(lines) {
		return Cue{}, false
	}
	start, end, ok := parseSRTTimeRange(lines[timeLineIdx])
	if !ok {
		return Cue{}, false
	}
	text := strings.Join(lines[timeLineIdx+1:], "\n")
	return Cue{Index: idx, Start: start, End: end, Text: text}, true
}

func parseSRTTimeRange(line string) (start, end time.Duration, ok bool) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := parseSRTTimestamp(strings.TrimSpace(parts[0]))
	end, err2 := parseSRTTimestamp(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}

func parseSRTTimestamp(s string) (time.Duration, error) {
	s = strings.ReplaceAll(s, ",", ".")
	var h, m int
	var sec float64
	_, err := fmt.Sscanf(s, "%d:%d:%f", &h, &m, &sec)
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), nil
}

// EncodeSRT writes track in SRT format, re-numbering cues sequentially
// from 1 regardless of their original Index.
func EncodeSRT(w io.Writer, track Track) error {
	bw := bufio.NewWriter(w)
	for i, cue := range track {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", formatSRTTimestamp(cue.Start), formatSRTTimestamp(cue.End))
		fmt.Fprintf(bw, "%s\n\n", cue.Text)
	}
	return bw.Flush()
}

func formatSRTTimestamp(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
