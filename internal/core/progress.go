package core

import (
	"regexp"
	"strconv"
	"strings"
)

type ProgressSample struct {
	Processed int64
	Total     int64
	Percent   float64
}

func (s ProgressSample) Complete() bool {
	return s.Percent >= 100.0
}

// Matches hashcat status lines such as
//
//	Progress.........: 450/1,000 (45,00%)
var progressPattern = regexp.MustCompile(`Progress.*?:\s*([\d,]+)/([\d,]+).*?\(([\d.,]+)%\)`)

// ExtractProgress parses a progress sample from a single line of tool output.
// Lines that do not look like a progress line, or carry numbers that do not
// parse, are not samples.
func ExtractProgress(line string) (ProgressSample, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return ProgressSample{}, false
	}

	processed, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return ProgressSample{}, false
	}

	total, err := strconv.ParseInt(strings.ReplaceAll(m[2], ",", ""), 10, 64)
	if err != nil {
		return ProgressSample{}, false
	}

	percent, err := strconv.ParseFloat(strings.ReplaceAll(m[3], ",", "."), 64)
	if err != nil {
		return ProgressSample{}, false
	}

	return ProgressSample{Processed: processed, Total: total, Percent: percent}, true
}
