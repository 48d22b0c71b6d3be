// Package faq loads the clinic's question/answer file and matches user
// utterances against it by keyword overlap.
package faq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type Entry struct {
	Question string
	Answer   string
}

// Parse reads "Q:" / "A:" blocks. Lines after an "A:" line that carry no
// prefix continue the answer; blank lines are ignored. A later duplicate
// question replaces the earlier one.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		out     []Entry
		index   = map[string]int{}
		current string
		have    bool
		answer  []string
	)
	flush := func() {
		if !have {
			return
		}
		e := Entry{Question: current, Answer: strings.TrimSpace(strings.Join(answer, " "))}
		if i, ok := index[current]; ok {
			out[i] = e
		} else {
			index[current] = len(out)
			out = append(out, e)
		}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Q:"):
			flush()
			current = strings.TrimSpace(line[2:])
			have = true
			answer = answer[:0]
		case strings.HasPrefix(line, "A:"):
			answer = append(answer, strings.TrimSpace(line[2:]))
		default:
			answer = append(answer, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("faq: read: %w", err)
	}
	flush()
	return out, nil
}

func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("faq: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}
