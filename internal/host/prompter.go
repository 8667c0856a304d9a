package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/banjo-dev/banjo/internal/permission"
)

// LinePrompter asks permission questions on a text stream: it prints the
// numbered options and reads the chosen number. An empty answer or EOF
// declines.
type LinePrompter struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer

	start sync.Once
	lines chan string
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out, lines: make(chan string)}
}

// readLines feeds lines from in until EOF, then closes the channel. One
// reader survives a cancelled prompt and serves the next one.
func (p *LinePrompter) readLines() {
	defer close(p.lines)
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}

func (p *LinePrompter) Choose(ctx context.Context, prompt permission.Prompt) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\nPermission requested: %s\n", prompt.Title)
	for i, opt := range prompt.Options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt.Name)
	}
	fmt.Fprint(p.out, "Choice: ")

	p.start.Do(func() { go p.readLines() })

	var line string
	select {
	case l, ok := <-p.lines:
		if !ok {
			return "", false, nil
		}
		line = l
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return "", false, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(prompt.Options) {
		// Accept an option id typed verbatim.
		for _, opt := range prompt.Options {
			if opt.OptionID == text {
				return opt.OptionID, true, nil
			}
		}
		return "", false, nil
	}
	return prompt.Options[n-1].OptionID, true, nil
}
