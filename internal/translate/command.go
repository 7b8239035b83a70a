package translate

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Command translates by piping text to an external program's stdin and
// reading its stdout. The command line is split on whitespace; no shell
// quoting is applied.
type Command struct {
	path string
	args []string
}

// NewCommand builds a Command from a whitespace-separated command line.
// Returns nil when the line is blank.
func NewCommand(commandLine string) *Command {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	return &Command{path: fields[0], args: fields[1:]}
}

func (c *Command) Translate(ctx context.Context, text string) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = strings.NewReader(text)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}

	translated := strings.TrimSpace(out.String())
	if translated == "" {
		return "", ErrNoTranslation
	}
	return translated, nil
}
