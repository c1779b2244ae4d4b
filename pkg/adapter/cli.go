package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CLIAdapter is an interactive prompt that runs each line through the
// remote execute-command tool.
type CLIAdapter struct {
	client *Client
	dir    string
	in     io.Reader
	out    io.Writer
}

func NewCLIAdapter(client *Client, dir string) *CLIAdapter {
	return &CLIAdapter{client: client, dir: dir, in: os.Stdin, out: os.Stdout}
}

func (a *CLIAdapter) Start(ctx context.Context) error {
	defer a.client.Close()

	reader := bufio.NewReader(a.in)
	fmt.Fprintln(a.out, "shellmcp remote shell")
	fmt.Fprintln(a.out, "Type 'exit' to quit")

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(a.out, "> ")
		line, err := reader.ReadString('\n')
		text := strings.TrimSpace(line)
		if err != nil && text == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if text == "" {
			continue
		}
		if text == "exit" {
			return nil
		}

		result, callErr := a.client.ExecuteCommand(ctx, text, a.dir)
		if callErr != nil {
			fmt.Fprintf(a.out, "error: %v\n", callErr)
			continue
		}
		lines := result.Lines()
		// The first line echoes the command back.
		if len(lines) > 0 {
			lines = lines[1:]
		}
		for _, l := range lines {
			fmt.Fprintln(a.out, l)
		}
	}
}
