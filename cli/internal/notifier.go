package cli

import (
	"fmt"
	"io"
)

// terminalNotifier prints operation feedback for the user
type terminalNotifier struct {
	out io.Writer
	err io.Writer
}

func (n terminalNotifier) Success(msg string) {
	fmt.Fprintf(n.out, "✓ %s\n", msg)
}

func (n terminalNotifier) Error(msg string) {
	fmt.Fprintf(n.err, "✗ %s\n", msg)
}
