package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// Root prints the welcome banner and hands control to the REPL.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Vault CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}
