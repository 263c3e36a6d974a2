// cmdinteld is the cmdintel background daemon. It is spawned on demand by
// the CLI and exits after an idle timeout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rinawarp/cmdintel/internal/cmd"
)

func main() {
	socket := flag.String("socket", "", "socket path (overrides config)")
	flag.Parse()

	if err := cmd.RunDaemon(context.Background(), *socket); err != nil {
		fmt.Fprintf(os.Stderr, "cmdinteld: %v\n", err)
		os.Exit(1)
	}
}
