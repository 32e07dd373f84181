// Command guise-proxy asks the running guised to open its arguments for
// editing and exits once they are closed. Point $EDITOR or $GIT_EDITOR at it.
package main

import (
	"context"
	"os"

	"github.com/codefionn/guise/internal/socketclient"
)

func main() {
	os.Exit(socketclient.Run(context.Background(), os.Args[1:], os.Getenv, os.Stderr))
}
