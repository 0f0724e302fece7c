// tipctl inspects and administers a TipTap device store.
package main

import (
	"os"

	"github.com/mbd888/tiptap/cmd/tipctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
