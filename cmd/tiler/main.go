// Command tiler downloads a tile pyramid, packs it into an MBTiles file and
// serves it back over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	root, a := newRootCmd()
	err := root.Execute()
	a.exit.Exit()
	if err != nil {
		if a.log != nil {
			a.log.Error(err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
