// Command media-server serves adaptively bitrate-switched video and audio
// over a hand-rolled WebSocket protocol.
package main

import (
	"fmt"
	"os"

	"github.com/StanfordSNR/puffer-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
