// Command packager is the CLI entrypoint: it parses stream descriptors
// and flags, wires a media.MuxerOptions + mux.EncryptionOptions pipeline,
// and drives mux.Run to completion (§6).
package main

import (
	"os"

	"github.com/tetsuo/dashpack/cmd/packager/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
