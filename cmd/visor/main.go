// Command visor runs the reactive rule engine: it ingests facts over MQTT,
// evaluates rules and commands input controllers.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		observability.GetLogger().Error("command failed", zap.Error(err))
		observability.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	observability.Sync()
}
