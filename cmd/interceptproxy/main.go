/*
This command provides a reverse proxy that intercepts the responses of a
single backend service. It can decompress the responses of the backend,
apply replacement rules to the textual bodies and compress the responses
for the clients that accept it.

For the list of command line options, run:

	interceptproxy -help

The options can also be loaded from a YAML file, passed with -config-file.
The command line flags take precedence over the file.
*/
package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/intercept/config"
	"github.com/zalando/intercept/logging"
	"github.com/zalando/intercept/run"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf(
			"Intercept proxy version %s (commit: %s)\n",
			version, commit,
		)

		return
	}

	if err := logging.Init(cfg.LoggingOptions()); err != nil {
		log.Fatal(err)
	}

	if err := run.Run(cfg); err != nil {
		log.Fatal(err)
	}
}
