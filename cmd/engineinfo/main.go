// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command engineinfo starts an engine and prints what the driver,
// its devices and the selected queue family support
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/internal/demo"
)

var (
	graphics = flag.Bool("graphics", false, "Start a graphical engine instead of a compute engine")
	level    = flag.String("level", "info", "Level the capabilities are logged at")
	asJSON   = flag.Bool("json", false, "Print the capability report as JSON to stdout")
)

func main() {
	flag.Parse()
	d := demo.MustSetup("engineinfo")
	d.Exit(run(d))
}

func run(d *demo.Demo) error {
	lvl, err := logrus.ParseLevel(*level)
	if err != nil {
		return err
	}

	cfg := core.ComputeConfiguration()
	if *graphics {
		cfg = core.GraphicalConfiguration()
	}
	e, err := d.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer d.Shutdown(e)

	report := e.Report()
	d.PrintReport(lvl, report)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return nil
}
