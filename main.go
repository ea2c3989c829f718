package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed CLI flags
type AppOptions struct {
	ConfigFile string
	SolveFile  string
	Method     string
	SceneFile  string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// appRunner is the set of entry points the CLI can dispatch to
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunSolveFile()
	RunService()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		os.Exit(2)
	}
}

// run parses CLI flags and dispatches to the appropriate app mode.
// Split from main so flag handling is testable.
func run(args []string, out io.Writer, app appRunner) error {
	fs := flag.NewFlagSet("radioloc", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	solveFile := fs.String("solve", "", "Solve a single sample batch from JSON file and exit")
	method := fs.String("method", "", "Override robust method for --solve (ransac, lmeds, msac, prosac, promeds)")
	sceneFile := fs.String("scene", "", "Write a scene plot for --solve (extension picks .svg or .png)")
	mqttMode := fs.Bool("mqtt", false, "Run MQTT service mode for real-time position tracking")
	httpMode := fs.Bool("http", false, "Enable HTTP server for positions and scene plots")
	httpPort := fs.Int("http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "radioloc version: %s\n", Version)

	app.ApplyOptions(AppOptions{
		ConfigFile: *configFile,
		SolveFile:  *solveFile,
		Method:     *method,
		SceneFile:  *sceneFile,
		HttpPort:   *httpPort,
		MqttMode:   *mqttMode,
		HttpMode:   *httpMode,
	})

	if *solveFile != "" {
		app.RunSolveFile()
		return nil
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return nil
	}

	fmt.Fprintln(out, "radioloc service starting...")
	fmt.Fprintln(out, "Use --solve=FILE to estimate a position from a JSON sample batch")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - station layout, MQTT settings and solver tuning")
	return nil
}
