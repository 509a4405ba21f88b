package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"stepgrid/control"
	"stepgrid/export"
	"stepgrid/midi"
	"stepgrid/theme"
	"stepgrid/tui"
)

var version = "dev"

// engineFlags returns fresh flags for every command that builds an engine.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "bank", Aliases: []string{"b"}, Usage: "load patterns and chain from a YAML or JSON bank file"},
		&cli.Float64Flag{Name: "tempo", Aliases: []string{"t"}, Usage: "tempo in BPM (20-300)"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "MIDI output id (see 'stepgrid outputs')"},
	}
}

func main() {
	app := &cli.App{
		Name:    "stepgrid",
		Usage:   "16-step MIDI sequencer with pattern chaining",
		Version: version,
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (.json, .yaml)", EnvVars: []string{"STEPGRID_CONFIG"}},
			&cli.BoolFlag{Name: "debug", Usage: "write a debug log"},
			&cli.StringFlag{Name: "log", Usage: "debug log path (default ~/.config/stepgrid/debug.log)"},
		}, engineFlags()...),
		Action: runTUI,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "open the sequencer (default)",
				Flags:  engineFlags(),
				Action: runTUI,
			},
			{
				Name:      "export",
				Usage:     "write the chain, or the first pattern, as a Standard MIDI File",
				ArgsUsage: "[file.mid]",
				Flags:     engineFlags(),
				Action:    runExport,
			},
			{
				Name:   "mcp",
				Usage:  "serve MCP tools on stdio",
				Flags:  engineFlags(),
				Action: runMCP,
			},
			{
				Name:   "outputs",
				Usage:  "list MIDI outputs",
				Action: listOutputs,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func exportDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func runTUI(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	th := theme.Load(a.cfg.Palette)
	m := tui.NewModel(a.manager, th, exportDir())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	_, err = p.Run()
	return err
}

func runExport(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	path := c.Args().First()
	if path == "" {
		path = filepath.Join(exportDir(), export.FileName(time.Now()))
	}
	n, err := export.WriteFile(path, a.manager.ExportInput())
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%s)\n", path, humanize.Bytes(uint64(n)))
	return nil
}

func runMCP(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	s := control.NewServer(a.manager, exportDir(), version)
	return control.Serve(s)
}

func listOutputs(*cli.Context) error {
	dm := midi.NewDeviceManager(midi.System())
	dm.Scan()
	ports := dm.Ports()
	if len(ports) == 0 {
		fmt.Println("No MIDI outputs found")
		return nil
	}
	for _, p := range ports {
		fmt.Printf("  %s\n", p.ID)
	}
	return nil
}
