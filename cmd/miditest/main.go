package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"stepgrid/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	var err error
	switch os.Args[1] {
	case "list":
		listPorts()
	case "watch":
		watch()
	case "note":
		err = sendNote(os.Args[2:])
	case "panic":
		err = panicAll(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                          - List MIDI outputs and their ids")
	fmt.Println("  watch                         - Print outputs as they connect/disconnect")
	fmt.Println("  note [output] [ch] [pitch]    - Play a 500ms test note (defaults: first, 1, 60)")
	fmt.Println("  panic [output] [ch]           - Send all-notes-off and all-sound-off")
}

func listPorts() {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	dm := midi.NewDeviceManager(midi.System())
	if !dm.Scan() {
		fmt.Println("\nNo outputs, or the scan timed out.")
		fmt.Println("On macOS a hung CoreMIDI can be fixed with: sudo killall coreaudiod midiserver")
		return
	}
	for i, p := range dm.Ports() {
		fmt.Printf("  %d: %s\n", i, p.ID)
	}
}

func watch() {
	fmt.Println("Watching for output changes. Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager(midi.System())
	go dm.Run(ctx)
	for ev := range dm.Events() {
		fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), ev.Type, ev.Port.ID)
	}
}

// target parses the optional [output] [ch] arguments.
func target(args []string) (string, int, error) {
	out, ch := "", 1
	if len(args) > 0 {
		out = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 || n > 16 {
			return "", 0, fmt.Errorf("channel must be 1-16, got %q", args[1])
		}
		ch = n
	}
	return out, ch, nil
}

func sendNote(args []string) error {
	out, ch, err := target(args)
	if err != nil {
		return err
	}
	pitch := 60
	if len(args) > 2 {
		pitch, err = strconv.Atoi(args[2])
		if err != nil || pitch < 0 || pitch > 127 {
			return fmt.Errorf("pitch must be 0-127, got %q", args[2])
		}
	}

	o := midi.NewOutput(midi.System())
	port, ok := o.Resolve(out)
	if !ok {
		return fmt.Errorf("no MIDI outputs")
	}
	fmt.Printf("Sending note %d on %s ch%d\n", pitch, port.ID, ch)
	o.NoteOn(out, ch, uint8(pitch), 100)
	time.Sleep(500 * time.Millisecond)
	o.NoteOff(out, ch, uint8(pitch))
	return nil
}

func panicAll(args []string) error {
	out, ch, err := target(args)
	if err != nil {
		return err
	}
	o := midi.NewOutput(midi.System())
	if len(args) < 2 {
		// no channel given: all of them
		for c := 1; c <= 16; c++ {
			o.AllNotesOff(out, c)
		}
		fmt.Println("All notes off sent on 16 channels")
		return nil
	}
	o.AllNotesOff(out, ch)
	fmt.Printf("All notes off sent on ch%d\n", ch)
	return nil
}
