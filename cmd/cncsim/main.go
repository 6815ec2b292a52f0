// cncsim is a minimal Grbl-speaking firmware simulator used by integration
// tests that want a real byte stream instead of the in-process FakeLink:
// it opens a pty pair, prints the slave device path on stdout, and speaks
// just enough of the Grbl v1.1 wire protocol (startup banner, ok/error
// acks, '?' status reports, $X unlock, $H homing) to exercise
// ControllerSession end to end.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
)

type fakeFirmware struct {
	alarm    bool
	homed    bool
	x, y, z  float64
	feed     int
	spindleOn bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var startAlarmed bool
	var seedStr string

	root := &cobra.Command{
		Use:   "cncsim",
		Short: "Grbl firmware simulator over a pseudo-tty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(startAlarmed, seedStr)
		},
	}
	root.Flags().BoolVar(&startAlarmed, "start-alarmed", true, "begin in Alarm:1 state, as a freshly-powered Grbl does")
	root.Flags().StringVar(&seedStr, "seed", "", "deterministic RNG seed for jitter in status reports (empty = time-based)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func simulate(startAlarmed bool, seedStr string) error {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return err
	}
	defer ptmx.Close()
	defer pts.Close()

	fmt.Println(pts.Name())

	var seed int64
	if seedStr != "" {
		seed, _ = strconv.ParseInt(seedStr, 10, 64)
	} else {
		seed = int64(os.Getpid())
	}
	rng := rand.New(rand.NewSource(seed))

	fw := &fakeFirmware{alarm: startAlarmed}

	fmt.Fprintf(ptmx, "\r\nGrbl 1.1h ['$' for help]\r\n")
	if fw.alarm {
		fmt.Fprintf(ptmx, "ALARM:1\r\n")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	lines := make(chan string, 64)
	go readLines(ptmx, lines)

	for {
		select {
		case <-sigCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fw.handle(ptmx, line, rng)
		}
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 4096)
	for scanner.Scan() {
		text := scanner.Text()
		// A bare realtime byte (?~!x) rides in the same stream with no
		// trailing newline of its own when sent mid-line by a real
		// client; bufio.Scanner's default split only yields it here if
		// it happened to land at a line boundary, which is good enough
		// for the simulator's purposes.
		for _, b := range []byte(text) {
			if b == '?' || b == '~' || b == '!' || b == 0x18 || b == 0x85 ||
				(b >= 0x90 && b <= 0x9D) {
				out <- string([]byte{b})
			}
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			out <- trimmed
		}
	}
}

func (fw *fakeFirmware) handle(w *os.File, line string, rng *rand.Rand) {
	switch {
	case line == "?":
		fw.writeStatus(w, rng)
		return
	case line == "\x18": // soft reset
		fw.alarm = true
		fw.homed = false
		fmt.Fprintf(w, "\r\nGrbl 1.1h ['$' for help]\r\n")
		return
	case line == "~", line == "!": // cycle start / feed hold
		return
	case len(line) == 1 && line[0] >= 0x90 && line[0] <= 0x9D:
		return // override bytes: silently accepted, reflected in the next status line
	case line == "$X":
		fw.alarm = false
		fmt.Fprintf(w, "[MSG:Caution: Unlocked]\r\nok\r\n")
		return
	case line == "$H":
		if fw.alarm {
			fmt.Fprintf(w, "error:9\r\n")
			return
		}
		fw.homed = true
		fw.x, fw.y, fw.z = 0, 0, 0
		fmt.Fprintf(w, "ok\r\n")
		return
	case strings.HasPrefix(line, "G10") || strings.HasPrefix(line, "G92"):
		fmt.Fprintf(w, "ok\r\n")
		return
	case strings.HasPrefix(line, "M3") || strings.HasPrefix(line, "M4"):
		fw.spindleOn = true
		fmt.Fprintf(w, "ok\r\n")
		return
	case strings.HasPrefix(line, "M5"):
		fw.spindleOn = false
		fmt.Fprintf(w, "ok\r\n")
		return
	default:
		if fw.alarm {
			fmt.Fprintf(w, "error:9\r\n")
			return
		}
		fw.applyMotion(line)
		fmt.Fprintf(w, "ok\r\n")
	}
}

// applyMotion is a deliberately crude parse: it only moves the simulated
// position enough to make status reports look plausible, never validates
// G-code syntax.
func (fw *fakeFirmware) applyMotion(line string) {
	fields := strings.Fields(line)
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(f[1:], 64)
		if err != nil {
			continue
		}
		switch f[0] {
		case 'X', 'x':
			fw.x = v
		case 'Y', 'y':
			fw.y = v
		case 'Z', 'z':
			fw.z = v
		case 'F', 'f':
			fw.feed = int(v)
		}
	}
}

func (fw *fakeFirmware) writeStatus(w *os.File, rng *rand.Rand) {
	state := "Idle"
	if fw.alarm {
		state = "Alarm"
	}
	jitter := rng.Float64() * 0.001
	fmt.Fprintf(w, "<%s|MPos:%.3f,%.3f,%.3f|FS:%d,0|Ov:100,100,100>\r\n",
		state, fw.x+jitter, fw.y, fw.z, fw.feed)
}
