// mock-thermode is a simulated TCS stimulation device for testing the
// host without hardware. It speaks the TCS ASCII protocol over TCP:
// - F1/F0 quiet and follow mode
// - N<ttt> neutral (baseline) temperature
// - D<z><mmmmm> per-zone stimulation duration
// - V<z><ssss> / R<z><ssss> ramp and return speeds
// - C<ttt>x5 five-zone temperature targets
// - E temperature readback, A abort
//
// Zone temperatures follow their targets as a rate-limited plant: each
// zone slews toward its target at the configured ramp speed, so readback
// shows realistic tracking lag rather than instant jumps.
//
// Usage:
//
//	mock-thermode -listen 127.0.0.1:5333 [-trace]
//
// Point the host at it with -port tcp:127.0.0.1:5333.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	ZONES = 5

	// Plant update interval. Much faster than the host's 10 Hz command
	// stream so the slew limiting dominates, not the update quantum.
	PLANT_TICK = 10 * time.Millisecond

	NO_READING = -999 // wire sentinel for a zone without a probe reading
)

// ThermodeState is the simulated device: targets, plant temperatures, and
// per-zone speeds, shared between the command handler and the plant loop.
type ThermodeState struct {
	mu sync.Mutex

	baseline float64
	target   [ZONES]float64
	actual   [ZONES]float64
	speed    [ZONES]float64 // ramp speed, °C/s
	retSpeed [ZONES]float64
	duration [ZONES]int // stimulation duration, ms

	follow  bool
	aborted bool
}

func NewThermodeState(baseline float64) *ThermodeState {
	s := &ThermodeState{baseline: baseline}
	for z := 0; z < ZONES; z++ {
		s.target[z] = baseline
		s.actual[z] = baseline
		s.speed[z] = 10.0
		s.retSpeed[z] = 10.0
	}
	return s
}

// step advances every zone toward its target by at most speed*dt.
func (s *ThermodeState) step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for z := 0; z < ZONES; z++ {
		goal := s.target[z]
		rate := s.speed[z]
		if s.aborted {
			goal = s.baseline
			rate = s.retSpeed[z]
		}
		diff := goal - s.actual[z]
		limit := rate * dt
		if math.Abs(diff) <= limit {
			s.actual[z] = goal
		} else if diff > 0 {
			s.actual[z] += limit
		} else {
			s.actual[z] -= limit
		}
	}
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:5333", "TCP listen address")
	baseline := flag.Float64("baseline", 30.0, "Initial temperature, °C")
	trace := flag.Bool("trace", false, "Print every command and reply")
	flag.Parse()

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listening: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()

	fmt.Printf("Mock thermode listening on %s\n", *listenAddr)
	fmt.Printf("Zones: %d, initial temperature: %.1f\n", ZONES, *baseline)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return
		case conn := <-connCh:
			fmt.Printf("Client connected: %s\n", conn.RemoteAddr())
			state := NewThermodeState(*baseline)
			go handleConnection(conn, state, *trace)
		}
	}
}

func handleConnection(conn net.Conn, state *ThermodeState, trace bool) {
	defer conn.Close()

	stopCh := make(chan struct{})
	defer close(stopCh)

	// Plant loop: the zones chase their targets while commands arrive.
	go func() {
		ticker := time.NewTicker(PLANT_TICK)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				state.step(PLANT_TICK.Seconds())
			}
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Split(scanCommands)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		if trace {
			fmt.Printf("CMD %q\n", cmd)
		}
		reply := handleCommand(state, cmd, trace)
		if reply != "" {
			if trace {
				fmt.Printf("  -> %s\n", reply)
			}
			if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
				fmt.Printf("Client write failed: %v\n", err)
				return
			}
		}
	}
	fmt.Printf("Client disconnected: %s\n", conn.RemoteAddr())
}

// scanCommands splits on CR or LF, tolerating CRLF and bare CR framing.
func scanCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// handleCommand executes one command and returns the reply line, empty for
// the fire-and-forget commands.
func handleCommand(state *ThermodeState, cmd string, trace bool) string {
	switch cmd[0] {
	case 'F':
		follow := strings.TrimPrefix(cmd, "F") == "0"
		state.mu.Lock()
		state.follow = follow
		state.aborted = false
		state.mu.Unlock()
		if trace {
			fmt.Printf("  follow=%v\n", follow)
		}

	case 'N':
		if v, ok := parseTenths(cmd[1:]); ok {
			state.mu.Lock()
			state.baseline = v
			state.mu.Unlock()
			if trace {
				fmt.Printf("  baseline=%.1f\n", v)
			}
		}

	case 'D':
		if z, ok := parseZone(cmd); ok {
			if ms, err := strconv.Atoi(cmd[2:]); err == nil {
				state.mu.Lock()
				state.duration[z] = ms
				state.mu.Unlock()
				if trace {
					fmt.Printf("  duration zone=%d ms=%d\n", z+1, ms)
				}
			}
		}

	case 'V', 'R':
		if z, ok := parseZone(cmd); ok {
			if v, okv := parseTenths(cmd[2:]); okv {
				state.mu.Lock()
				if cmd[0] == 'V' {
					state.speed[z] = v
				} else {
					state.retSpeed[z] = v
				}
				state.mu.Unlock()
				if trace {
					fmt.Printf("  %c zone=%d speed=%.1f\n", cmd[0], z+1, v)
				}
			}
		}

	case 'C':
		body := cmd[1:]
		if len(body) != ZONES*3 {
			if trace {
				fmt.Printf("  bad C length %d\n", len(body))
			}
			return ""
		}
		var targets [ZONES]float64
		for z := 0; z < ZONES; z++ {
			v, ok := parseTenths(body[z*3 : z*3+3])
			if !ok {
				return ""
			}
			targets[z] = v
		}
		state.mu.Lock()
		state.target = targets
		state.aborted = false
		state.mu.Unlock()
		if trace {
			fmt.Printf("  targets=%v\n", targets)
		}

	case 'E':
		state.mu.Lock()
		actual := state.actual
		state.mu.Unlock()
		var sb strings.Builder
		for z := 0; z < ZONES; z++ {
			t := int(math.Round(actual[z] * 10))
			if t < 0 {
				t = NO_READING
			}
			fmt.Fprintf(&sb, "%+04d", t)
		}
		return sb.String()

	case 'A':
		state.mu.Lock()
		state.aborted = true
		state.mu.Unlock()
		if trace {
			fmt.Println("  abort, returning to baseline")
		}

	default:
		if trace {
			fmt.Printf("  unknown command %q\n", cmd)
		}
	}
	return ""
}

// parseTenths decodes a decimal field in tenths of a degree.
func parseTenths(s string) (float64, bool) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return float64(v) / 10.0, true
}

// parseZone decodes the 1-based zone digit after the command byte.
func parseZone(cmd string) (int, bool) {
	if len(cmd) < 2 {
		return 0, false
	}
	z := int(cmd[1] - '0')
	if z < 1 || z > ZONES {
		return 0, false
	}
	return z - 1, true
}
