package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wallnav.ai/internal/protocol"
)

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "navsim observer base url")
		every   = flag.Int("every", 1, "print every Nth step")
		tail    = flag.Int("tail", 0, "history tail points to request")
		move    = flag.String("move", "", "location to drag (needs -to)")
		to      = flag.String("to", "", "drag destination as x,y")
		frames  = flag.Int("frames", 0, "exit after this many STATE frames (0 = until the run ends)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[observe] ", log.LstdFlags|log.Lmicroseconds)

	boot, err := fetchBootstrap(strings.TrimRight(*baseURL, "/") + "/v1/observer/bootstrap")
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	logger.Printf("run=%s scenario=%s walls=%d locations=%d drag_epsilon=%.2f",
		boot.RunID, boot.Scenario, len(boot.Walls), len(boot.Locations), boot.DragEpsilon)

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		EveryN:          *every,
		HistoryTail:     *tail,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	if *move != "" {
		gesture, err := dragGesture(boot, *move, *to)
		if err != nil {
			logger.Fatalf("drag: %v", err)
		}
		for _, d := range gesture {
			if err := conn.WriteJSON(d); err != nil {
				logger.Fatalf("send DRAG: %v", err)
			}
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	seen := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("connection closed: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			logger.Printf("%s", formatState(st))
			seen++
			if *frames > 0 && seen >= *frames {
				return
			}
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.Accepted {
				logger.Printf("ACK %s %s %s", ack.AckFor, ack.Phase, ack.Location)
			} else {
				logger.Printf("ACK %s %s rejected: %s %s", ack.AckFor, ack.Phase, ack.Code, ack.Message)
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func fetchBootstrap(url string) (protocol.BootstrapResponse, error) {
	var boot protocol.BootstrapResponse
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return boot, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return boot, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		return boot, err
	}
	if boot.ProtocolVersion != protocol.Version {
		return boot, fmt.Errorf("server speaks protocol %s, want %s", boot.ProtocolVersion, protocol.Version)
	}
	return boot, nil
}

// dragGesture presses on the named location, moves it halfway and releases
// it at the destination.
func dragGesture(boot protocol.BootstrapResponse, name, to string) ([]protocol.DragMsg, error) {
	var from *protocol.Location
	for i := range boot.Locations {
		if boot.Locations[i].Name == name {
			from = &boot.Locations[i]
			break
		}
	}
	if from == nil {
		return nil, fmt.Errorf("unknown location %q", name)
	}
	x, y, err := parsePoint(to)
	if err != nil {
		return nil, err
	}
	msg := func(phase string, x, y float64) protocol.DragMsg {
		return protocol.DragMsg{Type: protocol.TypeDrag, ProtocolVersion: protocol.Version, Phase: phase, X: x, Y: y}
	}
	return []protocol.DragMsg{
		msg(protocol.DragPress, from.X, from.Y),
		msg(protocol.DragMove, (from.X+x)/2, (from.Y+y)/2),
		msg(protocol.DragRelease, x, y),
	}, nil
}

func parsePoint(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("y: %w", err)
	}
	return x, y, nil
}

func formatState(st protocol.StateMsg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step=%d %-8s pose=(%.2f,%.2f,%.1f)", st.Step, st.Steer, st.Pose.X, st.Pose.Y, st.Pose.Heading)
	if st.Mission != "" {
		fmt.Fprintf(&b, " mission=%s", st.Mission)
	}
	if st.Whisker {
		b.WriteString(" whisker")
	}
	if st.Crashed {
		b.WriteString(" CRASHED")
		if st.CrashPoint != nil {
			fmt.Fprintf(&b, " at (%.2f,%.2f)", st.CrashPoint[0], st.CrashPoint[1])
		}
	}
	if len(st.Tail) > 0 {
		fmt.Fprintf(&b, " tail=%d", len(st.Tail))
	}
	return b.String()
}
