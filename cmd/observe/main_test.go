package main

import (
	"strings"
	"testing"

	"wallnav.ai/internal/protocol"
)

func TestDragGesture(t *testing.T) {
	boot := protocol.BootstrapResponse{Locations: []protocol.Location{{Name: "mail", X: -5, Y: 10}}}
	g, err := dragGesture(boot, "mail", "5, 20")
	if err != nil {
		t.Fatalf("dragGesture: %v", err)
	}
	if len(g) != 3 {
		t.Fatalf("gesture=%+v", g)
	}
	if g[0].Phase != protocol.DragPress || g[0].X != -5 || g[0].Y != 10 {
		t.Fatalf("press=%+v", g[0])
	}
	if g[1].Phase != protocol.DragMove || g[1].X != 0 || g[1].Y != 15 {
		t.Fatalf("move=%+v", g[1])
	}
	if g[2].Phase != protocol.DragRelease || g[2].X != 5 || g[2].Y != 20 {
		t.Fatalf("release=%+v", g[2])
	}

	if _, err := dragGesture(boot, "storage", "1,2"); err == nil {
		t.Fatalf("expected unknown location error")
	}
	if _, err := dragGesture(boot, "mail", "1;2"); err == nil {
		t.Fatalf("expected bad point error")
	}
}

func TestFormatState(t *testing.T) {
	cp := [2]float64{3, 1}
	s := formatState(protocol.StateMsg{Step: 7, Steer: "right", Mission: "m", Crashed: true, CrashPoint: &cp, Tail: [][2]float64{{0, 0}}})
	for _, want := range []string{"step=7", "right", "mission=m", "CRASHED at (3.00,1.00)", "tail=1"} {
		if !strings.Contains(s, want) {
			t.Fatalf("%q missing %q", s, want)
		}
	}
}
