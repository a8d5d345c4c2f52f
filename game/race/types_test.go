package race

import (
	"math"
	"testing"
)

func TestTelemetryDiffers(t *testing.T) {
	base := Telemetry{Slot: 1, Rotation: 90, Speed: 3, X: 100, Y: 200}

	tests := []struct {
		name string
		next Telemetry
		want bool
	}{
		{"identical", base, false},
		{"all below epsilon", Telemetry{Slot: 1, Rotation: 90.004, Speed: 3.004, X: 100.004, Y: 199.996}, false},
		{"rotation beyond epsilon", Telemetry{Slot: 1, Rotation: 90.5, Speed: 3, X: 100, Y: 200}, true},
		{"speed beyond epsilon", Telemetry{Slot: 1, Rotation: 90, Speed: 2.9, X: 100, Y: 200}, true},
		{"x beyond epsilon", Telemetry{Slot: 1, Rotation: 90, Speed: 3, X: 101, Y: 200}, true},
		{"y beyond epsilon", Telemetry{Slot: 1, Rotation: 90, Speed: 3, X: 100, Y: 199}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.Differs(base, 0.01); got != tt.want {
				t.Errorf("Differs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTelemetryFinite(t *testing.T) {
	tests := []struct {
		name string
		tel  Telemetry
		want bool
	}{
		{"finite", Telemetry{Slot: 1, Rotation: 90, Speed: 3, X: 100, Y: 200}, true},
		{"NaN rotation", Telemetry{Slot: 1, Rotation: math.NaN()}, false},
		{"infinite speed", Telemetry{Slot: 1, Speed: math.Inf(1)}, false},
		{"negative infinite y", Telemetry{Slot: 1, Y: math.Inf(-1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tel.Finite(); got != tt.want {
				t.Errorf("Finite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollisionNormalized(t *testing.T) {
	c := Collision{SlotA: 5, SlotB: 2, Timestamp: 1000, SpeedA: 7.5, SpeedB: 4}
	n := c.Normalized()

	if n.SlotA != 2 || n.SlotB != 5 {
		t.Fatalf("Expected slots (2,5), got (%d,%d)", n.SlotA, n.SlotB)
	}
	if n.SpeedA != 4 || n.SpeedB != 7.5 {
		t.Errorf("Speeds should follow their slots, got (%v,%v)", n.SpeedA, n.SpeedB)
	}
	if n.Timestamp != 1000 {
		t.Errorf("Timestamp changed: %d", n.Timestamp)
	}

	if c.Pair() != (Pair{Low: 2, High: 5}) {
		t.Errorf("Unexpected pair %+v", c.Pair())
	}
	if (Collision{SlotA: 2, SlotB: 5}).Pair() != c.Pair() {
		t.Error("Pair should not depend on report order")
	}
}
