package worldstate

import "testing"

func TestNewDefaultsMatchBoot(t *testing.T) {
	s := New()
	if s.Mode != ModeBoot {
		t.Errorf("Mode = %v, want ModeBoot", s.Mode)
	}
	if s.FaceGesture != NoFaceGesture {
		t.Errorf("FaceGesture = %d, want NoFaceGesture", s.FaceGesture)
	}
	if s.ClearConfidence != -1 || s.VisionAgeMs != -1 {
		t.Errorf("ClearConfidence/VisionAgeMs = %v/%v, want -1/-1", s.ClearConfidence, s.VisionAgeMs)
	}
}

func TestHasFaultAndAnyFault(t *testing.T) {
	s := New()
	if s.AnyFault() {
		t.Fatal("fresh state should have no fault")
	}
	s.FaultFlags = 0x0040
	if !s.AnyFault() {
		t.Error("expected AnyFault true")
	}
	if !s.HasFault(0x0040) {
		t.Error("expected HasFault(0x0040) true")
	}
	if s.HasFault(0x0001) {
		t.Error("expected HasFault(0x0001) false")
	}
}

func TestMotionModesGatesTeleopAndWanderOnly(t *testing.T) {
	for _, m := range []Mode{ModeTeleop, ModeWander} {
		if !MotionModes[m] {
			t.Errorf("expected %v to be a motion mode", m)
		}
	}
	for _, m := range []Mode{ModeBoot, ModeIdle, ModeError} {
		if MotionModes[m] {
			t.Errorf("expected %v not to be a motion mode", m)
		}
	}
}

func TestToSnapshotRoundsFields(t *testing.T) {
	s := New()
	s.VMeasMMs = 123.456
	s.TickDtMs = 19.996
	snap := s.ToSnapshot()
	if snap.VMeas != 123.5 {
		t.Errorf("VMeas = %v, want 123.5", snap.VMeas)
	}
	if snap.TickDtMs != 20.0 {
		t.Errorf("TickDtMs = %v, want 20.0", snap.TickDtMs)
	}
}
