// Package worldstate defines the aggregated per-tick robot state that
// every other subsystem reads or writes.
package worldstate

import "github.com/0mdb/robot-buddy/internal/protocol"

// Mode is the robot's top-level operating mode.
type Mode string

const (
	ModeBoot   Mode = "BOOT"
	ModeIdle   Mode = "IDLE"
	ModeTeleop Mode = "TELEOP"
	ModeWander Mode = "WANDER"
	ModeError  Mode = "ERROR"
)

// MotionModes are the modes in which a non-zero twist command is
// actually forwarded to the reflex MCU.
var MotionModes = map[Mode]bool{
	ModeTeleop: true,
	ModeWander: true,
}

// Twist is a commanded or measured linear/angular velocity pair.
type Twist struct {
	VMMs    int
	WMradS  int
}

// SpeedCap records one layer of the safety policy's speed scaling and
// why it was applied.
type SpeedCap struct {
	Scale  float64
	Reason string
}

// State is the aggregated snapshot rebuilt every tick.
type State struct {
	Mode Mode

	TwistCmd    Twist
	TwistCapped Twist

	// Reflex telemetry (latest).
	SpeedLMMs     int16
	SpeedRMMs     int16
	GyroZMradS    int16
	BatteryMV     uint16
	FaultFlags    uint16
	RangeMM       uint16
	RangeStatus   protocol.RangeStatus
	ReflexSeq     byte
	ReflexRxMonoMs float64

	VMeasMMs   float64
	WMeasMradS float64

	ReflexConnected       bool
	FaceConnected         bool
	PersonalityEnabled    bool
	PersonalityConnected  bool

	FaceMood       byte
	FaceGesture    byte // 0xFF = none
	FaceSystemMode protocol.FaceSystemMode
	FaceTouchActive bool

	// FaceTalking and FaceListening are supervisor-local flags derived
	// from the audio orchestrator's playback/PTT state each tick, not
	// MCU telemetry.
	FaceTalking   bool
	FaceListening bool

	PersonalityLastPlanMonoMs float64
	PersonalityLastPlanActions int
	PersonalityLastError       string

	SpeedCaps []SpeedCap

	ClearConfidence float64 // -1 = no data
	BallConfidence  float64
	BallBearingDeg  float64
	VisionAgeMs     float64
	VisionFPS       float64

	TickMonoMs float64
	TickDtMs   float64
}

// NoFaceGesture marks FaceGesture as "none currently playing".
const NoFaceGesture byte = 0xFF

// New returns a State in its boot default.
func New() *State {
	return &State{Mode: ModeBoot, FaceGesture: NoFaceGesture, ClearConfidence: -1, VisionAgeMs: -1}
}

// HasFault reports whether the given fault bit is currently set.
func (s *State) HasFault(f uint16) bool { return s.FaultFlags&f != 0 }

// AnyFault reports whether any fault bit is set.
func (s *State) AnyFault() bool { return s.FaultFlags != 0 }

// Snapshot is the JSON-serializable telemetry projection of State,
// matching the field names the operator dashboard and conversation
// profile injection both expect.
type Snapshot struct {
	Mode       string  `json:"mode"`
	VCmd       int     `json:"v_cmd"`
	WCmd       int     `json:"w_cmd"`
	VCapped    int     `json:"v_capped"`
	WCapped    int     `json:"w_capped"`
	VMeas      float64 `json:"v_meas"`
	WMeas      float64 `json:"w_meas"`
	SpeedL     int16   `json:"speed_l"`
	SpeedR     int16   `json:"speed_r"`
	GyroZ      int16   `json:"gyro_z"`
	BatteryMV  uint16  `json:"battery_mv"`
	FaultFlags uint16  `json:"fault_flags"`
	RangeMM    uint16  `json:"range_mm"`
	RangeStatus byte   `json:"range_status"`

	ReflexConnected      bool `json:"reflex_connected"`
	FaceConnected        bool `json:"face_connected"`
	PersonalityEnabled   bool `json:"personality_enabled"`
	PersonalityConnected bool `json:"personality_connected"`

	FaceMood        byte `json:"face_mood"`
	FaceGesture     byte `json:"face_gesture"`
	FaceSystemMode  byte `json:"face_system_mode"`
	FaceTouchActive bool `json:"face_touch_active"`
	FaceTalking     bool `json:"face_talking"`
	FaceListening   bool `json:"face_listening"`

	PersonalityLastPlanMonoMs  float64 `json:"personality_last_plan_mono_ms"`
	PersonalityLastPlanActions int     `json:"personality_last_plan_actions"`
	PersonalityLastError       string  `json:"personality_last_error"`

	SpeedCaps []SpeedCap `json:"speed_caps"`

	TickDtMs    float64 `json:"tick_dt_ms"`
	ClearConf   float64 `json:"clear_conf"`
	BallConf    float64 `json:"ball_conf"`
	BallBearing float64 `json:"ball_bearing"`
	VisionAgeMs float64 `json:"vision_age_ms"`
	VisionFPS   float64 `json:"vision_fps"`
}

// ToSnapshot serializes State for JSON telemetry.
func (s *State) ToSnapshot() Snapshot {
	return Snapshot{
		Mode:        string(s.Mode),
		VCmd:        s.TwistCmd.VMMs,
		WCmd:        s.TwistCmd.WMradS,
		VCapped:     s.TwistCapped.VMMs,
		WCapped:     s.TwistCapped.WMradS,
		VMeas:       round1(s.VMeasMMs),
		WMeas:       round1(s.WMeasMradS),
		SpeedL:      s.SpeedLMMs,
		SpeedR:      s.SpeedRMMs,
		GyroZ:       s.GyroZMradS,
		BatteryMV:   s.BatteryMV,
		FaultFlags:  s.FaultFlags,
		RangeMM:     s.RangeMM,
		RangeStatus: byte(s.RangeStatus),

		ReflexConnected:      s.ReflexConnected,
		FaceConnected:        s.FaceConnected,
		PersonalityEnabled:   s.PersonalityEnabled,
		PersonalityConnected: s.PersonalityConnected,

		FaceMood:        s.FaceMood,
		FaceGesture:     s.FaceGesture,
		FaceSystemMode:  byte(s.FaceSystemMode),
		FaceTouchActive: s.FaceTouchActive,
		FaceTalking:     s.FaceTalking,
		FaceListening:   s.FaceListening,

		PersonalityLastPlanMonoMs:  round1(s.PersonalityLastPlanMonoMs),
		PersonalityLastPlanActions: s.PersonalityLastPlanActions,
		PersonalityLastError:       s.PersonalityLastError,

		SpeedCaps: s.SpeedCaps,

		TickDtMs:    round2(s.TickDtMs),
		ClearConf:   round2(s.ClearConfidence),
		BallConf:    round2(s.BallConfidence),
		BallBearing: round1(s.BallBearingDeg),
		VisionAgeMs: round1(s.VisionAgeMs),
		VisionFPS:   round1(s.VisionFPS),
	}
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }

func roundTo(v float64, factor float64) float64 {
	if v >= 0 {
		return float64(int64(v*factor+0.5)) / factor
	}
	return float64(int64(v*factor-0.5)) / factor
}
