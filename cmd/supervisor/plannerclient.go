package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/0mdb/robot-buddy/internal/httpkit"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

// plannerRequest is the world-state JSON posted to the planner backend's
// /plan endpoint.
type plannerRequest struct {
	RobotID        string   `json:"robot_id"`
	Seq            uint64   `json:"seq"`
	MonotonicTsMs  float64  `json:"monotonic_ts_ms"`
	Mode           string   `json:"mode"`
	BatteryMV      uint16   `json:"battery_mv"`
	RangeMM        uint16   `json:"range_mm"`
	Faults         []string `json:"faults"`
	ClearConf      float64  `json:"clear_confidence"`
	BallDetected   bool     `json:"ball_detected"`
	BallConf       float64  `json:"ball_confidence"`
	BallBearingDeg float64  `json:"ball_bearing_deg"`
	VisionAgeMs    float64  `json:"vision_age_ms"`
	SpeedLMMs      int16    `json:"speed_l_mm_s"`
	SpeedRMMs      int16    `json:"speed_r_mm_s"`
	VCapped        int      `json:"v_capped"`
	WCapped        int      `json:"w_capped"`
	ActiveSkill    string   `json:"planner_active_skill"`
	RecentEvents   []string `json:"recent_events"`
	Trigger        string   `json:"trigger"`
	FaceTalking    bool     `json:"face_talking"`
	FaceListening  bool     `json:"face_listening"`
}

// plannerResponse is the planner backend's /plan reply.
type plannerResponse struct {
	Actions           []map[string]any `json:"actions"`
	TTLMs             int              `json:"ttl_ms"`
	PlanID            string           `json:"plan_id"`
	RobotID           string           `json:"robot_id"`
	Seq               uint64           `json:"seq"`
	MonotonicTsMs     float64          `json:"monotonic_ts_ms"`
	ServerMonotonicMs float64          `json:"server_monotonic_ts_ms"`
}

// PlannerClient is the outbound HTTP client for the LLM planner backend's
// /plan and /health endpoints.
type PlannerClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewPlannerClient builds a PlannerClient sharing the supervisor's
// standard outbound transport and retry policy.
func NewPlannerClient(baseURL string, timeout time.Duration, logger *slog.Logger) *PlannerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlannerClient{
		baseURL: baseURL,
		client: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(1, 150*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// errAdmissionSaturated is returned when the planner backend reports 429:
// a concurrent plan request is already in flight server-side.
var errAdmissionSaturated = fmt.Errorf("planner: admission saturated")

// RequestPlan builds a world-state payload from s and POSTs it to /plan.
func (c *PlannerClient) RequestPlan(ctx context.Context, s *worldstate.State, robotID string, seq uint64, monoMs float64, activeSkill, trigger string, recentEvents []string) (plannerResponse, error) {
	req := plannerRequest{
		RobotID:        robotID,
		Seq:            seq,
		MonotonicTsMs:  monoMs,
		Mode:           string(s.Mode),
		BatteryMV:      s.BatteryMV,
		RangeMM:        s.RangeMM,
		Faults:         faultNames(s.FaultFlags),
		ClearConf:      s.ClearConfidence,
		BallDetected:   s.BallConfidence >= 0.60,
		BallConf:       s.BallConfidence,
		BallBearingDeg: s.BallBearingDeg,
		VisionAgeMs:    s.VisionAgeMs,
		SpeedLMMs:      s.SpeedLMMs,
		SpeedRMMs:      s.SpeedRMMs,
		VCapped:        s.TwistCapped.VMMs,
		WCapped:        s.TwistCapped.WMradS,
		ActiveSkill:    activeSkill,
		RecentEvents:   recentEvents,
		Trigger:        trigger,
		FaceTalking:    s.FaceTalking,
		FaceListening:  s.FaceListening,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return plannerResponse{}, fmt.Errorf("planner: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(body))
	if err != nil {
		return plannerResponse{}, fmt.Errorf("planner: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return plannerResponse{}, fmt.Errorf("planner: request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusTooManyRequests {
		return plannerResponse{}, errAdmissionSaturated
	}
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return plannerResponse{}, fmt.Errorf("planner: backend unavailable: status %d: %s", resp.StatusCode, msg)
	}

	var out plannerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return plannerResponse{}, fmt.Errorf("planner: invalid schema: %w", err)
	}
	return out, nil
}

// Health probes the planner backend's /health endpoint, used by the tick
// loop's background poller to skip a plan request when the backend is
// already known-down.
func (c *PlannerClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("planner: build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("planner: health: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("planner: health: status %d", resp.StatusCode)
	}
	return nil
}

func faultNames(flags uint16) []string {
	names := []string{}
	type named struct {
		bit  uint16
		name string
	}
	for _, f := range []named{
		{1 << 0, "CMD_TIMEOUT"}, {1 << 1, "ESTOP"}, {1 << 2, "TILT"},
		{1 << 3, "STALL"}, {1 << 4, "IMU_FAIL"}, {1 << 5, "BROWNOUT"}, {1 << 6, "OBSTACLE"},
	} {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}
