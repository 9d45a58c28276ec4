package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/netpanel/linkpanel/internal/config"
	"github.com/netpanel/linkpanel/pkg/errors"
	"github.com/netpanel/linkpanel/pkg/types"
)

func testHandler() *Handler {
	h := NewHandler(nil, nil)
	h.SetConfig(config.DefaultConfig())
	return h
}

func TestValidateRunConfigDefaults(t *testing.T) {
	h := testHandler()

	cfg, err := h.validateRunConfig(types.RunConfig{Target: "10.0.0.2"})
	if err != nil {
		t.Fatalf("validateRunConfig: %v", err)
	}
	if cfg.Protocol != types.ProtocolTCP {
		t.Errorf("Protocol = %v, want tcp", cfg.Protocol)
	}
	if cfg.Direction != types.DirectionUpload {
		t.Errorf("Direction = %v, want upload", cfg.Direction)
	}
	if cfg.Streams != 1 || cfg.DurationSec != 10 {
		t.Errorf("Streams/Duration = %d/%d, want 1/10", cfg.Streams, cfg.DurationSec)
	}
	if cfg.Port != h.config.IperfPort {
		t.Errorf("Port = %d, want configured iperf port %d", cfg.Port, h.config.IperfPort)
	}
	if cfg.Unit != types.UnitMbits {
		t.Errorf("Unit = %v, want Mbits", cfg.Unit)
	}
	if cfg.ConnectTimeoutMS != h.config.ConnectTimeoutMS {
		t.Errorf("ConnectTimeoutMS = %d", cfg.ConnectTimeoutMS)
	}
}

func TestValidateRunConfigRejects(t *testing.T) {
	h := testHandler()

	tests := []struct {
		name string
		req  types.RunConfig
	}{
		{"missing target", types.RunConfig{}},
		{"blank target", types.RunConfig{Target: "   "}},
		{"bad protocol", types.RunConfig{Target: "h", Protocol: "sctp"}},
		{"bad direction", types.RunConfig{Target: "h", Direction: "sideways"}},
		{"too many streams", types.RunConfig{Target: "h", Streams: 1000}},
		{"negative streams", types.RunConfig{Target: "h", Streams: -1}},
		{"duration too long", types.RunConfig{Target: "h", DurationSec: 100000}},
		{"negative duration", types.RunConfig{Target: "h", DurationSec: -5}},
		{"bad port", types.RunConfig{Target: "h", Port: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.validateRunConfig(tt.req); err == nil {
				t.Fatalf("validateRunConfig accepted %+v", tt.req)
			}
		})
	}
}

func TestValidateRunConfigNormalizesUnit(t *testing.T) {
	h := testHandler()
	cfg, err := h.validateRunConfig(types.RunConfig{Target: "h", Unit: "gbps"})
	if err != nil {
		t.Fatalf("validateRunConfig: %v", err)
	}
	if cfg.Unit != types.UnitGbits {
		t.Fatalf("Unit = %v, want Gbits", cfg.Unit)
	}
}

func TestValidateRunConfigHonorsConfiguredLimits(t *testing.T) {
	h := NewHandler(nil, nil)
	cfg := config.DefaultConfig()
	cfg.MaxStreams = 2
	h.SetConfig(cfg)

	if _, err := h.validateRunConfig(types.RunConfig{Target: "h", Streams: 3}); err == nil {
		t.Fatal("accepted streams above the configured max")
	}
	if _, err := h.validateRunConfig(types.RunConfig{Target: "h", Streams: 2}); err != nil {
		t.Fatalf("rejected streams at the configured max: %v", err)
	}
}

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"", true},
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/plain", false},
		{"multipart/form-data", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/run_iperf", nil)
		if tt.ct != "" {
			req.Header.Set("Content-Type", tt.ct)
		}
		if got := isJSONContentType(req); got != tt.want {
			t.Errorf("isJSONContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestDecodeJSONBodySingleObject(t *testing.T) {
	var dst types.RunConfig
	req := httptest.NewRequest(http.MethodPost, "/run_iperf",
		strings.NewReader(`{"target":"10.0.0.2","streams":4}`))
	if err := decodeJSONBody(httptest.NewRecorder(), req, &dst, maxJSONBodyBytes); err != nil {
		t.Fatalf("decodeJSONBody: %v", err)
	}
	if dst.Target != "10.0.0.2" || dst.Streams != 4 {
		t.Fatalf("decoded = %+v", dst)
	}
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	var dst types.RunConfig
	req := httptest.NewRequest(http.MethodPost, "/run_iperf",
		strings.NewReader(`{"target":"a"}{"target":"b"}`))
	if err := decodeJSONBody(httptest.NewRecorder(), req, &dst, maxJSONBodyBytes); err == nil {
		t.Fatal("decodeJSONBody accepted two objects")
	}
}

func TestDecodeJSONBodyEnforcesLimit(t *testing.T) {
	var dst types.RunConfig
	body := `{"target":"` + strings.Repeat("x", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/run_iperf", strings.NewReader(body))
	if err := decodeJSONBody(httptest.NewRecorder(), req, &dst, 16); err == nil {
		t.Fatal("decodeJSONBody accepted a body past the limit")
	}
}

func TestRespondErrorUsesRunErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, errors.ErrInvalidConfig("streams must be 1-32", nil), http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The wire message is the human text, not the CODE: prefix form.
	if body["error"] != "streams must be 1-32" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestGetVersion(t *testing.T) {
	h := testHandler()
	h.SetVersion("1.2.3")

	rec := httptest.NewRecorder()
	h.GetVersion(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	var resp VersionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "1.2.3" {
		t.Fatalf("Version = %q", resp.Version)
	}
}
