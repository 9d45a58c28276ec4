package iperf

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/netpanel/linkpanel/pkg/types"
)

// streamEvent is one line of iperf3 --json-stream output.
type streamEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type intervalData struct {
	Sum         *bpsEntry  `json:"sum"`
	SumReceived *bpsEntry  `json:"sum_received"`
	SumSent     *bpsEntry  `json:"sum_sent"`
	Streams     []bpsEntry `json:"streams"`
}

type bpsEntry struct {
	BitsPerSecond float64 `json:"bits_per_second"`
	Sender        *bool   `json:"sender,omitempty"`
}

// translateLine maps one raw output line to zero or more protocol lines for
// the event queue. Interval and end events become bare numbers in the run's
// display unit; errors keep an ERROR: prefix; anything non-JSON passes
// through verbatim for the panel log.
func translateLine(line string, unit types.Unit) []string {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Event == "" {
		return []string{line}
	}

	switch ev.Event {
	case "interval", "end":
		bps, ok := extractBps(ev.Data)
		if !ok {
			return nil
		}
		v := bps / unit.BitsPerSecond()
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case "error":
		return []string{"ERROR: " + rawDataString(ev.Data)}
	case "server_output_text":
		text := strings.TrimSpace(rawDataString(ev.Data))
		if text == "" {
			return nil
		}
		return []string{text}
	default:
		// start/connected and friends carry no throughput figure.
		return nil
	}
}

// extractBps pulls the aggregate bits_per_second from an interval or end
// payload: sum_received first, then sum, then sum_sent, then a per-stream
// total.
func extractBps(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var data intervalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, false
	}

	if data.SumReceived != nil {
		return data.SumReceived.BitsPerSecond, true
	}
	if data.Sum != nil {
		return data.Sum.BitsPerSecond, true
	}
	if data.SumSent != nil {
		return data.SumSent.BitsPerSecond, true
	}
	if len(data.Streams) > 0 {
		var total float64
		for _, s := range data.Streams {
			total += s.BitsPerSecond
		}
		return total, true
	}
	return 0, false
}

func rawDataString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
