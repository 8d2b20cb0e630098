package server

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics holds the metrics of the RPC layer
type serverMetrics struct {
	set         *metrics.Set
	connections *metrics.Counter
	sessions    *metrics.Counter
	badRequests *metrics.Counter
}

func newServerMetrics() *serverMetrics {
	set := metrics.NewSet()
	return &serverMetrics{
		set:         set,
		connections: set.NewCounter("dedit_rpc_connections_total"),
		sessions:    set.NewCounter("dedit_rpc_open_sessions"),
		badRequests: set.NewCounter("dedit_rpc_bad_requests_total"),
	}
}

// observe counts a handled request and records its duration
func (m *serverMetrics) observe(msgType common.MessageType, resp *common.Message, start time.Time) {
	m.set.GetOrCreateHistogram(fmt.Sprintf(`dedit_rpc_request_duration_seconds{type=%q}`, msgType.String())).UpdateDuration(start)
	if resp.MsgType == common.MsgTError {
		code := resp.Code
		if code == "" {
			code = "unknown"
		}
		m.set.GetOrCreateCounter(fmt.Sprintf(`dedit_rpc_errors_total{type=%q,code=%q}`, msgType.String(), code)).Inc()
	}
}

func (m *serverMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
