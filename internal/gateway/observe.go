package gateway

import (
	"time"

	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/metrics"
)

// Record reports a finished call to metrics and the event hub.
func Record(pub events.Publisher, gatewayName, method string, started time.Time, err error) {
	d := time.Since(started)
	outcome := Outcome(err)
	metrics.RecordRequest(gatewayName, outcome, d)
	if pub != nil {
		pub.Publish(events.TypeRequestDone, events.RequestDone{
			Gateway:    gatewayName,
			Method:     method,
			Outcome:    outcome,
			DurationMS: d.Milliseconds(),
		})
	}
}
