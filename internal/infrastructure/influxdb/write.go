package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the table service.
const (
	MeasurementResponse = "table_response"
	MeasurementRequest  = "table_request"
	MeasurementLink     = "table_link"
)

// WriteDeviceResponse records one cached device response.
//
// One point per observed change, tagged by device and status, so a run
// can be replayed as position curves. Never blocks.
//
// Parameters:
//   - device: Device slug (e.g., "pitch", "pump")
//   - status: Status reported by the table (e.g., "OK", "BADPARAM")
//   - value: Reported position or flow
//   - seconds: Reported time left to reach the target
//   - ts: When the response was observed
func (c *Client) WriteDeviceResponse(device, status string, value float64, seconds int, ts time.Time) {
	c.write(responsePoint(device, status, value, seconds, ts))
}

// WriteRequest records a request submitted to the table.
// origin is mqtt, api or script; outcome is sent, rejected or ignored.
func (c *Client) WriteRequest(device, verb, origin, outcome string, value float64) {
	c.write(requestPoint(device, verb, origin, outcome, value, time.Now()))
}

// WriteLinkStats records transport counters for the table link.
func (c *Client) WriteLinkStats(transport string, sent, received, errors uint64) {
	c.write(linkPoint(transport, sent, received, errors, time.Now()))
}

func responsePoint(device, status string, value float64, seconds int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementResponse,
		map[string]string{
			"device": device,
			"status": status,
		},
		map[string]interface{}{
			"value":   value,
			"seconds": int64(seconds),
		},
		ts,
	)
}

func requestPoint(device, verb, origin, outcome string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRequest,
		map[string]string{
			"device":  device,
			"verb":    verb,
			"origin":  origin,
			"outcome": outcome,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}

func linkPoint(transport string, sent, received, errors uint64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLink,
		map[string]string{
			"transport": transport,
		},
		map[string]interface{}{
			"sent":     sent,
			"received": received,
			"errors":   errors,
		},
		ts,
	)
}
