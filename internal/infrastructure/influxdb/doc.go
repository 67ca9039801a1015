// Package influxdb provides InfluxDB connectivity for the GeoModel service.
//
// The table bridge writes one table_response point per observed device
// change, so a run on the table can be replayed as position and flow
// curves. Requests and link counters go to table_request and table_link.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceResponse("pump", "OK", 300, 0, time.Now())
//
// # Error Handling
//
// Writes are non-blocking. Batch errors arrive through SetOnError and are
// counted in Stats; connection and health check errors are returned.
package influxdb
