// Package mqtt connects the table service to the lab broker.
//
// The bridge publishes retained device state on geomodel/state/table/{device}
// and takes commands from geomodel/command/table/+, so dashboards and lab
// scripts can drive the table without speaking its UDP or serial protocol.
// The service's own status is retained on geomodel/system/status, with an
// offline will set at connect time.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTableCommands(), 1, bridge.handleCommand)
package mqtt
