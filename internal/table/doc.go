// Package table drives an EMRiver hydraulic geomodel table: pitch, roll,
// upper and lower standpipes, and pump.
//
// A Controller owns a cache of the latest Response per Device and forwards
// Requests through a Connection (UDP, serial or in-process loopback). The
// protocol is fire-and-forget: requests are never acknowledged to the
// caller and responses arrive asynchronously, replacing cache entries as
// they come. Callers read the cache with CurrentValue and never block on
// the network.
//
//	conn, _ := table.NewConnection(cfg.Table, logger)
//	ctrl := table.NewController(conn, table.ControllerOptions{})
//	if err := ctrl.Connect(); err != nil {
//	    return err
//	}
//	ctrl.SendRequest(table.NewSet(table.Pitch, 1.5, 5))
//	resp := ctrl.CurrentValue(table.Pitch)
//
// Messages are encoded by a Codec. TextCodec is the firmware's own line
// format; ProtoCodec and CBORCodec are compact binary alternatives for
// newer firmware builds.
//
// Simulator answers requests like the firmware does without driver
// hardware, and backs cmd/tablesim.
package table
