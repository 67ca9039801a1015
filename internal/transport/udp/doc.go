// Package udp implements the datagram transport between GeoModel Core and
// the table: a fire-and-forget Client with a background receive loop, and a
// request/reply Server used by the table simulator.
//
// Both loops block in a read bounded by an idle timeout. The timeout is a
// liveness tick only; callers never see it. Stopping closes a signal channel
// and then the socket, and each loop re-checks the signal after every read
// returns, so a Stop is observed whether the read failed or returned data.
//
// Usage:
//
//	client := udp.NewClient(udp.WithLogger(logger))
//	if err := client.Start("10.0.8.200", 4000, listener); err != nil {
//	    return err
//	}
//	defer client.Stop()
//	client.Send(wire.FromString("100 0 SET 1.50 5"))
package udp
