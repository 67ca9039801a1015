// Package serialio carries table messages over a direct serial link, the
// transport the table used before it had a network interface.
//
// Frames are terminated by a single 0xFF byte (EOM). The link runs at
// 9600 baud 8N1 by default and reads in a background goroutine with a
// bounded read timeout so Close is noticed promptly.
package serialio
