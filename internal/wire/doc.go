// Package wire defines Message, the immutable byte payload carried by the
// datagram and serial transports.
package wire
