// Package script plays timed request sequences against the table.
//
// A Script is a YAML list of steps, each a request sent at a fixed offset
// from the start. The Runner advances script time on a ticker, excluding
// any time spent paused, and hands due steps to a RequestSender (normally
// the table Controller).
package script
