// Package logs reads the daemon log file for the logs command.
//
// Tail returns the last lines of a file and the byte offset where reading
// stopped; Follow polls from that offset and starts over when the daemon.log
// pointer is re-targeted by a new run or the file is truncated.
package logs
