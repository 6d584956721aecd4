// Package session holds connection timing policy shared by the server and
// observer clients: handshake and write deadlines, idle detection, and
// reconnect backoff.
package session
