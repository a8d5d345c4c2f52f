// Package tcp carries the line protocol over plain TCP connections.
//
// Each line is one command or event terminated by "\n"; a trailing "\r" is
// stripped so telnet-style clients work. Listener adapts a net.Listener to
// session.Listener and Conn adapts a net.Conn to session.Conn.
//
// Usage:
//
//	ln, err := tcp.Listen(":7777")
//	if err != nil {
//		return err
//	}
//	go srv.Serve(ctx, ln)
package tcp
