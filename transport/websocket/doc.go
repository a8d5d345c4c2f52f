// Package websocket carries the line protocol over WebSocket connections.
//
// Browsers and game engines that cannot open raw TCP sockets connect to the
// /ws endpoint instead. Every text frame holds one or more protocol lines
// separated by "\n"; every outbound line is sent as its own text frame.
//
// Core Types:
//
// Acceptor is both an http.Handler (mounted on /ws) and a session.Listener:
// upgraded connections are queued for Accept, so the session server treats
// WebSocket and TCP clients identically.
//
// Conn adapts a *websocket.Conn to session.Conn. It pings the peer every
// pingPeriod and fails reads when no pong arrives within pongWait.
//
// Usage:
//
//	acceptor := websocket.NewAcceptor("/ws", logger)
//	go srv.Serve(ctx, acceptor)
//	http.Handle("/ws", acceptor)
package websocket
