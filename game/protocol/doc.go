// Package protocol implements the newline-delimited text protocol spoken
// between kart clients and the race server.
//
// Every line is one message. The first whitespace-separated token names the
// message and the remaining tokens are its arguments. Display names travel
// with spaces replaced by '_' (see EscapeName).
//
// Message Types:
//
// Client-to-server messages implement Command and server-to-client messages
// implement Event. Both interfaces are closed: only the types declared in this
// package satisfy them, so a type switch over a decoded Command can cover the
// whole command set.
//
// Usage:
//
//	cmd, err := protocol.Decode(line)
//	if err != nil {
//		// errors.Is(err, protocol.ErrUnknownCommand) or protocol.ErrMalformed
//	}
//	switch c := cmd.(type) {
//	case protocol.Login:
//		...
//	}
//
//	conn.WriteLine(protocol.LoginResult{OK: true}.Line())
package protocol
