// Package wsrooms provides a client for multiplexing many logical rooms over a
// single WebSocket connection.
//
// Every room behaves like its own pub/sub endpoint: it has a membership roster,
// a peer id assigned by the server, and an independent event namespace. All
// rooms share one ordered, reliable connection; each binary message carries
// the room, event, destination and source it belongs to (see package frame).
//
// # Features
//
//   - Many rooms over one WebSocket connection
//   - Per-room event handlers and member lists
//   - Directed (peer to peer) and broadcast sends
//   - Sends issued before the connection opens are queued and flushed in order
//   - Optional join acknowledgement timeout
//   - A matching relay server in package relay
//
// # Quick Start
//
//	conn, err := wsrooms.Dial(ctx, "ws://localhost:8080/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conn.On("open", func(...interface{}) {
//	    lobby, err := conn.Join("lobby")
//	    if err != nil {
//	        log.Println(err)
//	        return
//	    }
//	    lobby.OnMessage("chat", func(payload []byte, src string) {
//	        log.Printf("%s says %s", src, payload)
//	    })
//	    lobby.OnMember("joined", func(id string) {
//	        log.Printf("%s joined the lobby", id)
//	    })
//	})
//
// # Rooms
//
// The connection itself is the "root" room. It opens when the server sends
// its root join response, which also assigns this connection's peer id. Other
// rooms can only be joined once root is open:
//
//	if err := conn.WaitOpen(ctx); err != nil {
//	    return err
//	}
//	arena, _ := conn.Join("arena")
//	arena.Send("move", map[string]int{"x": 3, "y": 4})
//	arena.Send("whisper", "hi", otherPeerID)
//	arena.Leave()
//
// Purge leaves every joined room without closing the connection.
//
// # Payloads
//
// Byte slices are sent verbatim, strings are sent as bytes, and any other value
// is encoded as JSON. Inbound application events are delivered to handlers as
// (payload []byte, source string).
//
// # Events
//
// Besides application events, rooms emit "open", "close", "error", and the
// membership events "joined" and "left" carrying a peer id.
//
// # Thread Safety
//
// All methods are goroutine-safe. Inbound frames are dispatched one at a time
// on the connection's read goroutine and handlers run synchronously on it, so
// a slow handler delays every room. Handlers may call Send, Join, Leave and
// Purge.
package wsrooms
