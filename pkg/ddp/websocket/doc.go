// Package websocket serves DDP over WebSocket connections using
// github.com/coder/websocket. A Listener is a ddp.Transport; each text frame
// carries one DDP message.
package websocket
