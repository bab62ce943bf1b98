// Package ws implements the duplex streaming client for the chat hub.
//
// A Session owns one WebSocket connection that carries two kinds of
// traffic: commands sent by the client (subscriptions, chat messages,
// typing indicators), each answered by exactly one Success or Error
// frame, and push events the server sends on its own (chat messages,
// membership changes, typing indicators).
//
// Commands issued while no dispatch loop is running are fire-and-forget.
// Once Run starts the dispatch loop, the loop is the only reader of the
// connection: it hands push events to a Handler and routes every
// acknowledgement back to the command that caused it, so commands issued
// from other goroutines block until their outcome arrives.
//
//	sess, err := ws.Connect(ctx, userID, "ws://localhost:8080/api")
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	go func() {
//		_ = sess.SubscribeHub(ctx, hubID) // waits for the server's answer
//	}()
//
//	left, err := ws.Run(ctx, sess, ws.HandlerFunc[hub.ID](
//		func(ctx context.Context, c ws.Commander, ev ws.Event) ws.Decision[hub.ID] {
//			if u, ok := ev.(ws.HubUpdated); ok && u.Update.Kind == ws.UpdateUserLeft {
//				return ws.Stop(u.Update.Subject)
//			}
//			return ws.Continue[hub.ID]()
//		}))
//
// Handlers run on the loop goroutine. The Commander they receive sends
// commands without waiting for the answer, since waiting there would
// block the only reader of the connection.
package ws
