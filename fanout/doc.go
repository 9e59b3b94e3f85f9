// Package fanout pushes pump status events to every connected realtime
// client.
//
// Hub.Attach subscribes to pump/+/status and queues each event without
// blocking the bus. Hub.Run drains the queue and broadcasts:
//
//	hub := fanout.NewHub(fanout.DefaultConfig(), fanout.WithMetrics(registry))
//	if _, err := hub.Attach(ctx, bus); err != nil {
//	    return err
//	}
//	go hub.Run(ctx)
//	mux.Handle("/ws", fanout.NewHandler(hub))
//
// Clients receive {"topic":"pump/1/status","payload":{...}} text frames.
// A client that fails or times out is removed after the broadcast; the
// others are unaffected.
package fanout
