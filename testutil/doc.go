// Package testutil provides test doubles for the pump bridge packages.
//
// MockBus is an in-memory natsclient.Bus with the same slash topic wildcards
// as the real client ("+" for one level, trailing "#" for the rest). Delivery
// is synchronous and every published payload is recorded:
//
//	bus := testutil.NewMockBus()
//	_ = bus.Publish(ctx, "pump/1/command", []byte(`{"rpm":10}`))
//	testutil.WaitForMessageCount(t, bus, "pump/+/status", 1, time.Second)
//
// FakePort stands in for the serial device. A Responder decides each reply
// and its delay; Inject queues unsolicited lines; SetWriteError and FailReads
// simulate a dead link. Overlaps counts frames written while an earlier reply
// was still outstanding, which is how tests check that exchanges never
// interleave.
//
// MemoryStateStore is an in-memory pump.StateStore.
package testutil
