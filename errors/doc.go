// The taxonomy maps onto the three classes as follows:
//
//	ErrValidation, ErrUnknownDevice  invalid   rejected at the gateway, dropped by the bridge
//	ErrDecode, ErrDeviceRejected     invalid   dropped with a log line
//	ErrExchangeTimeout               transient dropped with a log line, never retried
//	ErrTransport                     transient on the bus, fatal on the serial line
//
// Wrap follows the "component.method: action failed: cause" format:
//
//	if err := ch.write(frame); err != nil {
//	    return errors.WrapFatal(errors.ErrTransport, "Channel", "Exchange", "write frame")
//	}
//
// Callers check the class with IsInvalid, IsTransient and IsFatal, or a
// specific condition with the standard errors.Is.
package errors
