// Package openwire implements the core of an OpenWire messaging client:
// the command model, the binary wire format and the building blocks the
// transport and state packages are assembled from.
//
// # Features
//
//   - Closed set of commands keyed by a stable type byte, versions 1 to 9
//   - Tight encoding (boolean stream, compact longs, structure cache) and
//     loose encoding, both size-prefixed or not
//   - Wire format negotiation through WireFormatInfo
//   - Primitive maps for properties and map message bodies
//   - Destinations with qualified names, options and composites
//   - Advisory topic helpers
//   - Pluggable logging (zerolog JSON or console) and metrics (in-memory,
//     VictoriaMetrics)
//
// # Commands
//
// Every command embeds BaseCommand, which carries the command id and the
// response-required flag. Responses embed Response and messages embed
// Message:
//
//   - ConnectionInfo, SessionInfo, ConsumerInfo, ProducerInfo: resource creation
//   - RemoveInfo: resource disposal
//   - TransactionInfo: transaction lifecycle
//   - MessageDispatch, MessageAck, MessagePull: message flow
//   - Response, ExceptionResponse, DataResponse, DataArrayResponse,
//     IntegerResponse: replies correlated by command id
//   - WireFormatInfo, KeepAliveInfo, ShutdownInfo: connection control
//
// # Wire format
//
// A WireFormat starts in the initial format (version 1, loose encoding) and
// switches to the negotiated settings once Renegotiate has seen the peer's
// WireFormatInfo:
//
//	wf := openwire.NewWireFormat(openwire.WithCache(1024))
//	frame, err := wf.Marshal(wf.PreferredWireFormatInfo())
//	// ... exchange infos with the broker ...
//	err = wf.Renegotiate(remoteInfo)
//
//	cmd, err := wf.Unmarshal(conn)
//
// # Errors
//
// Failures are classified by KindOf into I/O, protocol, state and broker
// errors. Sentinel errors are matched with errors.Is:
//
//	if errors.Is(err, openwire.ErrCacheMiss) {
//	    // the stream is out of sync
//	}
//
// Errors reported by the broker arrive as *BrokerError.
//
// # Related packages
//
//   - transport: socket transports and the filter chain
//   - state: connection state tracking and reconnect replay
//   - task: iterate-until-idle background runners
//   - client: connections, sessions, consumers, producers and advisory handling
//   - cmd/openwire: probe a broker or decode a captured frame
package openwire
