package scuttle

// Digest is a compact per-sender summary: for each known live node, the
// highest version already held. It is the opening statement of a gossip
// round: "for each node N I know, I have everything up to version v_N; send
// me anything newer." The wire-level framing of a Digest (streamed entry by
// entry under an MTU budget, or encoded whole over an established stream)
// is the transport's concern, not the core's.
type Digest map[NodeID]Version
