// Package discovery lets trivia peers on the same network find each other
// without any coordinator. Each peer repeats a small signed-id announcement
// {peerId, room, joinedAt} and listens for everyone else's.
//
// Two mechanisms are provided: Announcer speaks raw UDP multicast to
// 239.0.0.1, filtering its own packets with a random per-instance key; MDNS
// registers and browses a zeroconf service for networks where plain
// multicast is filtered. Both deliver Entry values on a channel.
//
// Candidates folds either entry stream into host-election candidate sets:
// a lazy, cancellable sequence that emits a fresh snapshot whenever the
// observed candidate set changes.
//
// Discovery is best-effort presence, not membership: joining a game still
// happens through the room's replicated state, and host election only needs
// the candidate sets to eventually agree.
package discovery
