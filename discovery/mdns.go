package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsService = "_trivir._tcp"

// MDNS registers this peer's announcement as an mDNS service and browses for
// other peers, forwarding their announcements as entries. It covers networks
// where raw UDP multicast is filtered but mDNS relays exist. The stream ends
// when ctx is cancelled.
func MDNS(ctx context.Context, ann Announcement, port int) (<-chan Entry, error) {
	infoBytes, err := json.Marshal(ann)
	if err != nil {
		return nil, err
	}
	info := string(infoBytes)
	host, _ := os.Hostname()
	instance := fmt.Sprintf("trivir-%s-%s", host, ann.PeerID)
	server, err := zeroconf.Register(instance, mdnsService, "local.", port, []string{info}, nil)
	if err != nil {
		return nil, err
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, err
	}

	found := make(chan *zeroconf.ServiceEntry)
	out := make(chan Entry, 10)
	go func() {
		defer close(out)
		defer server.Shutdown()
		for entry := range found {
			if len(entry.Text) == 0 {
				continue
			}
			parsed := ParseAnnouncement([]byte(entry.Text[0]))
			if parsed == nil || parsed.PeerID == ann.PeerID {
				continue
			}
			select {
			case out <- Entry{Info: []byte(entry.Text[0]), Time: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, mdnsService, "local.", found); err != nil {
		server.Shutdown()
		return nil, err
	}
	return out, nil
}
