package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"time"
)

const multicastIpAddress = "239.0.0.1"

// Announcement is the payload a peer repeats while it is present in a room.
// JoinedAt is the claimed join time in Unix milliseconds.
type Announcement struct {
	PeerID   string `json:"peerId"`
	Room     string `json:"room"`
	JoinedAt int64  `json:"joinedAt"`
}

// ParseAnnouncement decodes an announcement payload, returning nil for
// anything malformed or missing a peer id. Garbage on the discovery channel
// is dropped, not reported.
func ParseAnnouncement(b []byte) *Announcement {
	var a Announcement
	if err := json.Unmarshal(b, &a); err != nil {
		return nil
	}
	if a.PeerID == "" {
		return nil
	}
	return &a
}

// Entry is a single announcement received from another peer.
type Entry struct {
	Info []byte
	Time time.Time
}

// Announcer repeatedly multicasts this peer's announcement over UDP and
// listens for announcements from others. Configure Announcement, Port and
// Interval before calling Start; discovered entries then arrive on Entries
// until Close.
type Announcer struct {
	Announcement Announcement
	Port         uint16
	Interval     time.Duration
	Entries      chan Entry
	conn         *net.UDPConn
	sendConn     *net.UDPConn
	key          []byte
	info         []byte
}

// Start joins the multicast group and launches the announce and listen
// loops. On success the Entries channel starts receiving other peers'
// announcements; this peer's own packets are filtered out by a random
// per-instance key prefix.
func (a *Announcer) Start() error {
	info, err := json.Marshal(a.Announcement)
	if err != nil {
		return err
	}
	a.info = info
	a.Entries = make(chan Entry, 10)
	a.key = []byte(fmt.Sprintf("%08x", rand.Uint32()))
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastIpAddress, a.Port))
	if err != nil {
		return err
	}
	a.conn, err = net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	a.sendConn, err = net.DialUDP("udp", nil, addr)
	if err != nil {
		_ = a.conn.Close()
		return err
	}
	a.startListener()
	a.startDialer()
	return nil
}

// Close stops both loops by closing the underlying connections.
func (a *Announcer) Close() error {
	err1 := a.conn.Close()
	err2 := a.sendConn.Close()
	return errors.Join(err1, err2)
}

func (a *Announcer) startListener() {
	go func() {
		for {
			buffer := make([]byte, 2048)
			n, _, err := a.conn.ReadFromUDP(buffer)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			message := buffer[:n]
			if len(message) < 8 || slices.Compare(message[:8], a.key) == 0 {
				continue
			}
			select {
			case a.Entries <- Entry{Info: message[8:], Time: time.Now()}:
			default:
				// A slow consumer drops announcements; the sender repeats
				// them on the next interval anyway.
			}
		}
	}()
}

func (a *Announcer) startDialer() {
	go func() {
		for {
			if _, err := a.sendConn.Write(append(append([]byte(nil), a.key...), a.info...)); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
			}
			time.Sleep(a.Interval)
		}
	}()
}
