package server

import (
	"sync"
	"sync/atomic"

	"github.com/sire-training/sire/internal/services/sire/escalation"
)

// wsPeer is one realtime connection. Frames are queued and written by a
// single writer goroutine.
type wsPeer struct {
	connectionID string
	actor        string

	out      chan wsFrame
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	dropped  atomic.Int64
}

func newWSPeer(connectionID, actor string) *wsPeer {
	return &wsPeer{
		connectionID: connectionID,
		actor:        actor,
		out:          make(chan wsFrame, peerQueueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// send queues frame without blocking. It reports false when the frame was
// dropped.
func (p *wsPeer) send(frame wsFrame) bool {
	select {
	case <-p.done:
		return false
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.out <- frame:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// writeLoop drains the queue into write until stopped or a write fails.
// Frames already queued at stop time are still flushed.
func (p *wsPeer) writeLoop(write func(wsFrame) error) {
	defer close(p.done)
	for {
		select {
		case frame := <-p.out:
			if err := write(frame); err != nil {
				return
			}
		case <-p.stop:
			for {
				select {
				case frame := <-p.out:
					if err := write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// finish stops the writer and waits for it to flush.
func (p *wsPeer) finish() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

type roomHub struct {
	mu    sync.Mutex
	rooms map[string]map[*wsPeer]struct{}
	peers map[*wsPeer]func()
}

func newRoomHub() *roomHub {
	return &roomHub{
		rooms: make(map[string]map[*wsPeer]struct{}),
		peers: make(map[*wsPeer]func()),
	}
}

// register tracks peer so closeAll can disconnect it.
func (h *roomHub) register(peer *wsPeer, disconnect func()) {
	h.mu.Lock()
	h.peers[peer] = disconnect
	h.mu.Unlock()
}

// unregister drops peer from the hub and every room.
func (h *roomHub) unregister(peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peer)
	for code, members := range h.rooms {
		delete(members, peer)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
}

func (h *roomHub) join(code string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[*wsPeer]struct{})
		h.rooms[code] = members
	}
	members[peer] = struct{}{}
}

func (h *roomHub) isMember(code string, peer *wsPeer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[code][peer]
	return ok
}

func (h *roomHub) memberCount(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[code])
}

// dropRoom forgets a room. Its peers stay connected.
func (h *roomHub) dropRoom(code string) {
	h.mu.Lock()
	delete(h.rooms, code)
	h.mu.Unlock()
}

func (h *roomHub) broadcast(code string, frame wsFrame) int {
	h.mu.Lock()
	members := make([]*wsPeer, 0, len(h.rooms[code]))
	for peer := range h.rooms[code] {
		members = append(members, peer)
	}
	h.mu.Unlock()
	return sendAll(members, frame)
}

func (h *roomHub) broadcastAll(frame wsFrame) int {
	h.mu.Lock()
	peers := make([]*wsPeer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.Unlock()
	return sendAll(peers, frame)
}

func sendAll(peers []*wsPeer, frame wsFrame) int {
	delivered := 0
	for _, peer := range peers {
		if peer.send(frame) {
			delivered++
		}
	}
	return delivered
}

// closeAll disconnects every registered peer.
func (h *roomHub) closeAll() {
	h.mu.Lock()
	disconnects := make([]func(), 0, len(h.peers))
	for _, disconnect := range h.peers {
		if disconnect != nil {
			disconnects = append(disconnects, disconnect)
		}
	}
	h.mu.Unlock()
	for _, disconnect := range disconnects {
		disconnect()
	}
}

// TimelineTick implements escalation.Broadcaster.
func (h *roomHub) TimelineTick(code string, tick escalation.Tick) {
	h.broadcast(code, wsFrame{
		Type: "timeline:tick",
		Payload: mustJSON(timelineTickPayload{
			Index:         tick.Index,
			Title:         tick.Title,
			Description:   tick.Description,
			TimeOffsetSec: tick.OffsetSeconds,
		}),
	})
}

// SessionEnded implements escalation.Broadcaster.
func (h *roomHub) SessionEnded(code string) {
	h.broadcast(code, wsFrame{
		Type:    "session:end",
		Payload: mustJSON(sessionEndPayload{SessionCode: code}),
	})
}

var _ escalation.Broadcaster = (*roomHub)(nil)
