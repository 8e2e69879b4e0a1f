// Package mavlink implements the Link (C1), Telemetry Ingestor (C2), and
// Command Executor (C4) of the autopilot session: the half-duplex serial
// transport to the autopilot, the long-running telemetry decode loop, and
// the confirm-by-observation mode/arm commands built on top of it.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// ConnectHeartbeatTimeout bounds how long Open waits for the autopilot's
// first heartbeat before giving up.
const ConnectHeartbeatTimeout = 5 * time.Second

var (
	// ErrRecvTimeout is returned by Recv when no matching message arrives
	// before the deadline. It is an ordinary condition, not a link failure.
	ErrRecvTimeout = errors.New("mavlink: receive timeout")
	// ErrLinkClosed is returned by Recv/Send once the Link has been closed.
	// When the autopilot never sends a first heartbeat, Open returns an
	// error wrapping ErrRecvTimeout instead.
	ErrLinkClosed = errors.New("mavlink: link closed")
)

// Transport is the subset of Link that the Command Executor and Mission
// Protocol Engine depend on. Defining it where it's consumed lets tests
// drive those components with an in-memory fake instead of a real serial
// link.
type Transport interface {
	Send(msg message.Message) error
	Recv(ctx context.Context, match func(message.Message) bool, timeout time.Duration) (message.Message, error)
	TargetSystem() uint8
	TargetComponent() uint8
}

type subscriber struct {
	match func(message.Message) bool
	ch    chan message.Message
}

// Link owns the serial transport to the autopilot. recv and send are
// independent half-duplex paths: gomavlib's node serializes writes
// internally, and reads fan out from a single dispatch loop to any number
// of waiters, so a slow mission-protocol wait never blocks a concurrent
// set-mode send.
type Link struct {
	node   *gomavlib.Node
	logger *log.Logger

	targetMu        sync.RWMutex
	targetSystem    uint8
	targetComponent uint8

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open creates the serial transport and blocks until the autopilot's first
// heartbeat arrives or ConnectHeartbeatTimeout elapses.
func Open(device string, baud int, logger *log.Logger) (*Link, error) {
	if logger == nil {
		logger = log.Default()
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{
				Device: device,
				Baud:   baud,
			},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: 255, // ground-control-station system id
	})
	if err != nil {
		return nil, fmt.Errorf("open serial link: %w", err)
	}

	l := &Link{
		node:          node,
		logger:        logger,
		subs:          make(map[int]*subscriber),
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
		closed:        make(chan struct{}),
	}

	go l.dispatch()
	go l.sendGroundStationMessages()

	msg, err := l.Recv(context.Background(), func(m message.Message) bool {
		_, ok := m.(*common.MessageHeartbeat)
		return ok
	}, ConnectHeartbeatTimeout)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("waiting for first heartbeat: %w", err)
	}
	_ = msg // target system/component are recorded by dispatch()

	if err := l.requestDataStreams(); err != nil {
		l.logger.Printf("mavlink: warning - failed to request data streams: %v", err)
	}

	return l, nil
}

// dispatch is the single reader of the node's event stream. It records the
// discovered target system/component and fans each decoded message out to
// every subscriber whose filter matches, dropping the message for a
// subscriber whose channel is full rather than blocking the whole pipeline.
func (l *Link) dispatch() {
	for evt := range l.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		msg := frm.Message()

		if _, ok := msg.(*common.MessageHeartbeat); ok {
			l.targetMu.Lock()
			l.targetSystem = frm.SystemID()
			l.targetComponent = frm.ComponentID()
			l.targetMu.Unlock()
		}

		l.subMu.Lock()
		for _, sub := range l.subs {
			if !sub.match(msg) {
				continue
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
		l.subMu.Unlock()
	}
}

func (l *Link) requestDataStreams() error {
	return l.Send(&common.MessageRequestDataStream{
		TargetSystem:    l.TargetSystem(),
		TargetComponent: l.TargetComponent(),
		ReqStreamId:     uint8(common.MAV_DATA_STREAM_ALL),
		ReqMessageRate:  4, // 4 Hz per spec §6
		StartStop:       1,
	})
}

// sendGroundStationMessages periodically announces this agent as a ground
// control station and pushes wall-clock time, matching the behavior
// pymavlink's mavlink_connection companion process provides: PX4 and
// ArduPilot both use this to keep treating the link as a live GCS and to
// warm-start GPS lock faster.
func (l *Link) sendGroundStationMessages() {
	defer close(l.heartbeatDone)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopHeartbeat:
			return
		case <-ticker.C:
			_ = l.node.WriteMessageAll(&common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				BaseMode:       0,
				CustomMode:     0,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			})
			now := time.Now()
			_ = l.node.WriteMessageAll(&common.MessageSystemTime{
				TimeUnixUsec: uint64(now.UnixMicro()),
				TimeBootMs:   uint32(now.UnixMilli() % (1 << 32)),
			})
		}
	}
}

// Send transmits an outbound frame to every endpoint (there is exactly one:
// the serial link).
func (l *Link) Send(msg message.Message) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	return l.node.WriteMessageAll(msg)
}

// Recv waits for the next message for which match returns true, or returns
// ErrRecvTimeout if none arrives within timeout. It is safe to call
// concurrently with Send and with other Recv calls for disjoint filters.
func (l *Link) Recv(ctx context.Context, match func(message.Message) bool, timeout time.Duration) (message.Message, error) {
	sub := &subscriber{match: match, ch: make(chan message.Message, 8)}

	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = sub
	l.subMu.Unlock()

	defer func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-sub.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrRecvTimeout
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TargetSystem returns the autopilot's MAVLink system id, discovered from
// the first heartbeat. Safe to call concurrently with dispatch's writes.
func (l *Link) TargetSystem() uint8 {
	l.targetMu.RLock()
	defer l.targetMu.RUnlock()
	return l.targetSystem
}

// TargetComponent returns the autopilot's MAVLink component id. Safe to call
// concurrently with dispatch's writes.
func (l *Link) TargetComponent() uint8 {
	l.targetMu.RLock()
	defer l.targetMu.RUnlock()
	return l.targetComponent
}

// Close is idempotent; it stops the ground-station sender, releases the
// transport, and wakes any pending Recv calls with ErrLinkClosed.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopHeartbeat)
		select {
		case <-l.heartbeatDone:
		case <-time.After(2 * time.Second):
			l.logger.Println("mavlink: warning - ground station sender stop timeout")
		}
		close(l.closed)
		l.node.Close()
	})
	return nil
}
