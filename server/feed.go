package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Number of messages that we will buffer for a websocket client, before we start dropping
const FeedSendBufferSize = 15

// DetectionFeed fans decoded NN results out to websocket clients.
// A slow client loses messages. It never slows down the capture loop.
type DetectionFeed struct {
	log         logs.Log
	lock        sync.Mutex
	subscribers map[*feedSubscriber]struct{}
}

type feedSubscriber struct {
	send        chan []byte
	nDropped    int64
	lastDropMsg time.Time
}

func NewDetectionFeed(log logs.Log) *DetectionFeed {
	return &DetectionFeed{
		log:         log,
		subscribers: map[*feedSubscriber]struct{}{},
	}
}

// Publish sends the result to every connected client
func (f *DetectionFeed) Publish(res *nnfamily.Result) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.subscribers) == 0 {
		return
	}
	msg, err := json.Marshal(res)
	if err != nil {
		f.log.Errorf("Failed to marshal NN result: %v", err)
		return
	}
	now := time.Now()
	for s := range f.subscribers {
		select {
		case s.send <- msg:
		default:
			s.nDropped++
			if now.Sub(s.lastDropMsg) > 5*time.Second {
				f.log.Infof("Dropped %v messages to detection websocket", s.nDropped)
				s.lastDropMsg = now
			}
		}
	}
}

func (f *DetectionFeed) NumSubscribers() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.subscribers)
}

func (f *DetectionFeed) subscribe() *feedSubscriber {
	s := &feedSubscriber{
		send: make(chan []byte, FeedSendBufferSize),
	}
	f.lock.Lock()
	f.subscribers[s] = struct{}{}
	f.lock.Unlock()
	return s
}

func (f *DetectionFeed) unsubscribe(s *feedSubscriber) {
	f.lock.Lock()
	delete(f.subscribers, s)
	f.lock.Unlock()
}

// Run sends results to the websocket until the client disconnects
func (f *DetectionFeed) Run(conn *websocket.Conn) {
	defer conn.Close()
	s := f.subscribe()
	defer f.unsubscribe(s)

	// We don't expect anything from the client, but we must read in order to notice when it closes
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-s.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.log.Debugf("Detection websocket write failed: %v", err)
				return
			}
		}
	}
}
