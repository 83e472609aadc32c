package mqtt

// pendingMsg is a publish held while the broker is unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds publishes made while disconnected, oldest first. A retained
// message replaces a held retained message for the same topic, so a valve
// that moves several times while offline replays only its latest state.
// When full, the oldest message is dropped.
// Not safe for concurrent use; callers synchronize.
type outbox struct {
	msgs     []pendingMsg
	capacity int
	dropped  bool // set once a message is dropped, until the next drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:     make([]pendingMsg, 0, capacity),
		capacity: capacity,
	}
}

// add queues m. It returns true the first time a message is dropped since
// the last drain.
func (o *outbox) add(m pendingMsg) bool {
	if m.retained {
		for i, held := range o.msgs {
			if held.retained && held.topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	first := false
	if len(o.msgs) == o.capacity {
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
		first = !o.dropped
		o.dropped = true
	}
	o.msgs = append(o.msgs, m)
	return first
}

// drain returns the held messages, oldest first, and empties the outbox.
func (o *outbox) drain() []pendingMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]pendingMsg, 0, o.capacity)
	o.dropped = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
