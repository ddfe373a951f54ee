package server

// broadcastID marks an envelope destined for every connected client.
const broadcastID = -1

type envelope struct {
	to  int
	msg any
}

// outbox buffers engine output while the session mutex is held. The engine
// loop drains it and writes to sockets outside the lock, so a slow client
// can never stall a state transition.
type outbox struct {
	queue []envelope
}

func (o *outbox) SendTo(playerID int, msg any) {
	o.queue = append(o.queue, envelope{to: playerID, msg: msg})
}

func (o *outbox) Broadcast(msg any) {
	o.queue = append(o.queue, envelope{to: broadcastID, msg: msg})
}

func (o *outbox) drain() []envelope {
	q := o.queue
	o.queue = nil
	return q
}
