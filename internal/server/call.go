package server

// callSession is the per-room call signaling state machine:
// idle -> ringing -> active -> idle. The room goroutine owns it, so no
// locking is needed. Only signaling intent is tracked; media setup and which
// participants accepted are client-side concerns.
type callSession struct {
	state      callState
	callerId   int
	callerName string
	callType   string
}

type callState int

const (
	callIdle callState = iota
	callRinging
	callActive
)

func (s callState) String() string {
	switch s {
	case callIdle:
		return "idle"
	case callRinging:
		return "ringing"
	case callActive:
		return "active"
	default:
		return "unknown"
	}
}

func (r *Room) handleStartCall(msg *ClientMessage) {
	if r.call.state != callIdle {
		r.log.Printf("rejecting start_call in room %q, call is %s", r.externalId, r.call.state)
		msg.client.queueMessage(ErrCallInProgress(msg.Id))
		return
	}

	callType := msg.StartCall.Type
	if callType != "audio" && callType != "video" {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	r.call = callSession{
		state:      callRinging,
		callerId:   msg.GetUserId(),
		callerName: msg.client.user.Username,
		callType:   callType,
	}

	r.log.Printf("%s call started in room %q by %q", callType, r.externalId, r.call.callerName)
	r.cs.stats.Incr(StatCallsStarted)
	r.cs.stats.Incr(StatActiveCalls)

	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			IncomingCall: &IncomingCall{
				RoomId:     r.externalId,
				CallerId:   r.call.callerId,
				CallerName: r.call.callerName,
				Type:       callType,
			},
		},
		SkipClient: msg.client,
	})
}

func (r *Room) handleAcceptCall(msg *ClientMessage) {
	if r.call.state == callIdle {
		msg.client.queueMessage(ErrNoActiveCall(msg.Id))
		return
	}

	r.call.state = callActive

	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			CallAccepted: &CallAccepted{RoomId: r.externalId},
		},
		SkipClient: msg.client,
	})
}

func (r *Room) handleEndCall(msg *ClientMessage) {
	if r.call.state == callIdle {
		msg.client.queueMessage(ErrNoActiveCall(msg.Id))
		return
	}

	r.log.Printf("call ended in room %q", r.externalId)
	r.call = callSession{}
	r.cs.stats.Decr(StatActiveCalls)

	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			CallEnded: &CallEnded{RoomId: r.externalId},
		},
		SkipClient: msg.client,
	})
}
