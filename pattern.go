package framegear

import (
	"fmt"

	"github.com/pkg/errors"
)

// Pattern is the socket topology shared by both ends of a link. The
// numeric values are the pattern codes exchanged during the handshake.
type Pattern int

const (
	// RequestReply makes every send wait for the receiver's reply.
	RequestReply Pattern = 0
	// PublishSubscribe never blocks the sender; frames may be dropped.
	PublishSubscribe Pattern = 1
	// PushPull queues frames in order with backpressure when full.
	PushPull Pattern = 2
)

// ParsePattern converts a pattern code into a Pattern.
func ParsePattern(code int) (Pattern, error) {
	p := Pattern(code)
	if !p.valid() {
		return 0, errors.Wrapf(ErrConfig, "unknown pattern code %d", code)
	}
	return p, nil
}

func (p Pattern) valid() bool {
	return p >= RequestReply && p <= PushPull
}

func (p Pattern) String() string {
	switch p {
	case RequestReply:
		return "request-reply"
	case PublishSubscribe:
		return "publish-subscribe"
	case PushPull:
		return "push-pull"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// queuePolicy says what a side does when its queue cannot take a message.
type queuePolicy int

const (
	blockWhenFull queuePolicy = iota
	dropWhenFull
	awaitReply
)

// sendPolicy is the sender's behaviour for each pattern.
func (p Pattern) sendPolicy() queuePolicy {
	switch p {
	case RequestReply:
		return awaitReply
	case PublishSubscribe:
		return dropWhenFull
	default:
		return blockWhenFull
	}
}

// recvPolicy is the receiver's behaviour when the consumer falls behind.
func (p Pattern) recvPolicy() queuePolicy {
	if p == PublishSubscribe {
		return dropWhenFull
	}
	return blockWhenFull
}

// replies reports whether the receiver answers every frame.
func (p Pattern) replies() bool {
	return p == RequestReply
}

// Role is the side of a link a gear plays.
type Role int

const (
	// SendRole is the initiator: it dials and sends frames.
	SendRole Role = iota
	// RecvRole is the responder: it binds and receives frames.
	RecvRole
)

func (r Role) String() string {
	if r == RecvRole {
		return "receive"
	}
	return "send"
}

func roleOf(receiveMode bool) Role {
	if receiveMode {
		return RecvRole
	}
	return SendRole
}

// checkRole fails with ErrRoleViolation when have is not want.
func checkRole(op string, have, want Role) error {
	if have != want {
		return opError(op, ErrRoleViolation, errors.Errorf("%s is a %s-side operation, gear is %s-side", op, want, have))
	}
	return nil
}
