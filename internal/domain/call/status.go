package call

// Status is the overall call status.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Terminal statuses are absorbing: no mutation moves a call out of them.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusDeclined, StatusCancelled:
		return true
	}
	return false
}

var callTransitions = map[Status][]Status{
	StatusRinging: {StatusActive, StatusEnded, StatusMissed, StatusDeclined, StatusCancelled},
	StatusActive:  {StatusEnded},
}

// CanTransition reports whether a call may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range callTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParticipantStatus is the per-participant status.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
)

var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantPending:  {ParticipantAccepted, ParticipantDeclined},
	ParticipantAccepted: {ParticipantJoined, ParticipantLeft},
	ParticipantJoined:   {ParticipantLeft},
}

// CanTransition reports whether a participant may move from s to next.
func (s ParticipantStatus) CanTransition(next ParticipantStatus) bool {
	for _, allowed := range participantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Done reports whether the participant is out of the call for good.
func (s ParticipantStatus) Done() bool {
	return s == ParticipantDeclined || s == ParticipantLeft
}
