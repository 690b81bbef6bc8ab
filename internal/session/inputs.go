package session

import (
	"time"

	"ringline/internal/domain/call"
	"ringline/internal/events"
	"ringline/internal/media"
)

// input is anything the loop goroutine consumes.
type input interface{ isInput() }

type startCall struct {
	participants []string
	kind         call.Kind
	chat         string
}

type accept struct{}
type decline struct{}
type hangup struct{}

type setSurface struct{ surface Surface }

type setMedia struct{ audio, video bool }

type signalInput struct {
	event      events.Event
	sentAt     time.Time
	receivedAt time.Time
}

type transportInput struct {
	attempt uint64
	event   media.Event
}

type timerFired struct {
	kind timerKind
	gen  uint64
}

type createResult struct {
	attempt uint64
	callID  string
	cred    call.Credential
	err     error
}

type acceptResult struct {
	attempt uint64
	callID  string
	cred    call.Credential
	err     error
}

type rpcDone struct {
	op         string
	callID     string
	err        error
	userAction bool
}

// flush is acknowledged once every input queued before it was handled.
type flush struct{ done chan struct{} }

func (startCall) isInput()      {}
func (accept) isInput()         {}
func (decline) isInput()        {}
func (hangup) isInput()         {}
func (setSurface) isInput()     {}
func (setMedia) isInput()       {}
func (signalInput) isInput()    {}
func (transportInput) isInput() {}
func (timerFired) isInput()     {}
func (createResult) isInput()   {}
func (acceptResult) isInput()   {}
func (rpcDone) isInput()        {}
func (flush) isInput()          {}
