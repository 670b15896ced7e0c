package receipt

import (
	"github.com/ethereum/go-ethereum/common"
)

// Emitter receives events from the pool and the options engine.
type Emitter interface {
	Emit(source common.Address, e Event)
}

// Log is an emitted event tagged with the contract that produced it.
type Log struct {
	Source common.Address
	Index  int
	Event  Event
}

// Recorder buffers the logs of one transaction.
type Recorder struct {
	logs []Log
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(source common.Address, e Event) {
	r.logs = append(r.logs, Log{Source: source, Index: len(r.logs), Event: e})
}

// Take returns the buffered logs and resets the recorder.
func (r *Recorder) Take() []Log {
	out := r.logs
	r.logs = nil
	return out
}

// Logs returns the buffered logs without resetting.
func (r *Recorder) Logs() []Log {
	return r.logs
}

// Discard drops everything buffered since the last Take.
func (r *Recorder) Discard() {
	r.logs = nil
}

// Nop drops all events.
type Nop struct{}

func (Nop) Emit(common.Address, Event) {}
