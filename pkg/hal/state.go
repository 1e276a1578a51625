package hal

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

const (
	StateIdle       = "idle"
	StatePreviewing = "previewing"
	StateCapturing  = "capturing"
	// StateRecording is reported while previewing with recording enabled.
	// It is not a state of the machine itself.
	StateRecording = "recording"
)

const (
	evStartPreview = "start_preview"
	evStopPreview  = "stop_preview"
	evTakePicture  = "take_picture"
	evSnapshotDone = "snapshot_done"
)

// session tracks the capture mode. Transitions are driven by the hardware
// after the corresponding device operation succeeded.
type session struct {
	fsm *fsm.FSM
}

func newSession() *session {
	return &session{
		fsm: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: evStartPreview, Src: []string{StateIdle}, Dst: StatePreviewing},
				{Name: evStopPreview, Src: []string{StatePreviewing}, Dst: StateIdle},
				{Name: evTakePicture, Src: []string{StateIdle, StatePreviewing}, Dst: StateCapturing},
				{Name: evSnapshotDone, Src: []string{StateCapturing}, Dst: StateIdle},
			},
			fsm.Callbacks{
				"enter_state": func(_ context.Context, e *fsm.Event) {
					logger.Debugf("session %s: %s -> %s", e.Event, e.Src, e.Dst)
				},
			},
		),
	}
}

func (s *session) fire(event string) {
	err := s.fsm.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	logger.Warnf("session event %s in state %s: %s", event, s.fsm.Current(), err)
}

func (s *session) current() string {
	return s.fsm.Current()
}
