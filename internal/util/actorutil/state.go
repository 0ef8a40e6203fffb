package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorWithStates embeds a protoactor behavior and lets an actor express
// its states as named types instead of bare receive funcs.
type ActorWithStates struct {
	Behavior actor.Behavior
}

// ActorState is one named state of an ActorWithStates.
type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	s.Behavior.UnbecomeStacked()
}
