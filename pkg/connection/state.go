// Package connection owns the transport lifecycle as an explicit state
// machine with a closed transition table.
package connection

import "fmt"

type State int

const (
	Disconnected State = iota
	Initializing
	AwaitingPairing
	Authenticating
	Connecting
	Connected
	Paused
	Error
)

var stateNames = [...]string{
	Disconnected:    "disconnected",
	Initializing:    "initializing",
	AwaitingPairing: "awaiting_pairing",
	Authenticating:  "authenticating",
	Connecting:      "connecting",
	Connected:       "connected",
	Paused:          "paused",
	Error:           "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// Live reports whether a session is established and can deliver messages.
func (s State) Live() bool {
	return s == Connected || s == Paused
}

// ParseState resolves a state name produced by String.
func ParseState(name string) (State, error) {
	for state, candidate := range stateNames {
		if candidate == name {
			return State(state), nil
		}
	}

	return Disconnected, fmt.Errorf("unknown connection state %q", name)
}

// Trigger is an input to the state machine.
type Trigger string

const (
	TriggerStart            Trigger = "start"
	TriggerPairingChallenge Trigger = "pairing_challenge"
	TriggerPairingConfirmed Trigger = "pairing_confirmed"
	TriggerSessionValidated Trigger = "session_validated"
	TriggerReady            Trigger = "ready"
	TriggerPause            Trigger = "pause"
	TriggerResume           Trigger = "resume"
	TriggerFailure          Trigger = "failure"
	TriggerStop             Trigger = "stop"
)

type edge struct {
	from    State
	trigger Trigger
}

var transitions = map[edge]State{
	{Disconnected, TriggerStart}: Initializing,
	{Error, TriggerStart}:        Initializing,

	{Initializing, TriggerPairingChallenge}: AwaitingPairing,
	{Initializing, TriggerPairingConfirmed}: Authenticating,
	{Initializing, TriggerFailure}:          Error,

	{AwaitingPairing, TriggerPairingChallenge}: AwaitingPairing,
	{AwaitingPairing, TriggerPairingConfirmed}: Authenticating,
	{AwaitingPairing, TriggerFailure}:          Error,

	{Authenticating, TriggerSessionValidated}: Connecting,
	{Authenticating, TriggerFailure}:          Error,

	{Connecting, TriggerSessionValidated}: Connecting,
	{Connecting, TriggerReady}:            Connected,
	{Connecting, TriggerFailure}:          Error,

	{Connected, TriggerPause}:   Paused,
	{Connected, TriggerFailure}: Error,

	{Paused, TriggerResume}:  Connected,
	{Paused, TriggerFailure}: Error,
}

func init() {
	for state := Initializing; state <= Error; state++ {
		transitions[edge{state, TriggerStop}] = Disconnected
	}
}

// Next returns the state reached from `from` on trigger, or false when the
// table has no such edge.
func Next(from State, trigger Trigger) (State, bool) {
	next, ok := transitions[edge{from, trigger}]
	return next, ok
}

// happyPath is the next step toward Connected for each pre-connected state.
var happyPath = map[State]Trigger{
	Initializing:    TriggerPairingConfirmed,
	AwaitingPairing: TriggerPairingConfirmed,
	Authenticating:  TriggerSessionValidated,
	Connecting:      TriggerReady,
}

var stepDetail = map[State]string{
	Authenticating: "authenticated",
	Connecting:     "loading session",
	Connected:      "connected",
}
