package connection

import (
	"encoding/json"
	"testing"
)

func TestNextFollowsTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    State
		trigger Trigger
		want    State
		ok      bool
	}{
		{Disconnected, TriggerStart, Initializing, true},
		{Error, TriggerStart, Initializing, true},
		{Initializing, TriggerPairingChallenge, AwaitingPairing, true},
		{Initializing, TriggerFailure, Error, true},
		{AwaitingPairing, TriggerPairingConfirmed, Authenticating, true},
		{Authenticating, TriggerSessionValidated, Connecting, true},
		{Authenticating, TriggerFailure, Error, true},
		{Connecting, TriggerReady, Connected, true},
		{Connected, TriggerPause, Paused, true},
		{Connected, TriggerFailure, Error, true},
		{Paused, TriggerResume, Connected, true},
		{Paused, TriggerFailure, Error, true},
		{Connected, TriggerStop, Disconnected, true},
		{Error, TriggerStop, Disconnected, true},
		{AwaitingPairing, TriggerStop, Disconnected, true},

		{Disconnected, TriggerStop, Disconnected, false},
		{Disconnected, TriggerReady, Disconnected, false},
		{Connected, TriggerStart, Disconnected, false},
		{Connecting, TriggerPause, Disconnected, false},
		{Paused, TriggerPause, Disconnected, false},
		{Error, TriggerFailure, Disconnected, false},
		{Disconnected, TriggerFailure, Disconnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.trigger), func(t *testing.T) {
			got, ok := Next(tt.from, tt.trigger)
			if ok != tt.ok {
				t.Fatalf("Next ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("Next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOnlyStopAndFailureLeaveLiveStates(t *testing.T) {
	t.Parallel()

	for e, next := range transitions {
		if !e.from.Live() || next.Live() {
			continue
		}
		if e.trigger != TriggerStop && e.trigger != TriggerFailure {
			t.Fatalf("%s --%s--> %s leaves a live state without teardown", e.from, e.trigger, next)
		}
	}
}

func TestStateNames(t *testing.T) {
	t.Parallel()

	for state := Disconnected; state <= Error; state++ {
		parsed, err := ParseState(state.String())
		if err != nil {
			t.Fatalf("ParseState(%q) returned error: %v", state.String(), err)
		}
		if parsed != state {
			t.Fatalf("ParseState(%q) = %s, want %s", state.String(), parsed, state)
		}
	}

	if got := AwaitingPairing.String(); got != "awaiting_pairing" {
		t.Fatalf("String = %q, want awaiting_pairing", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Fatalf("String = %q, want state(42)", got)
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestStateJSON(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]State{"state": AwaitingPairing})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(payload) != `{"state":"awaiting_pairing"}` {
		t.Fatalf("payload = %s, want awaiting_pairing name", payload)
	}

	var decoded map[string]State
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded["state"] != AwaitingPairing {
		t.Fatalf("decoded = %s, want %s", decoded["state"], AwaitingPairing)
	}
}
