package rules

import "testing"

func TestPrepareValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "trigger with response", rule: Rule{Triggers: []string{"hello"}, Response: Text("hi")}},
		{name: "lead with target and no response", rule: Rule{Triggers: []string{"buy"}, LeadQualifier: true, ForwardTarget: "5511999999999@c.us"}},
		{name: "lead without triggers", rule: Rule{LeadQualifier: true, ForwardTarget: "-1001234"}},
		{name: "no triggers not lead no response", rule: Rule{}, wantErr: true},
		{name: "blank triggers only", rule: Rule{Triggers: []string{" ", ""}, Response: Text("x")}, wantErr: true},
		{name: "trigger without response or forward", rule: Rule{Triggers: []string{"hello"}}, wantErr: true},
		{name: "blank response counts as none", rule: Rule{Triggers: []string{"hello"}, Response: Text("   ")}, wantErr: true},
		{name: "lead missing target", rule: Rule{Triggers: []string{"buy"}, LeadQualifier: true, Response: Text("ok")}, wantErr: true},
		{name: "lead bad target format", rule: Rule{Triggers: []string{"buy"}, LeadQualifier: true, ForwardTarget: "not a number!"}, wantErr: true},
		{name: "non-lead forward target ignored", rule: Rule{Triggers: []string{"x"}, Response: Text("y"), ForwardTarget: "bad target!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Prepare(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Prepare error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && CategoryFromError(err) != ErrorInvalidRule {
				t.Fatalf("category = %q, want %q", CategoryFromError(err), ErrorInvalidRule)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	rule := Rule{
		Triggers:      []string{"  Hello ", "", "PRICE"},
		Response:      Text("  hi  "),
		ForwardTarget: " 123 ",
		ForwardPrefix: " Lead: ",
	}

	got := rule.Normalize()
	if len(got.Triggers) != 2 || got.Triggers[0] != "hello" || got.Triggers[1] != "price" {
		t.Fatalf("triggers = %q, want [hello price]", got.Triggers)
	}
	if got.Response == nil || *got.Response != "hi" {
		t.Fatalf("response = %v, want %q", got.Response, "hi")
	}
	if got.ForwardTarget != "123" {
		t.Fatalf("forward target = %q, want %q", got.ForwardTarget, "123")
	}
	if got.ForwardPrefix != "Lead:" {
		t.Fatalf("forward prefix = %q, want %q", got.ForwardPrefix, "Lead:")
	}
}

func TestValidRecipient(t *testing.T) {
	t.Parallel()

	valid := []string{"5511999999999@c.us", "-1001234567890", "@channel", "123456789012345678", "user.name_1"}
	for _, value := range valid {
		if !ValidRecipient(value) {
			t.Fatalf("ValidRecipient(%q) = false, want true", value)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "emoji🙂"}
	for _, value := range invalid {
		if ValidRecipient(value) {
			t.Fatalf("ValidRecipient(%q) = true, want false", value)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	set := RuleSet{{Triggers: []string{"a"}, Response: Text("x")}}
	clone := set.Clone()
	clone[0].Triggers[0] = "b"
	*clone[0].Response = "y"

	if set[0].Triggers[0] != "a" || *set[0].Response != "x" {
		t.Fatalf("original mutated through clone: %+v", set[0])
	}
	if set.Equal(clone) {
		t.Fatal("expected clone to differ after mutation")
	}
}
