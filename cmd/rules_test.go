package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"autoreply/pkg/rules"
)

func TestRulesAddListDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")

	out, err := executeCommand(t, "rules", "list", "--file", path)
	if err != nil {
		t.Fatalf("rules list error: %v", err)
	}
	if !strings.Contains(out, "No rules defined") {
		t.Fatalf("list output = %q, want empty notice", out)
	}

	out, err = executeCommand(t, "rules", "add", "--file", path, "-t", "Hello,hi", "-r", "hi there")
	if err != nil {
		t.Fatalf("rules add error: %v", err)
	}
	if !strings.Contains(out, "1 active") {
		t.Fatalf("add output = %q, want 1 active", out)
	}

	_, err = executeCommand(t, "rules", "add", "--file", path, "-t", "price", "--lead", "--target", "5511888@c.us", "--prefix", "Hot lead")
	if err != nil {
		t.Fatalf("rules add lead error: %v", err)
	}

	out, err = executeCommand(t, "rules", "list", "--file", path)
	if err != nil {
		t.Fatalf("rules list error: %v", err)
	}
	for _, want := range []string{"0  triggers: hello, hi", "response: hi there", "1  triggers: price", `lead -> 5511888@c.us (prefix "Hot lead")`} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output = %q, want %q", out, want)
		}
	}

	_, err = executeCommand(t, "rules", "add", "--file", path, "--index", "0", "-t", "hey", "-r", "hello!")
	if err != nil {
		t.Fatalf("rules replace error: %v", err)
	}

	out, err = executeCommand(t, "rules", "delete", "--file", path, "1")
	if err != nil {
		t.Fatalf("rules delete error: %v", err)
	}
	if !strings.Contains(out, "1 active") {
		t.Fatalf("delete output = %q, want 1 active", out)
	}

	fileStore, err := rules.NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	set, err := fileStore.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(set) != 1 || set[0].Triggers[0] != "hey" || *set[0].Response != "hello!" {
		t.Fatalf("persisted rules = %+v, want replaced rule only", set)
	}
}

func TestRulesAddRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	_, err := executeCommand(t, "rules", "add", "--file", path, "-t", "hello")
	if err == nil {
		t.Fatal("expected error for rule without response or lead")
	}
	if got := rules.CategoryFromError(err); got != rules.ErrorInvalidRule {
		t.Fatalf("category = %q, want %q", got, rules.ErrorInvalidRule)
	}
}

func TestRulesDeleteErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	if _, err := executeCommand(t, "rules", "delete", "--file", path, "abc"); err == nil {
		t.Fatal("expected error for non-numeric index")
	}

	_, err := executeCommand(t, "rules", "delete", "--file", path, "0")
	if got := rules.CategoryFromError(err); got != rules.ErrorIndexOutOfRange {
		t.Fatalf("category = %q, want %q", got, rules.ErrorIndexOutOfRange)
	}
}

func TestFormatRuleWithoutTriggers(t *testing.T) {
	t.Parallel()

	out := formatRule(12, rules.Rule{LeadQualifier: true, ForwardTarget: "-100123"})
	if !strings.HasPrefix(out, "12  triggers: (none)\n") {
		t.Fatalf("formatRule = %q", out)
	}
	if !strings.Contains(out, "    lead -> -100123\n") {
		t.Fatalf("formatRule = %q, want indented lead line", out)
	}
}
