package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"autoreply/pkg/config"
	"autoreply/pkg/rules"
)

var (
	rulesFile string

	addTriggers []string
	addResponse string
	addLead     bool
	addTarget   string
	addPrefix   string
	addIndex    int
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage auto-reply rules",
	Long: `Edits the rule file directly. A running bot picks up changes after
POST /api/rules/reload or the console's reload key.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in match order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openRuleStore()
		if err != nil {
			return err
		}

		set := store.Rules()
		out := cmd.OutOrStdout()
		if len(set) == 0 {
			fmt.Fprintln(out, "No rules defined.")
			return nil
		}

		for i, rule := range set {
			fmt.Fprint(out, formatRule(i, rule))
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a rule, or replace one with --index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openRuleStore()
		if err != nil {
			return err
		}

		rule := rules.Rule{
			Triggers:      addTriggers,
			LeadQualifier: addLead,
			ForwardTarget: addTarget,
			ForwardPrefix: addPrefix,
		}
		if cmd.Flags().Changed("response") {
			rule.Response = rules.Text(addResponse)
		}

		index := rules.AppendIndex
		if cmd.Flags().Changed("index") {
			index = addIndex
		}

		set, err := store.SaveRule(index, rule)
		if err != nil {
			return fmt.Errorf("save rule: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Rule saved (%d active).\n", len(set))
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <index>",
	Short: "Delete the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule index %q", args[0])
		}

		store, err := openRuleStore()
		if err != nil {
			return err
		}

		set, err := store.DeleteRule(index)
		if err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Rule deleted (%d active).\n", len(set))
		return nil
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesFile, "file", "", "rule file (default: bot.rules_path from config)")

	rulesAddCmd.Flags().StringSliceVarP(&addTriggers, "trigger", "t", nil, "trigger phrase (repeatable or comma separated)")
	rulesAddCmd.Flags().StringVarP(&addResponse, "response", "r", "", "reply text")
	rulesAddCmd.Flags().BoolVar(&addLead, "lead", false, "forward matching messages as leads")
	rulesAddCmd.Flags().StringVar(&addTarget, "target", "", "lead forward recipient")
	rulesAddCmd.Flags().StringVar(&addPrefix, "prefix", "", "heading for forwarded leads")
	rulesAddCmd.Flags().IntVar(&addIndex, "index", rules.AppendIndex, "replace the rule at this index")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesDeleteCmd)
	rootCmd.AddCommand(rulesCmd)
}

// openRuleStore loads the rule file named by --file, the config, or the
// default path, in that order.
func openRuleStore() (*rules.Store, error) {
	path := strings.TrimSpace(rulesFile)
	if path == "" {
		path = configuredRulesPath()
	}

	// Logs would interleave with command output.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	fileStore, err := rules.NewFileStore(path, quiet)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	store, err := rules.NewStore(fileStore, quiet)
	if err != nil {
		return nil, fmt.Errorf("create rule store: %w", err)
	}

	if _, err := store.Load(); err != nil && rules.CategoryFromError(err) != rules.ErrorStoreMissing {
		return nil, fmt.Errorf("load rules from %s: %w", path, err)
	}

	return store, nil
}

func configuredRulesPath() string {
	cfg, err := loadConfig()
	if err != nil {
		return config.Default().Bot.RulesPath
	}

	return cfg.Bot.RulesPath
}

func formatRule(index int, rule rules.Rule) string {
	var b strings.Builder

	triggers := "(none)"
	if len(rule.Triggers) > 0 {
		triggers = strings.Join(rule.Triggers, ", ")
	}
	fmt.Fprintf(&b, "%d  triggers: %s\n", index, triggers)

	pad := strings.Repeat(" ", len(strconv.Itoa(index))+2)
	if rule.HasResponse() {
		fmt.Fprintf(&b, "%sresponse: %s\n", pad, *rule.Response)
	}
	if rule.ForwardsLead() {
		fmt.Fprintf(&b, "%slead -> %s", pad, rule.ForwardTarget)
		if rule.ForwardPrefix != "" {
			fmt.Fprintf(&b, " (prefix %q)", rule.ForwardPrefix)
		}
		b.WriteString("\n")
	}

	return b.String()
}
