package cmd

import "testing"

func TestRootCmd_Wiring(t *testing.T) {
	if rootCmd.Use != "dcbridge" {
		t.Errorf("expected Use=%q, got %q", "dcbridge", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected non-empty Short description")
	}
	if !rootCmd.SilenceUsage {
		t.Error("usage spam on runtime errors should be silenced")
	}

	for _, name := range []string{"serve", "version", "tools"} {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q is not registered", name)
		}
	}
}

func TestToolsCall_RejectsMalformedArgs(t *testing.T) {
	err := runToolsCall(toolsCallCmd, []string{"get_observations", "{not json"})
	if err == nil {
		t.Fatal("expected an error for malformed JSON arguments")
	}
}
