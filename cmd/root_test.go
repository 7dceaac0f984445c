package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "askany "+AppVersion) {
		t.Errorf("output missing version line: %q", out)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	_, err := execute(t, "ask")
	if err == nil {
		t.Fatal("ask without arguments succeeded")
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "definitely-not-a-command")
	if err == nil {
		t.Fatal("unknown command succeeded")
	}
}
