package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	kit "econbot/internal/transport"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(buf.String(), "econbot "+Version) {
		t.Fatalf("version output = %q", buf.String())
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()
	want := map[string]bool{"run": false, "calendar": false, "poll": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered", name)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("--config flag missing")
	}
}

func TestPrintAdapter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := printAdapter{w: &buf}
	ref, err := p.SendText(context.Background(), kit.ChatTarget{ChatID: -100}, "CPI m/m — Forecast: N/A", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.ChatID != -100 {
		t.Fatalf("ChatID = %d, want -100", ref.ChatID)
	}
	if got, want := buf.String(), "[-100] CPI m/m — Forecast: N/A\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
