package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/powhq/pow/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("INTERNAL_SYNC_SECRET", "s3cret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "cron", "--ttl", "5m"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	service, err := auth.ValidateToken(strings.TrimSpace(out.String()), "s3cret")
	if err != nil || service != "cron" {
		t.Fatalf("ValidateToken = (%q, %v)", service, err)
	}
}

func TestTokenCommandRejectsBadTTL(t *testing.T) {
	t.Setenv("INTERNAL_SYNC_SECRET", "s3cret")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"token", "cron", "--ttl", "never"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for invalid ttl")
	}
	tokenTTLFlag = "1h"
}
