package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

// run executes tipctl with fresh flag values and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	outputFormat, storePath, deviceID = "table", "", ""
	tipPercent, tipCurrency, tipRounding, tipPeople = "18", "USD", "nearest", 2
	historyLimit = 20

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func tempStore(t *testing.T) string {
	t.Helper()
	t.Setenv("ENV", "development")
	t.Setenv("DEVICE_STORE_PASSWORD", "tipctl-test-password")
	return filepath.Join(t.TempDir(), "tiptap.db")
}

func TestTipCalc(t *testing.T) {
	out, err := run(t, "tip", "calc", "42.50")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "USD 7.65") || !strings.Contains(out, "Total: USD 50.15") {
		t.Fatalf("output = %q", out)
	}

	if _, err := run(t, "tip", "calc", "abc"); err == nil {
		t.Fatal("expected error for invalid amount")
	}
}

func TestTipSplitJSON(t *testing.T) {
	out, err := run(t, "tip", "split", "100", "-n", "3", "-p", "20", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var shares []struct {
		TotalAmount string `json:"totalAmount"`
	}
	if err := json.Unmarshal([]byte(out), &shares); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(shares) != 3 {
		t.Fatalf("shares = %d, want 3", len(shares))
	}
}

func TestTipSplitRejectsPeople(t *testing.T) {
	if _, err := run(t, "tip", "split", "100", "-n", "0"); err == nil {
		t.Fatal("expected error for zero people")
	}
}

func TestPinStatusEmptyStore(t *testing.T) {
	path := tempStore(t)
	out, err := run(t, "pin", "status", "--store", path, "--device-id", "till-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "not set") {
		t.Fatalf("output = %q", out)
	}
}

func TestFraudBlocklist(t *testing.T) {
	path := tempStore(t)
	flags := []string{"--store", path, "--device-id", "till-1"}

	if _, err := run(t, append([]string{"fraud", "block", "dev-9"}, flags...)...); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, append([]string{"fraud", "blocked"}, flags...)...)
	if err != nil || strings.TrimSpace(out) != "dev-9" {
		t.Fatalf("blocked = %q, %v", out, err)
	}

	if _, err := run(t, append([]string{"fraud", "unblock", "dev-9"}, flags...)...); err != nil {
		t.Fatal(err)
	}
	out, _ = run(t, append([]string{"fraud", "blocked", "-o", "json"}, flags...)...)
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("blocked after unblock = %q", out)
	}

	if _, err := run(t, append([]string{"fraud", "block", "bad id"}, flags...)...); err == nil {
		t.Fatal("expected error for invalid device id")
	}

	out, err = run(t, append([]string{"fraud", "history"}, flags...)...)
	if err != nil || !strings.Contains(out, "no attempts recorded") {
		t.Fatalf("history = %q, %v", out, err)
	}
}
