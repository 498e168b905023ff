package validate

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		max    int
		want   string
		wantOK bool
	}{
		{name: "trims", in: "  hello  ", max: 10, want: "hello", wantOK: true},
		{name: "empty", in: "   ", max: 10, wantOK: false},
		{name: "flattens control", in: "a\nb\tc\rd", max: 10, want: "a b c d", wantOK: true},
		{name: "truncates runes", in: "ééééé", max: 3, want: "ééé", wantOK: true},
		{name: "default max", in: strings.Repeat("x", 200), max: 0, want: strings.Repeat("x", MaxDefaultRunes), wantOK: true},
		{name: "nfc", in: "é", max: 5, want: "é", wantOK: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Text(tc.in, tc.max)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("Text = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSessionCode(t *testing.T) {
	tests := map[string]string{
		"abc123":   "ABC123",
		" XYZ999 ": "XYZ999",
		"ABC12":    "",
		"ABC1234":  "",
		"AB_123":   "",
		"":         "",
	}
	for in, want := range tests {
		got, ok := SessionCode(in)
		if want == "" {
			if ok {
				t.Fatalf("SessionCode(%q) = %q, want rejection", in, got)
			}
			continue
		}
		if !ok || got != want {
			t.Fatalf("SessionCode(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}

func TestScenarioKey(t *testing.T) {
	if got, ok := ScenarioKey("cyber_attack"); !ok || got != "cyber_attack" {
		t.Fatalf("ScenarioKey(cyber_attack) = %q, %v", got, ok)
	}
	if _, ok := ScenarioKey("../etc/passwd"); ok {
		t.Fatal("expected path traversal key to be rejected")
	}
	if _, ok := ScenarioKey(""); ok {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestSeverity(t *testing.T) {
	for _, in := range []string{"info", "WARNING", " Critical "} {
		if _, ok := Severity(in); !ok {
			t.Fatalf("Severity(%q) rejected", in)
		}
	}
	if got, _ := Severity("WARNING"); got != SeverityWarning {
		t.Fatalf("Severity(WARNING) = %q, want %q", got, SeverityWarning)
	}
	for _, in := range []string{"", "urgent", "debug"} {
		if _, ok := Severity(in); ok {
			t.Fatalf("Severity(%q) accepted", in)
		}
	}
}

func TestFieldLimits(t *testing.T) {
	long := strings.Repeat("n", 500)
	if got, _ := DisplayName(long); len(got) != MaxDisplayNameRunes {
		t.Fatalf("display name len = %d, want %d", len(got), MaxDisplayNameRunes)
	}
	if got, _ := Action(long); len(got) != MaxActionRunes {
		t.Fatalf("action len = %d, want %d", len(got), MaxActionRunes)
	}
	if got, _ := Message(long); len(got) != MaxMessageRunes {
		t.Fatalf("message len = %d, want %d", len(got), MaxMessageRunes)
	}
	if got := Rationale(long); len(got) != MaxRationaleRunes {
		t.Fatalf("rationale len = %d, want %d", len(got), MaxRationaleRunes)
	}
	if got := Rationale(""); got != "" {
		t.Fatalf("empty rationale = %q, want empty", got)
	}
	if got := HeaderValue(long); len(got) != MaxHeaderRunes {
		t.Fatalf("header len = %d, want %d", len(got), MaxHeaderRunes)
	}
}
