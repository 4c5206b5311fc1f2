package prompts

import (
	"strings"
	"testing"
)

func TestSystemIntentGuidance(t *testing.T) {
	base := System("", "")
	if !strings.Contains(base, DefaultCompany) {
		t.Errorf("system prompt missing company: %q", base)
	}
	inv := System("Acme Homes", "investing")
	if !strings.Contains(inv, "Acme Homes") || !strings.Contains(inv, "cap rates") {
		t.Errorf("investing prompt missing guidance: %q", inv)
	}
	if System("", "unknown") != base {
		t.Error("unknown intent should add no guidance")
	}
}

func TestScriptUsesCompany(t *testing.T) {
	s := NewScript("Acme Homes")
	if !strings.Contains(s.Greeting, "Acme Homes") || !strings.Contains(s.Closing, "Acme Homes") {
		t.Errorf("script does not name the company: %+v", s)
	}
	if NewScript("").Closing != "Thank you for calling Premier Real Estate Services. If you have more questions in the future, feel free to call us again. Have a great day!" {
		t.Error("default closing changed")
	}
}
