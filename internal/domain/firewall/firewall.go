// Package firewall analyzes agent prompts for injection attacks and leaked
// sensitive data before an action is allowed to proceed.
package firewall

import (
	"math"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// DefaultBlockThreshold is the risk score at or above which a prompt is
// blocked.
const DefaultBlockThreshold = 0.7

// Assessment is the outcome of inspecting a prompt.
type Assessment struct {
	Safe      bool     `json:"safe"`
	RiskScore float64  `json:"risk_score"` // 0.0 to 1.0
	Threats   []string `json:"threats,omitempty"`
	Sanitized string   `json:"sanitized"`
}

// injectionPattern holds a pre-compiled attack signature with its risk weight.
type injectionPattern struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

// sensitivePattern flags data that should never appear in a prompt.
type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

// Firewall inspects prompts against compiled attack signatures.
// All patterns are compiled at construction time.
type Firewall struct {
	injection []injectionPattern
	sensitive []sensitivePattern
	threshold float64
}

// NewFirewall creates a Firewall with the built-in signature set and the
// default block threshold.
func NewFirewall() *Firewall {
	return NewFirewallWithThreshold(DefaultBlockThreshold)
}

// NewFirewallWithThreshold creates a Firewall that blocks prompts scoring
// at or above threshold. Out-of-range thresholds fall back to the default.
func NewFirewallWithThreshold(threshold float64) *Firewall {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultBlockThreshold
	}
	rawInjection := []struct {
		name    string
		weight  float64
		pattern string
	}{
		{"instruction_override", 0.9, `(?i)ignore\s+(?:all\s+)?previous\s+instructions`},
		{"instruction_override", 0.8, `(?i)ignore\s+(?:all\s+)?above`},
		{"persona_hijack", 0.85, `(?i)you\s+are\s+now\s+(?:a|an)\s+`},
		{"persona_hijack", 0.8, `(?i)pretend\s+(?:you\s+are|to\s+be)`},
		{"persona_hijack", 0.7, `(?i)act\s+as\s+(?:if\s+you\s+are|a|an)`},
		{"system_prompt_injection", 0.95, `(?i)system\s*:\s*`},
		{"format_injection", 0.9, `(?i)\[INST\]|\[/INST\]|<<SYS>>|<\|im_start\|>`},
		{"privilege_escalation", 0.95, `(?i)ADMIN\s+MODE|GOD\s+MODE|DEBUG\s+MODE`},
		{"prompt_extraction", 0.85, `(?i)reveal\s+(?:your|the)\s+(?:system\s+)?prompt`},
		{"prompt_extraction", 0.8, `(?i)what\s+(?:are|were)\s+your\s+(?:initial\s+)?instructions`},
		{"prompt_extraction", 0.85, `(?i)output\s+(?:your|the)\s+(?:above|initial|system)`},
		{"code_injection", 0.95, `(?i)base64\s+decode|eval\(|exec\(|__import__`},
		{"exfiltration_attempt", 0.8, `(?i)(?:curl|wget|fetch)\s+https?://`},
		{"exfiltration_attempt", 0.9, `(?i)send\s+(?:(?:this|the|all)\s+)*(?:data|info|conversation|information)\s+to`},
		{"instruction_override", 0.85, `(?i)(?:do\s+not|don'?t)\s+(?:follow|obey|listen)`},
		{"obfuscation", 0.8, `(?i)translate\s+the\s+following.*(?:ignore|forget)`},
		{"privilege_escalation", 0.7, `(?i)sudo\s+`},
		{"safety_bypass", 0.95, `(?i)(?:override|bypass)\s+(?:safety|content|security|filter)`},
		{"jailbreak", 0.95, `(?i)jailbreak|DAN\s+mode|Do\s+Anything\s+Now`},
	}

	rawSensitive := []struct {
		name    string
		pattern string
	}{
		{"ssn_detected", `\b\d{3}-\d{2}-\d{4}\b`},
		{"credit_card_detected", `\b\d{16}\b`},
		{"email_in_prompt", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	}

	injection := make([]injectionPattern, 0, len(rawInjection))
	for _, rp := range rawInjection {
		injection = append(injection, injectionPattern{
			name:   rp.name,
			weight: rp.weight,
			re:     regexp.MustCompile(rp.pattern),
		})
	}

	sensitive := make([]sensitivePattern, 0, len(rawSensitive))
	for _, rp := range rawSensitive {
		sensitive = append(sensitive, sensitivePattern{
			name: rp.name,
			re:   regexp.MustCompile(rp.pattern),
		})
	}

	return &Firewall{injection: injection, sensitive: sensitive, threshold: threshold}
}

// Inspect scores the prompt against every signature and heuristic.
// The risk score is the maximum weight among matches, rounded to two
// decimals. Prompts scoring at or above the block threshold are unsafe
// and returned with every signature match replaced by "[BLOCKED]".
func (f *Firewall) Inspect(prompt string) Assessment {
	if prompt == "" {
		return Assessment{Safe: true, Sanitized: ""}
	}

	var threats []string
	var maxRisk float64

	for _, p := range f.injection {
		if p.re.MatchString(prompt) {
			threats = append(threats, p.name)
			maxRisk = math.Max(maxRisk, p.weight)
		}
	}

	for _, p := range f.sensitive {
		if p.re.MatchString(prompt) {
			threats = append(threats, p.name)
			maxRisk = math.Max(maxRisk, 0.5)
		}
	}

	length := utf8.RuneCountInString(prompt)

	if length > 50 {
		var special int
		for _, r := range prompt {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
				special++
			}
		}
		if float64(special)/float64(length) > 0.3 {
			threats = append(threats, "high_special_char_ratio")
			maxRisk = math.Max(maxRisk, 0.6)
		}
	}

	if length > 10000 {
		threats = append(threats, "abnormal_length")
		maxRisk = math.Max(maxRisk, 0.5)
	}

	safe := maxRisk < f.threshold

	sanitized := prompt
	if !safe {
		for _, p := range f.injection {
			sanitized = p.re.ReplaceAllString(sanitized, "[BLOCKED]")
		}
	}

	return Assessment{
		Safe:      safe,
		RiskScore: math.Round(maxRisk*100) / 100,
		Threats:   threats,
		Sanitized: sanitized,
	}
}
