package parser

// GosecRule is an extended write-up of a gosec rule.
type GosecRule struct {
	Description    string
	Recommendation string
}

// GosecRules is an immutable table of gosec rule write-ups keyed by rule id.
type GosecRules struct {
	rules map[string]GosecRule
}

func (r GosecRules) Lookup(ruleID string) (GosecRule, bool) {
	rule, ok := r.rules[ruleID]
	return rule, ok
}

func (r GosecRules) Len() int {
	return len(r.rules)
}

// NewGosecRules builds a table from rules. The map is copied.
func NewGosecRules(rules map[string]GosecRule) GosecRules {
	m := make(map[string]GosecRule, len(rules))
	for k, v := range rules {
		m[k] = v
	}
	return GosecRules{rules: m}
}

// DefaultGosecRules returns write-ups of the rules reported most often.
func DefaultGosecRules() GosecRules {
	sqlInjection := GosecRule{
		Description:    "An instance of SQL injection was identifed; a match for a SQL query was found, where a portion of the query itself could be manipulated and altered via a passed parameter. Should an attacker have control over the value of this parameter, it may be possible for an attacker to execute arbitrary SQL queries and access information they should not have access to by default.",
		Recommendation: "It is strongly recommended not to use string concatenation or string formatting (via fmt.Sprintf) when crafting SQL queries. Where the manipulation or alteration of SQL queries is required (such as a SELECT query where the conditional is not static), make use of argument placeholders.\n\nMore information can be found at https://securego.io/docs/rules/g201-g202.html",
	}
	weakCrypto := GosecRule{
		Description:    "Usage of an insecure cryptographic or hashing method was identified.",
		Recommendation: "Confirm that the identified modules are not used to deal with sensitive data, such as passwords or personal information. If this is the case, then use a more secure implementation (i.e. SHA512 rather than SHA1) when dealing with such information.",
	}

	return NewGosecRules(map[string]GosecRule{
		"G101": {
			Description:    "The line(s) contained a potentially hardcoded sensitive value. Should an attacker obtain an instance of the codebase (either via the source repository or a compiled asset) then they may leverage the value to carry out further compromise and move further within the systems in scope.\n\nFurthermore, for both security and functionality reasons, should the value become invalid then the code base will have to be updated each time to accomodate for the new value (as opposed to pulling the value off a fixed-name environment variable)",
			Recommendation: "Sensitive values should not be stored within codebases and version control systems; ideally, such values should only be obtained at runtime and/or when required, such as via an environment variable.",
		},
		"G102": {
			Description:    "The line(s) appeared to bind a network listener service to all interfaces.\nBinding to all interfaces may open up a service to access via unexpected avenues, which may not make use of all existing security features surrounding the service.",
			Recommendation: "Explicitly bind such services on a per-interface basis, to ensure that listeners are only serving via known/expected methods.",
		},
		"G103": {
			Description:    "The Go module \"unsafe\" was identified to be in use.",
			Recommendation: "Confirm the usage of the module is required for the project in scope to function.",
		},
		"G104": {
			Description:    "Potential errors or exceptions that could come from a function call were not directly handled. This may be due to using _ to blanket accept all variables other than what was required, which includes any thrown errors.",
			Recommendation: "Explicitly catch errors that may be thrown and introduce logic to deal with or report the error.",
		},
		"G201": sqlInjection,
		"G202": sqlInjection,
		"G401": weakCrypto,
		"G501": weakCrypto,
		"G502": weakCrypto,
		"G503": weakCrypto,
		"G505": weakCrypto,
	})
}
