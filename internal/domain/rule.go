package domain

import "fmt"

// Rule is a recurrence cadence for a schedule.
type Rule string

const (
	RuleDaily             Rule = "daily"
	RuleWeekly            Rule = "weekly"
	RuleBiweekly          Rule = "biweekly"
	RuleBimonthly         Rule = "bimonthly" // 1st and 15th of each month
	RuleMonthly           Rule = "monthly"
	RuleBimonthlyInterval Rule = "bimonthly_interval" // every two months
	RuleQuarterly         Rule = "quarterly"
	RuleBiannually        Rule = "biannually"
	RuleYearly            Rule = "yearly"
)

// Rules lists every recognized recurrence rule.
var Rules = []Rule{
	RuleDaily,
	RuleWeekly,
	RuleBiweekly,
	RuleBimonthly,
	RuleMonthly,
	RuleBimonthlyInterval,
	RuleQuarterly,
	RuleBiannually,
	RuleYearly,
}

// ParseRule validates a rule string. Unknown rules are rejected here so they
// never reach the store; the calculator still degrades to a daily cadence for
// rows that predate validation.
func ParseRule(s string) (Rule, error) {
	r := Rule(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown recurrence rule %q", s)
	}
	return r, nil
}

func (r Rule) Valid() bool {
	for _, known := range Rules {
		if r == known {
			return true
		}
	}
	return false
}

func (r Rule) String() string { return string(r) }
