package transfer

import "regexp"

// Guidance explains a revert reason to the user.
type Guidance struct {
	Title       string
	Remediation string
}

var revertGuidance = []struct {
	pattern  *regexp.Regexp
	guidance Guidance
}{
	{
		regexp.MustCompile(`(?i)lockdown`),
		Guidance{"Account lockdown active", "The account is locked down. Lift the lockdown with the owner key before retrying."},
	},
	{
		regexp.MustCompile(`(?i)spending (limit|cap)|limit exceeded|exceeds? (the )?limit`),
		Guidance{"Spending cap exceeded", "Lower the amount or create a session key with a higher spending limit."},
	},
	{
		regexp.MustCompile(`(?i)session[ _]?key.*expired|expired session|key expired`),
		Guidance{"Session key expired", "Create and register a new session key for this token."},
	},
	{
		regexp.MustCompile(`(?i)(unknown|invalid|unregistered) session|session[ _]?key not (found|registered)`),
		Guidance{"Session key not recognized", "Register the session key on-chain with the owner account before using it."},
	},
	{
		regexp.MustCompile(`(?i)(target|contract) not (allowed|allowlisted|whitelisted|permitted)|not in allowlist`),
		Guidance{"Target not allowlisted", "Add the token contract to the session key's allowed contracts or use a key without restrictions."},
	},
	{
		regexp.MustCompile(`(?i)insufficient balance|exceeds balance|u256_sub overflow`),
		Guidance{"Insufficient balance", "Top up the account or send a smaller amount."},
	},
	{
		regexp.MustCompile(`(?i)insufficient max|fee too low|max fee|resource bounds?|max l[12]\s*(data)?\s*gas`),
		Guidance{"Fee too low", "Retry later or raise the resource bounds for this transaction."},
	},
	{
		regexp.MustCompile(`(?i)invalid (transaction )?nonce|nonce (too (low|high)|mismatch)`),
		Guidance{"Nonce conflict", "Another transaction used this nonce. Wait for it to settle and retry."},
	},
}

// DescribeRevert maps a revert reason to guidance. Unknown reasons get a
// generic entry.
func DescribeRevert(reason string) Guidance {
	for _, g := range revertGuidance {
		if g.pattern.MatchString(reason) {
			return g.guidance
		}
	}
	return Guidance{"Transaction reverted", "Inspect the revert reason and the account state before retrying."}
}
