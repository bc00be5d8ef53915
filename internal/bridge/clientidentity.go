package bridge

import "regexp"

// cliUserAgentPattern matches the known CLI user agents (spec §6): the
// match disables field stripping and, by default, instruction injection.
var cliUserAgentPattern = regexp.MustCompile(`(?i)^(codex_vscode|codex_cli_rs|codex_exec)/\d+(\.\d+)*`)

// IsCLIClient reports whether userAgent identifies one of the known CLI
// clients.
func IsCLIClient(userAgent string) bool {
	return cliUserAgentPattern.MatchString(userAgent)
}
