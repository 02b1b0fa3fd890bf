package parser

import "regexp"

var (
	confirmPattern  = regexp.MustCompile(`(?i)\[(Y/n|y/N|yes/no)\]|\(y/n\)|\(Y/N\)`)
	questionPattern = regexp.MustCompile(`(?i)(Continue\?|Proceed\?|Are you sure\?|Do you want to|Would you like to|Press Enter to continue|Ok to proceed\?)`)
	numberedChoice  = regexp.MustCompile(`^\s*\d+[\.\)]\s+.+\s*$`)
	shellPrompt     = regexp.MustCompile(`[$>%❯#]\s*$`)
	errorPattern    = regexp.MustCompile(`(?m)^(?:(?:error|Error|ERROR|fatal|FATAL|panic):)|(?:failed|FAILED)|(?:npm ERR!)|(?:Traceback)|(?:Exception.*at\s+.+\(.+:\d+\))`)
	codeFence       = regexp.MustCompile("^```")
	codeIndent      = regexp.MustCompile(`^( {4,}|\t)`)
)
