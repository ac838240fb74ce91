package util

import "strings"

// ShellJoin renders an argument vector as a single POSIX shell command line
// in which every argument is passed literally. Arguments starting with "~/"
// keep home-relative meaning: the prefix becomes "$HOME"/ and only the rest
// is quoted.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = QuoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

// QuoteArg quotes a single argument for a POSIX shell.
func QuoteArg(arg string) string {
	if arg == "~" {
		return `"$HOME"`
	}
	if rest, ok := strings.CutPrefix(arg, "~/"); ok {
		if rest == "" {
			return `"$HOME"/`
		}
		return `"$HOME"/` + singleQuote(rest)
	}
	return singleQuote(arg)
}

func singleQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafeWord(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafeWord(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./,:=+@%", r):
		default:
			return false
		}
	}
	return true
}
