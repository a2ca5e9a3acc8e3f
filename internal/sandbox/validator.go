// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Issue is one line-annotated validation complaint (§4.I "Validation").
type Issue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ValidationResult is the /code/validate response payload.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// This is a misuse check, not a security boundary: it screens submitted
// source as text against a deny-set, the same way a reviewer skims a
// diff before merging it. It deliberately does not parse the source into
// a real syntax tree; a determined user can escape a regex screen, and
// that is out of scope (§1).
var (
	importLine = regexp.MustCompile(`^\s*(?:import\s+([\w\.]+)|from\s+([\w\.]+)\s+import\b)`)

	deniedModules = []string{
		"subprocess", "socket", "requests", "urllib", "urllib2", "urllib3",
		"http", "httplib", "httplib2", "pickle", "marshal", "multiprocessing",
		"pdb", "ipdb", "pty", "ctypes", "ftplib", "telnetlib", "paramiko",
		"asyncio.subprocess",
	}

	deniedCall = regexp.MustCompile(`\b(os\.system|os\.popen|os\.exec\w*|os\.spawn\w*|os\.kill|os\.remove|os\.unlink|os\.rmdir|shutil\.rmtree)\s*\(`)

	deniedBuiltin = regexp.MustCompile(`\b(eval|exec|compile|__import__|input)\s*\(`)
)

// Validate screens source for the three deny-listed pattern families
// (§4.I): deny-set imports, deny-set dotted calls, and deny-set builtin
// calls. It never executes anything.
func Validate(source string) ValidationResult {
	var issues []Issue
	lines := strings.Split(source, "\n")

	for i, line := range lines {
		lineNo := i + 1

		if m := importLine.FindStringSubmatch(line); m != nil {
			module := m[1]
			if module == "" {
				module = m[2]
			}
			if mod, ok := matchDeniedModule(module); ok {
				issues = append(issues, Issue{Line: lineNo, Reason: fmt.Sprintf("import of deny-listed module %q", mod)})
			}
		}

		if m := deniedCall.FindStringSubmatch(line); m != nil {
			issues = append(issues, Issue{Line: lineNo, Reason: fmt.Sprintf("call to deny-listed function %q", m[1])})
		}

		if m := deniedBuiltin.FindStringSubmatch(line); m != nil {
			issues = append(issues, Issue{Line: lineNo, Reason: fmt.Sprintf("call to deny-listed builtin %q", m[1])})
		}
	}

	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// matchDeniedModule reports whether module is itself, or a submodule of,
// a deny-listed entry ("urllib.request" is caught by "urllib").
func matchDeniedModule(module string) (string, bool) {
	for _, denied := range deniedModules {
		if module == denied || strings.HasPrefix(module, denied+".") {
			return denied, true
		}
	}
	return "", false
}
