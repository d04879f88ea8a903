package judge

import "strings"

// Language describes how a source file is built and run in the sandbox.
type Language struct {
	Name     string
	Image    string
	FileName string
	Command  string
}

var languages = map[string]Language{
	"python": {
		Name:     "python",
		Image:    "python:3.11-alpine",
		FileName: "main.py",
		Command:  "python main.py",
	},
	"javascript": {
		Name:     "javascript",
		Image:    "node:20-alpine",
		FileName: "main.js",
		Command:  "node main.js",
	},
	"go": {
		Name:     "go",
		Image:    "golang:1.22-alpine",
		FileName: "main.go",
		Command:  "go run main.go",
	},
	"cpp": {
		Name:     "cpp",
		Image:    "gcc:13",
		FileName: "solution.cpp",
		Command:  "g++ -O2 -o solution solution.cpp && ./solution",
	},
}

var languageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"node":    "javascript",
	"golang":  "go",
	"c++":     "cpp",
}

// LookupLanguage resolves a user supplied language name.
func LookupLanguage(name string) (Language, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := languageAliases[key]; ok {
		key = alias
	}
	language, ok := languages[key]
	return language, ok
}

// NormalizeLanguage returns the canonical language name, or false when unsupported.
func NormalizeLanguage(name string) (string, bool) {
	language, ok := LookupLanguage(name)
	if !ok {
		return "", false
	}
	return language.Name, true
}
