package highlight

import "strings"

// defaultLanguages maps file extensions, or whole lower-case names of files
// without one, to chroma lexer names.
var defaultLanguages = map[string]string{
	"bash":     "bash",
	"c":        "c",
	"cc":       "cpp",
	"cfg":      "ini",
	"clj":      "clojure",
	"cpp":      "cpp",
	"cs":       "csharp",
	"css":      "css",
	"dart":     "dart",
	"diff":     "diff",
	"erl":      "erlang",
	"ex":       "elixir",
	"exs":      "elixir",
	"fish":     "fish",
	"go":       "go",
	"graphql":  "graphql",
	"h":        "c",
	"hpp":      "cpp",
	"hs":       "haskell",
	"htm":      "html",
	"html":     "html",
	"ini":      "ini",
	"java":     "java",
	"js":       "javascript",
	"json":     "json",
	"jsx":      "jsx",
	"kt":       "kotlin",
	"lua":      "lua",
	"md":       "markdown",
	"markdown": "markdown",
	"mk":       "makefile",
	"nix":      "nix",
	"patch":    "diff",
	"php":      "php",
	"pl":       "perl",
	"proto":    "protobuf",
	"py":       "python",
	"r":        "r",
	"rb":       "ruby",
	"rs":       "rust",
	"scala":    "scala",
	"scss":     "scss",
	"sh":       "bash",
	"sql":      "sql",
	"swift":    "swift",
	"tf":       "terraform",
	"toml":     "toml",
	"ts":       "typescript",
	"tsx":      "tsx",
	"vim":      "vim",
	"xml":      "xml",
	"yaml":     "yaml",
	"yml":      "yaml",
	"zig":      "zig",
	"zsh":      "bash",

	// whole names, for files without an extension
	"dockerfile": "docker",
	"makefile":   "makefile",
}

// Languages returns the extension table with overrides applied. Keys are
// lower-cased and stripped of a leading dot; an empty language removes the
// extension so it renders as plain text.
func Languages(overrides map[string]string) map[string]string {
	table := make(map[string]string, len(defaultLanguages)+len(overrides))
	for ext, lang := range defaultLanguages {
		table[ext] = lang
	}
	for ext, lang := range overrides {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if strings.TrimSpace(lang) == "" {
			delete(table, ext)
			continue
		}
		table[ext] = strings.TrimSpace(lang)
	}
	return table
}
