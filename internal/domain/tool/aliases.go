package tool

// builtinAliases maps alternative spellings (lowercase) to canonical tool
// names. Models trained on different toolkits use different names for the
// same operation; the registry folds them together.
var builtinAliases = map[string]string{
	// shell execution
	"bash":     "Bash",
	"shell":    "Bash",
	"sh":       "Bash",
	"terminal": "Bash",
	"run":      "Bash",

	// file reads
	"read":      "Read",
	"fs_read":   "Read",
	"read_file": "Read",
	"cat":       "Read",

	// file writes
	"write":      "Write",
	"fs_write":   "Write",
	"write_file": "Write",

	// edits
	"edit":       "Edit",
	"edit_patch": "Edit",
	"patch":      "Edit",

	// directory listing
	"ls":             "Ls",
	"dir":            "Ls",
	"workspace_list": "Ls",
	"list_dir":       "Ls",

	// search
	"glob":       "Glob",
	"grep":       "Grep",
	"search":     "Grep",
	"websearch":  "WebSearch",
	"web_search": "WebSearch",

	// fetch
	"webfetch":  "WebFetch",
	"web_fetch": "WebFetch",
	"fetch":     "WebFetch",
	"fetch_url": "WebFetch",

	// subagents
	"task":     "Task",
	"subagent": "Task",
	"agent":    "Task",

	// memory
	"memory_write": "MemoryWrite",
	"save_memory":  "MemoryWrite",
}
