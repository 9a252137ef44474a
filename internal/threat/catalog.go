package threat

import "github.com/mcptrust/execgate/internal/models"

// DefaultPatterns is the built-in catalog.
func DefaultPatterns() []PatternSpec {
	return []PatternSpec{
		// injection
		{
			ID:          "eval",
			Name:        "Dynamic evaluation",
			Regex:       `\beval\s*\(`,
			Severity:    models.SeverityCritical,
			Category:    models.CategoryInjection,
			Description: "eval() executes arbitrary strings as code",
		},
		{
			ID:          "function-constructor",
			Name:        "Function constructor",
			Regex:       `\bnew\s+Function\s*\(`,
			Severity:    models.SeverityCritical,
			Category:    models.CategoryInjection,
			Description: "new Function() compiles arbitrary strings as code",
		},
		{
			ID:          "child-process",
			Name:        "Process spawning",
			Regex:       `require\s*\(\s*['"](?:node:)?child_process['"]\s*\)|\b(?:execSync|spawnSync|execFile)\s*\(`,
			Severity:    models.SeverityCritical,
			Category:    models.CategoryInjection,
			Description: "spawns operating system processes",
		},
		{
			ID:          "string-timer",
			Name:        "String timer",
			Regex:       `\bset(?:Timeout|Interval)\s*\(\s*['"` + "`" + `]`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryInjection,
			Description: "timer with a string body is an implicit eval",
		},
		{
			ID:          "dynamic-import",
			Name:        "Dynamic import",
			Regex:       `\bimport\s*\(\s*[^'"` + "`" + `\s)]`,
			Severity:    models.SeverityMedium,
			Category:    models.CategoryInjection,
			Description: "import() of a computed module specifier",
		},

		// loop
		{
			ID:          "infinite-while",
			Name:        "Infinite while loop",
			Regex:       `\bwhile\s*\(\s*(?:true|1|!0)\s*\)`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryLoop,
			Description: "unconditional while loop can hang the executor",
		},
		{
			ID:          "infinite-for",
			Name:        "Infinite for loop",
			Regex:       `\bfor\s*\(\s*;\s*;\s*\)`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryLoop,
			Description: "for(;;) without a break condition",
		},

		// memory
		{
			ID:          "large-array",
			Name:        "Oversized array",
			Regex:       `\bnew\s+Array\s*\(\s*\d{7,}\s*\)`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryMemory,
			Description: "allocates an array with millions of slots",
		},
		{
			ID:          "large-buffer",
			Name:        "Oversized buffer",
			Regex:       `\bBuffer\.(?:alloc|allocUnsafe)\s*\(\s*\d{8,}`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryMemory,
			Description: "allocates a buffer of 10MB or more",
		},
		{
			ID:          "string-repeat",
			Name:        "Large string repeat",
			Regex:       `\.repeat\s*\(\s*\d{7,}\s*\)`,
			Severity:    models.SeverityMedium,
			Category:    models.CategoryMemory,
			Description: "builds a multi-megabyte string",
		},

		// env
		{
			ID:          "process-env",
			Name:        "Environment access",
			Regex:       `\bprocess\.env\b|\bDeno\.env\b`,
			Severity:    models.SeverityMedium,
			Category:    models.CategoryEnv,
			Description: "reads host environment variables",
		},
		{
			ID:          "global-this",
			Name:        "Global object access",
			Regex:       `\bglobalThis\s*\[|\bglobal\s*\[`,
			Severity:    models.SeverityLow,
			Category:    models.CategoryEnv,
			Description: "computed access to the global object",
		},

		// privilege
		{
			ID:          "prototype-pollution",
			Name:        "Prototype mutation",
			Regex:       `__proto__|\bObject\.setPrototypeOf\s*\(|\.prototype\s*\[`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryPrivilege,
			Description: "mutates object prototypes",
		},
		{
			ID:          "process-control",
			Name:        "Process control",
			Regex:       `\bprocess\.(?:exit|kill|abort|setuid|setgid|chdir)\s*\(`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryPrivilege,
			Description: "terminates or re-parents the host process",
		},
		{
			ID:          "fs-mutation",
			Name:        "Filesystem mutation",
			Regex:       `\bfs\.(?:writeFile|appendFile|unlink|rm|rmdir|chmod|chown|rename)(?:Sync)?\s*\(`,
			Severity:    models.SeverityHigh,
			Category:    models.CategoryPrivilege,
			Description: "writes to or deletes from the host filesystem",
		},

		// network
		{
			ID:          "network-request",
			Name:        "Outbound network",
			Regex:       `\bfetch\s*\(|\bnew\s+(?:XMLHttpRequest|WebSocket)\s*\(|require\s*\(\s*['"](?:node:)?(?:http|https|net|dgram|tls)['"]\s*\)`,
			Severity:    models.SeverityMedium,
			Category:    models.CategoryNetwork,
			Description: "opens outbound network connections",
		},
	}
}
