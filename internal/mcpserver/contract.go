package mcpserver

// RuleFormat describes annotation rules and how they resolve, for LLM
// consumers creating or inspecting rules.
const RuleFormat = `# Ansuz Rule Format

An annotation rule attaches key/value metadata to every file-index record its
criteria select. Rule files under the rules directory hold the same shape as
YAML (or JSON):

` + "```" + `yaml
rules:
  - applies_to:
      ext: .nc
    annotation:
      format: NetCDF-4
    metadata:
      created_by: scanner
  - applies_to:
      under: /data
      smaller: 1000
    annotation:
      note: tiny file
    merge_strategy: addition
` + "```" + `

## applies_to

Every field is optional and all present fields must hold. ` + "`{}`" + ` matches every record.

| field | matches when |
|---|---|
| path | record path, or the record's directory, equals it |
| under | record path is at or below it, by whole segments (/data does not cover /data2) |
| ext | record name ends with it; a leading dot is added if missing |
| larger / smaller | size in bytes is strictly greater / strictly less |
| before_date / after_date | date extracted from the path is before / after it (YYYY-MM-DD or RFC3339) |
| younger_days / older_days | age of the extracted date in whole days is below / above it |

Date criteria never match records whose path carries no recognisable date.

## merge_strategy

Matching rules apply from least to most specific (number of criteria fields),
then oldest first.

- ` + "`default`" + ` (or omitted): set a key only if no earlier rule set it.
- ` + "`override`" + `: always set the key.
- ` + "`addition`" + `: numbers are summed, lists concatenated; otherwise the value is overridden.

## Lifecycle

- Ids and created_at are assigned by the store; rules are never edited in place.
  To change one, delete it with its exact applies_to set and create a replacement.
- ` + "`expires_at`" + ` (RFC3339) retires a rule from that instant on.
- A rule with an unparseable date threshold is skipped and reported, never fatal.
`
