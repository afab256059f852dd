package mcpserver

// LineFormatContract describes the annotation line format that LLM
// consumers should follow when adding annotations.
const LineFormatContract = `# Annostore Line Format

Every document is a plain UTF-8 file of stand-off annotations, one per line.
Fields are separated by a single TAB; items inside the data field by a single SPACE.

## Line kinds

| Prefix | Kind       | Line                                          |
|--------|------------|-----------------------------------------------|
| T, W   | text-bound | ` + "`" + `T1` + "`" + ` TAB ` + "`" + `Type START END` + "`" + ` TAB ` + "`" + `covered text` + "`" + `  |
| E      | event      | ` + "`" + `E1` + "`" + ` TAB ` + "`" + `Type:T1 Role:T2 Role2:E3` + "`" + `           |
| M, A   | modifier   | ` + "`" + `M1` + "`" + ` TAB ` + "`" + `Negation E1` + "`" + `                        |
| #      | note       | ` + "`" + `#1` + "`" + ` TAB ` + "`" + `AnnotatorNotes T1` + "`" + ` TAB ` + "`" + `free text` + "`" + `  |
| *      | equiv      | ` + "`" + `*` + "`" + ` TAB ` + "`" + `Equiv T1 T2 T3` + "`" + `                      |

## Rules

1. **Ids** are a prefix, a decimal number without leading zeros and an optional
   suffix (` + "`" + `T12` + "`" + `, ` + "`" + `E3` + "`" + `, ` + "`" + `T7-a` + "`" + `). Ids are unique per document.
2. **Offsets** are non-negative integers with START <= END.
3. **References** name other annotations by id: an event trigger and its arguments,
   the target of a modifier or note, and every member of an equivalence.
4. **Equivalences** have no id. Adding one that shares a member with an existing
   equivalence merges the two.
5. Lines that cannot be parsed are kept verbatim and never rewritten.
6. Documents that exist only as partial files (` + "`" + `.a1` + "`" + `, ` + "`" + `.a2` + "`" + `, ` + "`" + `.co` + "`" + `, ` + "`" + `.rel` + "`" + `) are read-only.

## Editing

- Use ` + "`" + `add_annotation` + "`" + ` with a complete line, or with a prefix and the rest of the
  line to get the next free id.
- Pass ` + "`" + `if_match` + "`" + ` with the checksum from ` + "`" + `read_annotations` + "`" + ` to refuse the edit when
  someone else changed the document in between.
- ` + "`" + `delete_annotation` + "`" + ` removes modifiers and notes attached to the target as well
  and drops the target from equivalences. It refuses while an event still references it.

## Example

` + "```" + `
T1	Protein 0 3	p53
T2	Protein 8 12	MDM2
E1	Binding:T1 Theme:T2
M1	Negation E1
#1	AnnotatorNotes T1	check span
` + "```" + `
`
