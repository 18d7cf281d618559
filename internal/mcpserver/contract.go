package mcpserver

// EntryFormatContract describes vault entries as the tools return them and
// as the import endpoint accepts them.
const EntryFormatContract = `# timedline Entry Format

An entry is one journal record. Its timestamp (Unix milliseconds) is its identity.

## Shape

` + "```" + `json
{
  "timestamp": 1718000000000,
  "date": "2024-06-10",
  "content": "Walked to the lake before work.",
  "file": {
    "name": "lake.jpg",
    "type": "image/jpeg",
    "url": "/blob/4f0c...",
    "path": "user-1/1718000000000-lake.jpg"
  }
}
` + "```" + `

## Rules

1. **timestamp** is an integer. Entries are listed newest first.
2. **date** is the local calendar day (YYYY-MM-DD) the entry was written.
3. **content** is the entry text. A file-only entry uses the file name as content.
4. **file** is optional. Every sub-field is optional. ` + "`" + `url` + "`" + ` is short-lived:
   call ` + "`" + `read_entry` + "`" + ` again for a fresh one instead of storing it.
5. Search matches ` + "`" + `content` + "`" + ` and ` + "`" + `file.name` + "`" + `, case-insensitively.

## Creating entries

- Use ` + "`" + `create_entry` + "`" + ` with ` + "`" + `text` + "`" + `, an ` + "`" + `attachment` + "`" + ` or both.
- ` + "`" + `attachment` + "`" + ` is a base64 data URI or an http(s) URL.
  Supported formats: png, jpg, jpeg, gif, webp, svg, pdf, txt (max 10 MB).
- Timestamps and dates are assigned by the vault; they cannot be chosen.

## Importing

The import endpoint takes a JSON array of entries in the shape above. Records
without an integral ` + "`" + `timestamp` + "`" + ` (legacy key ` + "`" + `ts` + "`" + ` is accepted), a string
` + "`" + `date` + "`" + ` and a string ` + "`" + `content` + "`" + ` are skipped.
`
