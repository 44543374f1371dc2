package semgrep

// outputSchema covers the parts of the Semgrep JSON output that Normalize
// reads
const outputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["results"],
  "properties": {
    "version": {"type": "string"},
    "errors": {"type": "array"},
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "anyOf": [
          {"required": ["check_id"]},
          {"required": ["checkId"]}
        ],
        "properties": {
          "check_id": {"type": "string"},
          "checkId": {"type": "string"},
          "path": {"type": "string"},
          "start": {
            "type": "object",
            "properties": {
              "line": {"type": "integer"},
              "col": {"type": "integer"},
              "offset": {"type": "integer"}
            }
          },
          "end": {"type": "object"},
          "extra": {
            "type": "object",
            "properties": {
              "message": {"type": "string"},
              "severity": {"type": "string"},
              "fix": {"type": "string"},
              "lines": {"type": "string"},
              "metadata": {"type": ["object", "null"]}
            }
          }
        }
      }
    }
  }
}`
