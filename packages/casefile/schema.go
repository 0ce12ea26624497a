package casefile

// documentSchema is the JSON schema every case document must satisfy
// before decoding. Policy values stay loosely typed here; coercion and
// clamping happen in the policy package.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string"},
    "policy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "priority": {"type": ["integer", "number", "string"]},
        "retry_max_attempts": {"type": ["integer", "number", "string"]},
        "retry_backoff": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "strategy": {"type": "string"},
            "base_seconds": {"type": ["integer", "number", "string"]},
            "max_seconds": {"type": ["integer", "number", "string"]},
            "jitter_ratio": {"type": ["integer", "number", "string"]},
            "retry_on_assertions": {"type": "boolean"},
            "cooldown_seconds": {"type": ["integer", "number", "string"]}
          }
        },
        "timeout_seconds": {"type": ["integer", "number", "string"]},
        "max_concurrency": {"type": ["integer", "number", "string"]},
        "per_host_qps": {"type": ["integer", "number", "string"]},
        "circuit_breaker_threshold": {"type": ["integer", "number", "string"]},
        "circuit_breaker_window_seconds": {"type": ["integer", "number", "string"]},
        "tags_include": {"type": "array", "items": {"type": "string"}},
        "tags_exclude": {"type": "array", "items": {"type": "string"}},
        "enabled": {"type": "boolean"}
      }
    },
    "redact": {"type": "array", "items": {"type": "string"}},
    "variables": {"type": "object"},
    "cases": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "inputs"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "tags": {"type": "array", "items": {"type": "string"}},
          "variables": {"type": "object"},
          "inputs": {
            "type": "object",
            "required": ["url"],
            "properties": {
              "method": {"type": "string"},
              "url": {"type": "string", "minLength": 1},
              "headers": {"type": "object"},
              "params": {"type": "object"},
              "json": {},
              "body": {}
            }
          },
          "assertions": {"type": "array", "items": {"$ref": "#/definitions/assertion"}}
        }
      }
    },
    "suites": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "steps"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "tags": {"type": "array", "items": {"type": "string"}},
          "variables": {"type": "object"},
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "additionalProperties": false,
              "properties": {
                "alias": {"type": "string"},
                "case": {"type": "string"},
                "inputs": {"type": "object"},
                "variables": {"type": "object"},
                "assertions": {"type": "array", "items": {"$ref": "#/definitions/assertion"}}
              }
            }
          }
        }
      }
    }
  },
  "definitions": {
    "assertion": {
      "type": "object",
      "required": ["operator"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "operator": {"type": "string", "minLength": 1},
        "expected": {},
        "actual": {},
        "path": {"type": "string"},
        "enabled": {"type": "boolean"}
      }
    }
  }
}`
