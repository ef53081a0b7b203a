package api

const createSessionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "period_start", "period_end"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "period_start": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "period_end": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}
  }
}`

const importStatementsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["statements"],
  "properties": {
    "statements": {
      "type": "array",
      "maxItems": 10000,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["date", "amount"],
        "properties": {
          "id": {"type": "string", "maxLength": 128},
          "account_id": {"type": "string", "maxLength": 128},
          "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
          "amount": {
            "oneOf": [
              {"type": "number"},
              {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
            ]
          },
          "description": {"type": "string", "maxLength": 1024},
          "external_ref": {"type": "string", "maxLength": 256}
        }
      }
    }
  }
}`

// Condition values are checked by the rule service, which knows each kind.
const conditionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["field", "operator"],
  "properties": {
    "field": {"type": "string", "enum": ["amount", "date", "description"]},
    "operator": {"type": "string", "minLength": 1},
    "value": {"type": "string"},
    "mode": {"type": "string", "enum": ["pct", "abs"]},
    "case_insensitive": {"type": "boolean"}
  }
}`

const actionsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "auto_match": {"type": "boolean"},
    "confidence_override": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const createRuleSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "name", "conditions"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "priority": {"type": "integer"},
    "conditions": {"type": "array", "minItems": 1, "items": ` + conditionSchema + `},
    "actions": ` + actionsSchema + `,
    "enabled": {"type": "boolean"}
  }
}`

const updateRuleSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["version"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "priority": {"type": "integer"},
    "conditions": {"type": "array", "minItems": 1, "items": ` + conditionSchema + `},
    "actions": ` + actionsSchema + `,
    "enabled": {"type": "boolean"}
  }
}`
