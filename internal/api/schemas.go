package api

import "crm-reminders/internal/common/validation"

var createReminderSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["customerId", "scheduledAt", "message"],
	"properties": {
		"customerId":    {"type": "string", "minLength": 1},
		"transactionId": {"type": ["string", "null"]},
		"scheduledAt":   {"type": "string", "format": "date-time"},
		"message":       {"type": "string"},
		"subject":       {"type": ["string", "null"]},
		"recipientKind": {"type": "string", "enum": ["CUSTOMER", "OPERATOR"]},
		"channelKey":    {"type": "string"},
		"priority":      {"type": "string", "enum": ["LOW", "NORMAL", "HIGH"]},
		"reminderType":  {"type": "string"}
	},
	"additionalProperties": false
}`)

var updateReminderSchema = validation.MustCompile(`{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"scheduledAt":   {"type": "string", "format": "date-time"},
		"message":       {"type": "string"},
		"subject":       {"type": "string"},
		"recipientKind": {"type": "string", "enum": ["CUSTOMER", "OPERATOR"]},
		"channelKey":    {"type": "string", "minLength": 1},
		"priority":      {"type": "string", "enum": ["LOW", "NORMAL", "HIGH"]},
		"reminderType":  {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`)
