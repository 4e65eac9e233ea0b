package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with the carrying context.
type LogFields struct {
	SessionKey string
	Role       string
	Email      string
	Channel    string
	Component  string
}

// WithLogFields merges fields into ctx; non-empty new values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.SessionKey != "" {
		merged.SessionKey = fields.SessionKey
	}
	if fields.Role != "" {
		merged.Role = fields.Role
	}
	if fields.Email != "" {
		merged.Email = fields.Email
	}
	if fields.Channel != "" {
		merged.Channel = fields.Channel
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return LogFields{}
	}
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
