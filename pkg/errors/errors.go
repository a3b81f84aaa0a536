// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package errors provides coded, structured errors for Bastion built on
// samber/oops. Codes are dotted "component.entity.reason" strings; the final
// segment classifies the failure for the Is* helpers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeToolRegistryDuplicate Code = "tool.registry.duplicate"
	CodeToolRegistryUnknown   Code = "tool.registry.unknown"
	CodeToolArgumentsInvalid  Code = "tool.arguments.invalid"
	CodeToolHandlerFailure    Code = "tool.handler.failure"
	CodeToolHandlerTimeout    Code = "tool.handler.timeout"

	CodeGuardrailCheckFailure  Code = "guardrail.check.failure"
	CodeGuardrailConfigInvalid Code = "guardrail.config.invalid_value"

	CodeOracleDecisionMalformed Code = "oracle.decision.malformed"
	CodeOracleRequestInvalid    Code = "oracle.request.invalid"
	CodeOracleUpstreamFailure   Code = "oracle.upstream.failure"
	CodeOracleNotConfigured     Code = "oracle.provider.not_found"

	CodeSessionInvalidInput Code = "session.input.invalid_input"
	CodeSessionNotFound     Code = "session.get.not_found"
	CodeSessionNotRunning   Code = "session.status.forbidden"
	CodeSessionHistoryOrder Code = "session.history.conflict"

	CodeCorpusLoadFailure Code = "corpus.load.failure"
	CodeCorpusNotLoaded   Code = "corpus.query.not_found"

	CodeBrokerOrderInvalid Code = "broker.order.invalid_input"

	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreNotFound        Code = "store.entity.get.not_found"
	CodeStoreInvalidInput    Code = "store.invalid_input"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr { return Field("session_id", value) }
func FieldTool(value string) Attr      { return Field("tool", value) }
func FieldStage(value string) Attr     { return Field("stage", value) }
func FieldProvider(value string) Attr  { return Field("provider", value) }

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsDuplicate(err error) bool {
	return reason(CodeOf(err)) == "duplicate"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsMalformed(err error) bool {
	return reason(CodeOf(err)) == "malformed"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// IsConfiguration reports whether err is fatal at startup: nothing may run
// until the operator fixes the configuration or tool wiring.
func IsConfiguration(err error) bool {
	code := string(CodeOf(err))
	return strings.HasPrefix(code, "config.") ||
		code == string(CodeToolRegistryDuplicate) ||
		code == string(CodeGuardrailConfigInvalid) ||
		code == string(CodeOracleNotConfigured)
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
