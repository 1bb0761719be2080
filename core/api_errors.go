package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed backend call.
type ErrorKind int

const (
	// KindServer is any failure that is not one of the kinds below.
	KindServer ErrorKind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindUnauthorized is a 401; the token store has already been cleared.
	KindUnauthorized
	// KindValidation is a 4xx carrying field errors, or a local validation failure.
	KindValidation
	// KindBusy is a local conflict: another auth operation holds the session.
	KindBusy
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	default:
		return "server"
	}
}

// User-facing fallback messages.
const (
	msgNoResponse    = "Pas de réponse du serveur"
	msgServerError   = "Erreur serveur"
	msgLoginFailed   = "Échec de la connexion"
	msgRegisterFail  = "Échec de l'inscription"
	msgSessionBusy   = "Une opération d'authentification est déjà en cours"
	msgSessionExpire = "Votre session a expiré, veuillez vous reconnecter"
	msgSignedOut     = "Vous avez été déconnecté pendant l'authentification"
)

// ErrorEnvelope is the decoded JSON body of an error response. Values are
// kept raw because Django REST framework sends either strings or string lists.
type ErrorEnvelope map[string]json.RawMessage

// First returns the first string stored under key, whether the value is a
// string or a list of strings.
func (e ErrorEnvelope) First(key string) (string, bool) {
	raw, ok := e[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		s = strings.TrimSpace(list[0])
		return s, s != ""
	}
	return "", false
}

// APIError is returned by the gateway for transport failures and non-2xx responses.
type APIError struct {
	Kind     ErrorKind
	Status   int
	Method   string
	Path     string
	Envelope ErrorEnvelope
	Err      error
}

func (e *APIError) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("%s %s: no response: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// kindForStatus maps a response status and body to an ErrorKind.
func kindForStatus(status int, env ErrorEnvelope) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status >= 400 && status < 500 && hasFieldErrors(env):
		return KindValidation
	default:
		return KindServer
	}
}

// hasFieldErrors reports whether the envelope carries anything besides a
// plain "detail" message.
func hasFieldErrors(env ErrorEnvelope) bool {
	for k := range env {
		if k != "detail" {
			return true
		}
	}
	return false
}

// Failure is the normalized form of any error surfaced to a view.
type Failure struct {
	Kind    ErrorKind
	Message string
}

// Classify converts err into a Failure using the generic message rule
// (detail, message, error, then a fallback).
func Classify(err error) Failure {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		var verr ValidationError
		if errors.As(err, &verr) {
			return Failure{Kind: KindValidation, Message: verr.Error()}
		}
		return Failure{Kind: KindServer, Message: msgServerError}
	}
	switch apiErr.Kind {
	case KindNetwork:
		return Failure{Kind: KindNetwork, Message: msgNoResponse}
	case KindUnauthorized:
		return Failure{Kind: KindUnauthorized, Message: firstMessage(apiErr.Envelope, msgSessionExpire, "detail")}
	}
	return Failure{Kind: apiErr.Kind, Message: firstMessage(apiErr.Envelope, msgServerError, "detail", "message", "error", "non_field_errors")}
}

// LoginFailure derives the message shown after a failed login:
// detail, then non_field_errors[0], then a generic fallback.
func LoginFailure(err error) Failure {
	f := Classify(err)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Kind != KindNetwork:
		f.Message = firstMessage(apiErr.Envelope, msgLoginFailed, "detail", "non_field_errors")
	case f.Kind == KindServer:
		f.Message = msgLoginFailed
	}
	return f
}

// RegisterFailure derives the message shown after a failed registration.
// Field errors on email, password and username win over non_field_errors and detail.
func RegisterFailure(err error) Failure {
	f := Classify(err)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if f.Kind == KindServer {
			f.Message = msgRegisterFail
		}
		return f
	}
	if apiErr.Kind == KindNetwork {
		return f
	}
	env := apiErr.Envelope
	for _, field := range []struct{ key, label string }{
		{"email", "Email"},
		{"password", "Mot de passe"},
		{"username", "Nom d'utilisateur"},
	} {
		if msg, ok := env.First(field.key); ok {
			f.Message = field.label + ": " + msg
			return f
		}
	}
	f.Message = firstMessage(env, msgRegisterFail, "non_field_errors", "detail")
	return f
}

func firstMessage(env ErrorEnvelope, fallback string, keys ...string) string {
	for _, k := range keys {
		if msg, ok := env.First(k); ok {
			return msg
		}
	}
	return fallback
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthorized
}
