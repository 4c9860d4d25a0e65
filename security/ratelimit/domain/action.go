package domain

// Action é a categoria de operação protegida pelo motor.
//
// O conjunto é fechado: uma action desconhecida é erro de entrada
// (ErrUnknownAction), nunca um fallback silencioso para um default.
type Action string

const (
	ActionLogin             Action = "login"
	ActionAPIRequest        Action = "api_request"
	ActionPasswordReset     Action = "password_reset"
	ActionRegistration      Action = "registration"
	ActionEmailVerification Action = "email_verification"
	ActionMFAAttempt        Action = "mfa_attempt"
	ActionBiometricAuth     Action = "biometric_auth"
	ActionHandleSearch      Action = "handle_search"
)

var knownActions = map[Action]bool{
	ActionLogin:             true,
	ActionAPIRequest:        true,
	ActionPasswordReset:     true,
	ActionRegistration:      true,
	ActionEmailVerification: true,
	ActionMFAAttempt:        true,
	ActionBiometricAuth:     true,
	ActionHandleSearch:      true,
}

// Valid informa se a action pertence ao conjunto fechado.
func (a Action) Valid() bool { return knownActions[a] }

func (a Action) String() string { return string(a) }

// ParseAction converte uma string (ex: vinda de config/rota) em Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", ErrUnknownAction
	}
	return a, nil
}

// Actions retorna o conjunto de actions conhecidas, em ordem estável.
func Actions() []Action {
	return []Action{
		ActionLogin,
		ActionAPIRequest,
		ActionPasswordReset,
		ActionRegistration,
		ActionEmailVerification,
		ActionMFAAttempt,
		ActionBiometricAuth,
		ActionHandleSearch,
	}
}
