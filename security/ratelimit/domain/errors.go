package domain

import "errors"

// Taxonomia de erros do motor:
//
//   - infraestrutura: ErrStoreUnavailable — o chamador escolhe fail-open
//     ou fail-closed;
//   - entrada inválida: ErrUnknownAction, ErrInvalidConfig,
//     ErrEmptyIdentifier — rejeitadas sincronamente, nunca defaultadas;
//   - violação de política: NÃO é erro, é um Verdict com Allowed=false.
var (
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrUnknownAction    = errors.New("unknown rate limit action")
	ErrInvalidConfig    = errors.New("invalid rate limit config")
	ErrEmptyIdentifier  = errors.New("empty identifier")
	ErrRuleNotFound     = errors.New("adaptive rule not found")
)

// IsStoreError informa se err veio do backing store (infraestrutura).
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
