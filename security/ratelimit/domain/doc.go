// Package domain define contratos e tipos de domínio do motor de rate limit
// e proteção contra abuso do serviço de identidade.
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, memória, Prometheus). A intenção é permitir testes de unidade
// puros e desacoplar as regras de negócio de detalhes de infraestrutura.
package domain
