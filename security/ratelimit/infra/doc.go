// Package infra traz as implementações concretas dos contratos do domain:
// store em memória (instância única, testes), store em Redis (réplicas
// compartilhando limite global), throttle de slowdown, sinks de estatística
// (memória, Redis, Prometheus) e sinks de alerta/auditoria.
//
// Os algoritmos do motor não mudam entre implementações; só a garantia de
// atomicidade muda de lock por chave (memória) para INCR com TTL (Redis).
package infra
