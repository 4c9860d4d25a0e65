// Package application concentra os casos de uso do motor de proteção:
// resolução de política, janela de uso, detecção de burst, controle
// adaptativo, ciclo de vida de sanções e a fachada de decisão.
//
// Nada aqui conhece net/http nem implementações concretas de storage;
// tudo entra pelos contratos do pacote domain.
package application
