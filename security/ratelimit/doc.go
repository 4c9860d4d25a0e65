// Package ratelimit fornece o adapter HTTP (net/http) do motor de proteção
// contra abuso do serviço de identidade.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (config, janela, burst, adaptativo, sanção,
//     fachada de decisão) sem net/http
//   - infra: implementações concretas (memória, Redis, throttle, sinks)
//   - ratelimit (este pacote): middleware HTTP + extração de identificador
//     + tradução do veredito para status/headers
//
// Fluxo num endpoint protegido:
//
//  1. Extrai o identificador do chamador (header/XFF/RemoteAddr)
//  2. Chama a fachada de decisão com a action da rota
//  3. Se negado, responde 429 com Retry-After e a causa estruturada
//  4. Se admitido, chama o próximo handler
//
// Variáveis de ambiente do binário guard (cmd/guard) controlam o
// comportamento, como STORE_BACKEND, REDIS_ADDR e METRICS_ENABLED.
package ratelimit
