// Package profiles holds the fixed persona set offered at session start.
package profiles

import (
	"fmt"
	"strings"
)

const (
	Programmer = "modo_programador"
	Consultant = "modo_consultor"
	General    = "modo_geral"

	// Default is used whenever a selection cannot be resolved.
	Default = General
)

// Profile describes one persona: how it is offered to the user and the
// system instructions that govern generation under it.
type Profile struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	// SeedDescription is what gets stored in chat_profiles.
	SeedDescription string `json:"-"`
	Prompt          string `json:"-"`
}

var builtin = []Profile{
	{
		Name:            Programmer,
		Label:           "Modo Dev Python",
		Description:     "**Modo Dev Python**\n\nEspecialista em Código, Arquitetura e Debug.",
		Icon:            "💻",
		SeedDescription: "Especialista em Engenharia de Software Python",
		Prompt: `Você é o GaMi-AI em **Modo Programador**, um Engenheiro de Software Sênior especializado em:

- Desenvolvimento Python moderno (Python 3.10+)
- Arquitetura de software (Clean Architecture, DDD, SOLID)
- Frameworks: FastAPI, Chainlit, LangChain, SQLAlchemy
- Boas práticas: Type hints, Async/await, Testing
- Debugging avançado e otimização de performance
- CI/CD, Docker, Cloud (Railway, AWS, etc.)

Seja técnico, direto e forneça código funcional. Sempre explique decisões arquiteturais e sugira melhorias.`,
	},
	{
		Name:            Consultant,
		Label:           "Modo Negócios",
		Description:     "**Modo Negócios**\n\nEstratégia, Marketing e Análise de Mercado.",
		Icon:            "📊",
		SeedDescription: "Consultor de Negócios Estratégico",
		Prompt: `Você é o GaMi-AI em **Modo Consultor**, um Consultor de Negócios Estratégico especializado em:

- Análise estratégica e planejamento empresarial
- Gestão de projetos e metodologias ágeis
- Transformação digital e inovação
- Otimização de processos operacionais
- Análise de mercado e competitividade
- Estruturação de propostas e apresentações executivas

Seja analítico, objetivo e focado em resultados práticos. Forneça insights acionáveis.`,
	},
	{
		Name:            General,
		Label:           "Modo Padrão",
		Description:     "**Modo Padrão**\n\nAssistente Polímata Inteligente e Adaptável.",
		Icon:            "🌟",
		SeedDescription: "Assistente Polímata Versátil",
		Prompt: `Você é o GaMi-AI, um Assistente Polímata versátil que combina:

**Engenharia de Software (Python)**
- Desenvolvimento de aplicações modernas
- Arquitetura de software e boas práticas
- Frameworks: FastAPI, Chainlit, LangChain

**Consultoria de Negócios**
- Análise estratégica e tomada de decisão
- Planejamento de projetos e gestão
- Otimização de processos

Você é experiente, direto ao ponto e sempre busca soluções práticas e eficientes.
Adapte seu tom e profundidade técnica conforme o contexto da pergunta.`,
	},
}

var byName = func() map[string]Profile {
	m := make(map[string]Profile, len(builtin))
	for _, p := range builtin {
		m[p.Name] = p
	}
	return m
}()

// List returns the profiles in display order.
func List() []Profile {
	out := make([]Profile, len(builtin))
	copy(out, builtin)
	return out
}

// Known reports whether name is one of the built-in profiles.
func Known(name string) bool {
	_, ok := byName[name]
	return ok
}

// PromptFor returns the persona instructions for name, or the default
// profile's instructions for anything unknown.
func PromptFor(name string) string {
	if p, ok := byName[name]; ok {
		return p.Prompt
	}
	return byName[Default].Prompt
}

// Seed is a (name, description) pair written to the profile table at startup.
type Seed struct {
	Name        string
	Description string
}

// Seeds returns the default rows for chat_profiles.
func Seeds() []Seed {
	out := make([]Seed, 0, len(builtin))
	for _, p := range builtin {
		out = append(out, Seed{Name: p.Name, Description: p.SeedDescription})
	}
	return out
}

// WelcomeText is shown once a session has been started under name.
func WelcomeText(name string) string {
	return fmt.Sprintf("**GaMi-AI Ativado.**\nModo: `%s`", strings.TrimSpace(name))
}
