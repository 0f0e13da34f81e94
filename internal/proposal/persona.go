package proposal

import (
	"regexp"
	"strings"
)

// Project archetypes used to pick a persona hint for the prompt.
const (
	ArchetypeFrontend  = "frontend"
	ArchetypeBackend   = "backend"
	ArchetypeAI        = "ai"
	ArchetypeMobile    = "mobile"
	ArchetypeFullstack = "fullstack"
	ArchetypeGeneral   = "general"
)

var archetypePatterns = map[string]*regexp.Regexp{
	ArchetypeFrontend:  regexp.MustCompile(`react|vue|angular|javascript|html|css|frontend|ui/ux|figma|tailwind|bootstrap|jquery|dom`),
	ArchetypeBackend:   regexp.MustCompile(`python|django|flask|fastapi|node|express|sql|database|aws|backend|api|server|postgres|mysql|mongodb|docker`),
	ArchetypeAI:        regexp.MustCompile(`\bai\b|llm|gpt|openai|machine learning|nlp|vision|tensorflow|pytorch|\brag\b|chatbot|langchain|huggingface`),
	ArchetypeMobile:    regexp.MustCompile(`ios|android|flutter|react native|swift|kotlin|mobile app|\bipa\b|\bapk\b`),
	ArchetypeFullstack: regexp.MustCompile(`fullstack|full stack|mern|mean|web application|end-to-end`),
}

var personaHints = map[string]string{
	ArchetypeFrontend:  "Focus on UX/UI details, responsiveness, and component reusability. Mention specific framework expertise.",
	ArchetypeBackend:   "Emphasize system architecture, API security, database optimization, and scalability.",
	ArchetypeAI:        "Highlight experience with LLMs, RAG pipelines, prompt engineering, and Python data stacks.",
	ArchetypeMobile:    "Focus on cross-platform performance, native feel, and store deployment experience.",
	ArchetypeFullstack: "Demonstrate end-to-end capability, from database design to frontend state management.",
	ArchetypeGeneral:   "Professional developer focusing on clean code, timely delivery, and clear communication.",
}

// DetectArchetype classifies a project by keyword hits in its title and
// description. Fullstack wins on any explicit match, or when frontend
// and backend keywords both appear.
func DetectArchetype(title, description string) string {
	text := strings.ToLower(title + " " + description)

	hits := map[string]int{}
	for archetype, pattern := range archetypePatterns {
		hits[archetype] = len(pattern.FindAllString(text, -1))
	}

	if hits[ArchetypeFullstack] > 0 {
		return ArchetypeFullstack
	}
	if hits[ArchetypeFrontend] >= 1 && hits[ArchetypeBackend] >= 1 {
		return ArchetypeFullstack
	}

	best, bestHits := ArchetypeGeneral, 0
	for _, archetype := range []string{ArchetypeFrontend, ArchetypeBackend, ArchetypeAI, ArchetypeMobile} {
		if hits[archetype] > bestHits {
			best, bestHits = archetype, hits[archetype]
		}
	}
	return best
}

// PersonaHint returns the prompt hint for an archetype, defaulting to
// the general persona for unknown keys.
func PersonaHint(archetype string) string {
	if hint, ok := personaHints[archetype]; ok {
		return hint
	}
	return personaHints[ArchetypeGeneral]
}
