// Package providerspec describes the handful of LLM providers automaker knows
// how to talk to: their API shape and default environment variable.
package providerspec

import "strings"

type APIProtocol string

const (
	ProtocolAnthropicMessages     APIProtocol = "anthropic_messages"
	ProtocolOpenAIChatCompletions APIProtocol = "openai_chat_completions"
	ProtocolGoogleGenerateContent APIProtocol = "google_generate_content"
)

// APISpec describes how to reach a provider's HTTP API.
type APISpec struct {
	Protocol         APIProtocol
	DefaultBaseURL   string
	DefaultPath      string
	DefaultAPIKeyEnv string
}

// Spec is a provider's full descriptor, keyed by its canonical name.
type Spec struct {
	Key     string
	Aliases []string
	API     *APISpec
}

var builtinSpecs = map[string]Spec{
	"anthropic": {
		Key:     "anthropic",
		Aliases: []string{"claude"},
		API: &APISpec{
			Protocol:         ProtocolAnthropicMessages,
			DefaultBaseURL:   "https://api.anthropic.com",
			DefaultPath:      "/v1/messages",
			DefaultAPIKeyEnv: "ANTHROPIC_API_KEY",
		},
	},
	"google": {
		Key:     "google",
		Aliases: []string{"gemini"},
		API: &APISpec{
			Protocol:         ProtocolGoogleGenerateContent,
			DefaultBaseURL:   "https://generativelanguage.googleapis.com",
			DefaultPath:      "/v1beta/models",
			DefaultAPIKeyEnv: "GOOGLE_API_KEY",
		},
	},
}

// Builtins returns the known provider specs, keyed by canonical name.
func Builtins() map[string]Spec {
	return builtinSpecs
}

func Get(name string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(name)]
	return s, ok
}

var providerAliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]string {
	out := map[string]string{}
	for key, spec := range builtinSpecs {
		out[key] = key
		for _, alias := range spec.Aliases {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

// CanonicalProviderKey normalizes a provider name or alias (e.g. "claude",
// "gemini") to its canonical key ("anthropic", "google").
func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := providerAliasIndex[key]; ok {
		return canonical
	}
	return key
}
