// Package llm provides a chat-completion client for the model backends
// the system supports: openai, azure, ollama, and mistral. All four speak
// the OpenAI chat-completions shape; azure differs only in endpoint layout
// and auth header.
package llm
