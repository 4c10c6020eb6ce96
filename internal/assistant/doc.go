// Package assistant provides the runtime shared by every specialist on the
// network: a receive loop that remembers chat context, answers exactly one
// ChatMessage per RequestToSpeak addressed to it, and resets its private
// memory when control returns to the user. Concrete capabilities live in
// the subpackages (math, websurfer, filerag, weather) behind the Task
// interface.
package assistant
