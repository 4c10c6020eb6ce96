// Package envelope defines the wire schema shared by every participant on
// the chat space: a tagged-union JSON object with a "type" discriminator
// resolving to either a ChatMessage or a RequestToSpeak.
//
// The codec is the single place raw bytes become typed messages. Decoders
// ignore unknown fields so older participants keep working when the schema
// grows; a missing discriminator or a missing required field is a
// *DecodeError, which receivers log and drop without touching their state.
package envelope
