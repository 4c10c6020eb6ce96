// Package roster discovers which assistants are available to the
// moderator. Assistants register by dropping a JSON descriptor file into a
// shared directory; the moderator rereads the directory at the start of
// every episode, so assistants can come and go between conversations.
package roster
