// Package quake holds the earthquake domain model together with the two
// pure steps of a cycle: deciding whether an event is published and
// formatting it into a post.
package quake
